package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/clinisys/diarocore/internal/config"
)

// RootCommand builds the diarocore CLI, following the teacher's
// cmd/root.go RootCommand(settings) shape: one root command, one
// wired app shared by every subcommand's RunE closure.
func RootCommand(settings *config.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "diarocore",
		Short: "Clinical-audio diarization scheduling and persistence engine",
	}

	rootCmd.AddCommand(
		submitCommand(settings),
		statusCommand(settings),
		cancelCommand(settings),
		exportCommand(settings),
		lintEventsCommand(),
	)

	return rootCmd
}

func submitCommand(settings *config.Settings) *cobra.Command {
	var sessionID, audioPath, audioHash, language string
	var durationSec float64
	var highPriority bool

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new diarization job",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(settings)
			if err != nil {
				return err
			}
			defer a.Close()

			jobCfg := config.DefaultJobConfig()
			// The Transcription Worker's real ASR/classifier adapters are
			// an external collaborator wired by deployment, not by this
			// CLI; submit fails fast without one configured rather than
			// silently no-opping.
			if a.scheduler == nil {
				return fmt.Errorf("no ASR adapter configured: wire one via the deployment's adapter registration before calling submit")
			}

			jobID, err := a.scheduler.Submit(cmd.Context(), sessionID, audioPath, audioHash, language, durationSec, jobCfg, highPriority)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), jobID)
			return nil
		},
	}

	cmd.Flags().StringVar(&sessionID, "session-id", "", "clinical session identifier")
	cmd.Flags().StringVar(&audioPath, "audio-path", "", "path to the source audio file")
	cmd.Flags().StringVar(&audioHash, "audio-hash", "", "content hash of the source audio")
	cmd.Flags().StringVar(&language, "language", "", "ISO language hint for the ASR adapter")
	cmd.Flags().Float64Var(&durationSec, "duration-sec", 0, "audio duration in seconds")
	cmd.Flags().BoolVar(&highPriority, "high-priority", false, "record the job as high_priority (admission order and CPU gating are unchanged)")
	_ = cmd.MarkFlagRequired("session-id")
	_ = cmd.MarkFlagRequired("audio-path")
	_ = cmd.MarkFlagRequired("audio-hash")
	_ = cmd.MarkFlagRequired("duration-sec")

	return cmd
}

func statusCommand(settings *config.Settings) *cobra.Command {
	var jobID string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Print a job's current status and chunk progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(settings)
			if err != nil {
				return err
			}
			defer a.Close()

			view, err := a.registry.Status(jobID)
			if err != nil {
				return err
			}
			encoded, err := json.MarshalIndent(view, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(encoded))
			return nil
		},
	}
	cmd.Flags().StringVar(&jobID, "job-id", "", "job identifier")
	_ = cmd.MarkFlagRequired("job-id")
	return cmd
}

func cancelCommand(settings *config.Settings) *cobra.Command {
	var jobID string
	cmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a pending or in-progress job",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(settings)
			if err != nil {
				return err
			}
			defer a.Close()

			if a.scheduler == nil {
				return fmt.Errorf("scheduler is not wired in this process")
			}
			ok, err := a.scheduler.Cancel(jobID)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ok)
			return nil
		},
	}
	cmd.Flags().StringVar(&jobID, "job-id", "", "job identifier")
	_ = cmd.MarkFlagRequired("job-id")
	return cmd
}
