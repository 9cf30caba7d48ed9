package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/clinisys/diarocore/internal/config"
	"github.com/clinisys/diarocore/internal/export"
)

func exportCommand(settings *config.Settings) *cobra.Command {
	var artifactPath, exportedBy, dataSource, formatStr, purposeStr string
	var includesPII bool

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Build and write a sidecar manifest for an artifact about to leave the archive",
		RunE: func(cmd *cobra.Command, args []string) error {
			artifactBytes, err := os.ReadFile(artifactPath)
			if err != nil {
				return fmt.Errorf("read artifact: %w", err)
			}

			manifest, err := export.Build(artifactBytes, export.Request{
				ExportedBy:  exportedBy,
				DataSource:  dataSource,
				Format:      export.Format(formatStr),
				Purpose:     export.Purpose(purposeStr),
				IncludesPII: includesPII,
			})
			if err != nil {
				return err
			}

			encoded, err := export.MarshalSidecar(manifest)
			if err != nil {
				return err
			}

			sidecarPath := export.SidecarName(artifactPath)
			if err := os.WriteFile(sidecarPath, encoded, 0o644); err != nil {
				return fmt.Errorf("write manifest sidecar: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), sidecarPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&artifactPath, "artifact-path", "", "path to the artifact bytes being exported")
	cmd.Flags().StringVar(&exportedBy, "exported-by", "", "identity of the exporting actor")
	cmd.Flags().StringVar(&dataSource, "data-source", "", "archive path or job_id the artifact was derived from")
	cmd.Flags().StringVar(&formatStr, "format", string(export.FormatJSON), "artifact format: MARKDOWN|JSON|BINARY|CSV|TEXT")
	cmd.Flags().StringVar(&purposeStr, "purpose", string(export.PurposePersonalReview), "export purpose")
	cmd.Flags().BoolVar(&includesPII, "includes-pii", false, "whether the artifact includes PII")
	_ = cmd.MarkFlagRequired("artifact-path")
	_ = cmd.MarkFlagRequired("exported-by")
	_ = cmd.MarkFlagRequired("data-source")

	return cmd
}
