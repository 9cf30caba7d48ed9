// Package config loads and validates the intake-supplied job
// configuration and the core's own operating settings, following the
// teacher's viper-backed Settings style (nested structs, one
// viper.Unmarshal call) but scoped to the much smaller key set this
// core recognizes.
package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/clinisys/diarocore/internal/errs"
)

// Settings is the core's own process-level configuration: where the
// archive lives, who owns it, and the scheduler's global knobs. It is
// distinct from JobConfig (per-submission options from the intake
// boundary).
type Settings struct {
	Archive struct {
		Path         string `mapstructure:"path"`
		OwnerID      string `mapstructure:"owner_id"`
		OwnerSalt    string `mapstructure:"owner_salt"`
		MaxBatchRows int    `mapstructure:"max_batch_rows"`
	} `mapstructure:"archive"`

	Scheduler struct {
		MaxActiveJobs      int `mapstructure:"max_active_jobs"`
		MaxParallelChunks  int `mapstructure:"max_parallel_chunks"`
		WriteQueueCapacity int `mapstructure:"write_queue_capacity"`
	} `mapstructure:"scheduler"`

	Governor struct {
		IdleThresholdPct  float64 `mapstructure:"idle_threshold_pct"`
		WindowSec         int     `mapstructure:"window_sec"`
		SampleIntervalSec int     `mapstructure:"sample_interval_sec"`
	} `mapstructure:"governor"`

	Egress struct {
		AllowedHosts []string `mapstructure:"allowed_hosts"`
	} `mapstructure:"egress"`

	Logging struct {
		Level string `mapstructure:"level"`
	} `mapstructure:"logging"`
}

// setDefaults mirrors the teacher's setDefaultConfig: every recognized
// key gets an explicit default so a fresh install behaves sanely with
// an empty config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("archive.path", "./data/clinical.archive")
	v.SetDefault("archive.owner_salt", "")
	v.SetDefault("archive.max_batch_rows", 256)

	v.SetDefault("scheduler.max_active_jobs", 1)
	v.SetDefault("scheduler.max_parallel_chunks", 2)
	v.SetDefault("scheduler.write_queue_capacity", 64)

	v.SetDefault("governor.idle_threshold_pct", 50.0)
	v.SetDefault("governor.window_sec", 10)
	v.SetDefault("governor.sample_interval_sec", 1)

	v.SetDefault("egress.allowed_hosts", []string{})

	v.SetDefault("logging.level", "info")
}

// Load reads settings from the named config file (YAML/JSON/TOML, per
// viper's auto-detection), falling back to defaults for anything unset.
// An empty path still returns a fully-defaulted Settings.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, errs.New(err).Kind(errs.KindConfigRejected).
					Component("config").Context("path", path).Build()
			}
		}
	}

	var settings Settings
	if err := v.Unmarshal(&settings); err != nil {
		return nil, errs.New(err).Kind(errs.KindConfigRejected).
			Component("config").Build()
	}

	if err := validateSettings(&settings); err != nil {
		return nil, err
	}

	return &settings, nil
}

func validateSettings(s *Settings) error {
	if s.Archive.Path == "" {
		return errs.Newf("archive.path must not be empty").
			Kind(errs.KindConfigRejected).Component("config").Build()
	}
	if s.Scheduler.MaxActiveJobs < 1 {
		return errs.Newf("scheduler.max_active_jobs must be >= 1, got %d", s.Scheduler.MaxActiveJobs).
			Kind(errs.KindConfigRejected).Component("config").Build()
	}
	if s.Scheduler.MaxParallelChunks < 1 {
		return errs.Newf("scheduler.max_parallel_chunks must be >= 1, got %d", s.Scheduler.MaxParallelChunks).
			Kind(errs.KindConfigRejected).Component("config").Build()
	}
	if s.Governor.IdleThresholdPct < 0 || s.Governor.IdleThresholdPct > 100 {
		return errs.Newf("governor.idle_threshold_pct must be within [0,100], got %v", s.Governor.IdleThresholdPct).
			Kind(errs.KindConfigRejected).Component("config").Build()
	}
	return nil
}

// JobConfig is the per-submission configuration recognized at the
// intake boundary (spec.md §6). Unknown keys presented alongside these
// are rejected by ParseJobConfig before a job is ever created.
type JobConfig struct {
	ChunkSec                      float64 `mapstructure:"chunk_sec"`
	OverlapSec                    float64 `mapstructure:"overlap_sec"`
	MaxParallelChunks             int     `mapstructure:"max_parallel_chunks"`
	CPUIdleThresholdPct           float64 `mapstructure:"cpu_idle_threshold_pct"`
	CPUIdleWindowSec              int     `mapstructure:"cpu_idle_window_sec"`
	EnableSpeakerClassification   bool    `mapstructure:"enable_speaker_classification"`
	ASRLanguage                   string  `mapstructure:"asr_language"`
	ASRBeamSize                   int     `mapstructure:"asr_beam_size"`
	VADFilter                     bool    `mapstructure:"vad_filter"`
	MaxRetriesPerChunk            int     `mapstructure:"max_retries_per_chunk"`
	ChunkSoftTimeoutSec           int     `mapstructure:"chunk_soft_timeout_sec"`
	ChunkHardTimeoutSec           int     `mapstructure:"chunk_hard_timeout_sec"`
}

// knownJobConfigKeys is the exhaustive key set from spec.md §6; anything
// else in the raw submission map is a CONFIG_REJECTED error.
var knownJobConfigKeys = map[string]struct{}{
	"chunk_sec":                      {},
	"overlap_sec":                    {},
	"max_parallel_chunks":            {},
	"cpu_idle_threshold_pct":         {},
	"cpu_idle_window_sec":            {},
	"enable_speaker_classification":  {},
	"asr_language":                   {},
	"asr_beam_size":                  {},
	"vad_filter":                     {},
	"max_retries_per_chunk":          {},
	"chunk_soft_timeout_sec":         {},
	"chunk_hard_timeout_sec":         {},
}

// DefaultJobConfig returns the spec's documented defaults (§6).
func DefaultJobConfig() JobConfig {
	return JobConfig{
		ChunkSec:                     30,
		OverlapSec:                   0.8,
		MaxParallelChunks:            2,
		CPUIdleThresholdPct:          50,
		CPUIdleWindowSec:             10,
		EnableSpeakerClassification:  false,
		ASRLanguage:                  "",
		ASRBeamSize:                  5,
		VADFilter:                    true,
		MaxRetriesPerChunk:           3,
		ChunkSoftTimeoutSec:          540,
		ChunkHardTimeoutSec:          600,
	}
}

// ParseJobConfig merges raw (a submission-supplied option map) onto the
// documented defaults, rejecting any key not in the recognized set.
func ParseJobConfig(raw map[string]any) (JobConfig, error) {
	cfg := DefaultJobConfig()
	if len(raw) == 0 {
		return cfg, nil
	}

	var unknown []string
	for k := range raw {
		if _, ok := knownJobConfigKeys[k]; !ok {
			unknown = append(unknown, k)
		}
	}
	if len(unknown) > 0 {
		return JobConfig{}, errs.Newf("unrecognized config options: %s", strings.Join(unknown, ", ")).
			Kind(errs.KindConfigRejected).Component("config").Build()
	}

	v := viper.New()
	if err := v.MergeConfigMap(raw); err != nil {
		return JobConfig{}, errs.New(err).Kind(errs.KindConfigRejected).Component("config").Build()
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return JobConfig{}, errs.New(err).Kind(errs.KindConfigRejected).Component("config").Build()
	}

	if err := validateJobConfig(&cfg); err != nil {
		return JobConfig{}, err
	}
	return cfg, nil
}

func validateJobConfig(c *JobConfig) error {
	if c.ChunkSec <= 0 {
		return errs.Newf("chunk_sec must be > 0, got %v", c.ChunkSec).Kind(errs.KindConfigRejected).Build()
	}
	if c.OverlapSec < 0 || c.OverlapSec >= c.ChunkSec {
		return errs.Newf("overlap_sec must be within [0, chunk_sec), got %v", c.OverlapSec).Kind(errs.KindConfigRejected).Build()
	}
	if c.MaxParallelChunks < 1 {
		return errs.Newf("max_parallel_chunks must be >= 1, got %d", c.MaxParallelChunks).Kind(errs.KindConfigRejected).Build()
	}
	if c.CPUIdleThresholdPct < 0 || c.CPUIdleThresholdPct > 100 {
		return errs.Newf("cpu_idle_threshold_pct must be within [0,100], got %v", c.CPUIdleThresholdPct).Kind(errs.KindConfigRejected).Build()
	}
	if c.CPUIdleWindowSec < 1 {
		return errs.Newf("cpu_idle_window_sec must be >= 1, got %d", c.CPUIdleWindowSec).Kind(errs.KindConfigRejected).Build()
	}
	if c.MaxRetriesPerChunk < 0 {
		return errs.Newf("max_retries_per_chunk must be >= 0, got %d", c.MaxRetriesPerChunk).Kind(errs.KindConfigRejected).Build()
	}
	if c.ChunkSoftTimeoutSec <= 0 || c.ChunkHardTimeoutSec <= 0 {
		return errs.Newf("chunk timeout values must be > 0").Kind(errs.KindConfigRejected).Build()
	}
	if c.ChunkSoftTimeoutSec >= c.ChunkHardTimeoutSec {
		return errs.Newf("chunk_soft_timeout_sec (%d) must be < chunk_hard_timeout_sec (%d)",
			c.ChunkSoftTimeoutSec, c.ChunkHardTimeoutSec).Kind(errs.KindConfigRejected).Build()
	}
	return nil
}

// SoftTimeout returns the configured soft timeout as a time.Duration.
func (c JobConfig) SoftTimeout() time.Duration {
	return time.Duration(c.ChunkSoftTimeoutSec) * time.Second
}

// HardTimeout returns the configured hard timeout as a time.Duration.
func (c JobConfig) HardTimeout() time.Duration {
	return time.Duration(c.ChunkHardTimeoutSec) * time.Second
}

// Snapshot renders the config as a plain map for storage in the job's
// config_snapshot attribute, independent of viper/mapstructure tags.
func (c JobConfig) Snapshot() map[string]any {
	return map[string]any{
		"chunk_sec":                     c.ChunkSec,
		"overlap_sec":                   c.OverlapSec,
		"max_parallel_chunks":           c.MaxParallelChunks,
		"cpu_idle_threshold_pct":        c.CPUIdleThresholdPct,
		"cpu_idle_window_sec":           c.CPUIdleWindowSec,
		"enable_speaker_classification": c.EnableSpeakerClassification,
		"asr_language":                  c.ASRLanguage,
		"asr_beam_size":                 c.ASRBeamSize,
		"vad_filter":                    c.VADFilter,
		"max_retries_per_chunk":         c.MaxRetriesPerChunk,
		"chunk_soft_timeout_sec":        c.ChunkSoftTimeoutSec,
		"chunk_hard_timeout_sec":        c.ChunkHardTimeoutSec,
	}
}
