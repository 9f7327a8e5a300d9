// Package config loads run-level configuration and the tabular layer list.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// RunConfig holds the run-level knobs of the audit pipeline. These are plain
// parameters, not environment-coupled.
type RunConfig struct {
	// SampleSize is the per-layer feature sample cap.
	SampleSize int `yaml:"sample_size"`

	// TimeoutSeconds bounds each individual HTTP request.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// Retries is the retry count after the first attempt.
	Retries int `yaml:"retries"`

	// DelaySeconds is the minimum inter-request delay, run-wide.
	DelaySeconds float64 `yaml:"delay_seconds"`

	// Workers bounds parallel layer processing. 1 = sequential.
	Workers int `yaml:"workers"`

	// OutputDir receives reports, per-layer issue JSON, and logs.
	OutputDir string `yaml:"output_dir"`

	// HistoryDB, when set, enables the sqlite run-history store.
	HistoryDB string `yaml:"history_db"`

	Logging LoggingConfig `yaml:"logging"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// DefaultRunConfig returns the documented defaults.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		SampleSize:     200,
		TimeoutSeconds: 20,
		Retries:        2,
		DelaySeconds:   0.2,
		Workers:        1,
		OutputDir:      "outputs",
		Logging:        LoggingConfig{Level: "info"},
	}
}

// LoadRunConfig reads a YAML run config, layering it over the defaults.
func LoadRunConfig(path string) (RunConfig, error) {
	cfg := DefaultRunConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read run config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse run config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects out-of-range knobs.
func (c RunConfig) Validate() error {
	if c.SampleSize <= 0 {
		return fmt.Errorf("sample_size must be positive, got %d", c.SampleSize)
	}
	if c.TimeoutSeconds <= 0 {
		return fmt.Errorf("timeout_seconds must be positive, got %d", c.TimeoutSeconds)
	}
	if c.Retries < 0 {
		return fmt.Errorf("retries must not be negative, got %d", c.Retries)
	}
	if c.DelaySeconds < 0 {
		return fmt.Errorf("delay_seconds must not be negative, got %g", c.DelaySeconds)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	return nil
}

// Timeout returns the per-request timeout as a duration.
func (c RunConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Delay returns the inter-request pacing as a duration.
func (c RunConfig) Delay() time.Duration {
	return time.Duration(c.DelaySeconds * float64(time.Second))
}
