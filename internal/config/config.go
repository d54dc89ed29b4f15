// Package config loads mosaic configuration from <workspace>/.mosaic/config.yaml.
// Environment variables override file values after parse.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds all mosaic configuration.
type Config struct {
	// ReadOnly disables the mutating tools (write, edit, create_directory, bash).
	ReadOnly bool `yaml:"read_only"`

	// Approvals gates interactive approval prompts and shell snapshotting.
	// When false, dangerous commands run without a prompt and without
	// snapshot-based change tracking.
	Approvals bool `yaml:"approvals"`

	// Execution settings for the bash tool.
	Execution ExecutionConfig `yaml:"execution"`

	// Fetch settings for the fetch tool.
	Fetch FetchConfig `yaml:"fetch"`

	// Logging settings for internal/logging.
	Logging LoggingConfig `yaml:"logging"`
}

// ExecutionConfig bounds shell command execution.
type ExecutionConfig struct {
	DefaultTimeoutMs int `yaml:"default_timeout_ms"`
	MaxTimeoutMs     int `yaml:"max_timeout_ms"`
}

// FetchConfig bounds the fetch tool.
type FetchConfig struct {
	MaxBodyBytes int64 `yaml:"max_body_bytes"`
	TimeoutMs    int   `yaml:"timeout_ms"`
}

// LoggingConfig mirrors logging.Settings.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Categories map[string]bool `yaml:"categories"`
	Level      string          `yaml:"level"`
	JSONFormat bool            `yaml:"json_format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ReadOnly:  false,
		Approvals: true,
		Execution: ExecutionConfig{
			DefaultTimeoutMs: 30000,
			MaxTimeoutMs:     90000,
		},
		Fetch: FetchConfig{
			MaxBodyBytes: 2 << 20,
			TimeoutMs:    30000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the config file under the workspace root. A missing file yields
// the defaults; a malformed file is an error.
func Load(workspace string) (*Config, error) {
	cfg := Default()

	path := filepath.Join(workspace, ".mosaic", "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	normalize(cfg)
	applyEnvOverrides(cfg)
	return cfg, nil
}

// normalize clamps zero values back to defaults after unmarshal.
func normalize(cfg *Config) {
	def := Default()
	if cfg.Execution.DefaultTimeoutMs <= 0 {
		cfg.Execution.DefaultTimeoutMs = def.Execution.DefaultTimeoutMs
	}
	if cfg.Execution.MaxTimeoutMs <= 0 {
		cfg.Execution.MaxTimeoutMs = def.Execution.MaxTimeoutMs
	}
	if cfg.Execution.DefaultTimeoutMs > cfg.Execution.MaxTimeoutMs {
		cfg.Execution.DefaultTimeoutMs = cfg.Execution.MaxTimeoutMs
	}
	if cfg.Fetch.MaxBodyBytes <= 0 {
		cfg.Fetch.MaxBodyBytes = def.Fetch.MaxBodyBytes
	}
	if cfg.Fetch.TimeoutMs <= 0 {
		cfg.Fetch.TimeoutMs = def.Fetch.TimeoutMs
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = def.Logging.Level
	}
}

// applyEnvOverrides applies environment variables on top of file values.
//
//	MOSAIC_READONLY=1   force read-only mode
//	MOSAIC_APPROVALS=0  disable approval prompts and snapshotting
func applyEnvOverrides(cfg *Config) {
	if isTruthy(os.Getenv("MOSAIC_READONLY")) {
		cfg.ReadOnly = true
	}
	if v, ok := os.LookupEnv("MOSAIC_APPROVALS"); ok && !isTruthy(v) {
		cfg.Approvals = false
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}
