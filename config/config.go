// Package config loads the language server configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvLogLevel    = "BICEP_LSP_LOG_LEVEL"
	EnvMetricsAddr = "BICEP_LSP_METRICS_ADDR"
)

// ErrInvalid is returned when a configuration value is out of range.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete server configuration.
type Config struct {
	Log         Log         `yaml:"log"`
	Server      Server      `yaml:"server"`
	Telemetry   Telemetry   `yaml:"telemetry"`
	Completion  Completion  `yaml:"completion"`
	CodeActions CodeActions `yaml:"code_actions"`
	Metrics     Metrics     `yaml:"metrics"`
}

// Log configures the zap logger. Output must never be stdout, which carries the protocol.
type Log struct {
	Level       string `yaml:"level"`
	File        string `yaml:"file"`
	Development bool   `yaml:"development"`
}

// Server identifies the language server to clients.
type Server struct {
	Name string `yaml:"name"`
}

// Telemetry configures the telemetry/event emitter.
type Telemetry struct {
	QueueSize   int           `yaml:"queue_size"`
	SendTimeout time.Duration `yaml:"send_timeout"`
}

// Completion configures snippet completion.
type Completion struct {
	// EagerCommands attaches telemetry commands to candidates without waiting for resolve.
	EagerCommands bool `yaml:"eager_commands"`
	// Snippets is an optional YAML catalog replacing the built-in one.
	Snippets string `yaml:"snippets"`
}

// CodeActions configures the suppression quick fixes.
type CodeActions struct {
	SuppressErrors bool `yaml:"suppress_errors"`
}

// Metrics configures the OpenTelemetry exporters.
type Metrics struct {
	// Addr serves Prometheus metrics on /metrics when set.
	Addr string `yaml:"addr"`
	// TraceExporter is "none" or "stdout" (spans are written to stderr).
	TraceExporter string `yaml:"trace_exporter"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Log:    Log{Level: getEnvOr(EnvLogLevel, "info")},
		Server: Server{Name: "bicep-lsp"},
		Telemetry: Telemetry{
			QueueSize:   256,
			SendTimeout: 5 * time.Second,
		},
		Metrics: Metrics{
			Addr:          getEnvOr(EnvMetricsAddr, ""),
			TraceExporter: "none",
		},
	}
}

// Load reads path over the defaults. An empty path returns Default.
// Environment variables take precedence over the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv(EnvMetricsAddr); v != "" {
		cfg.Metrics.Addr = v
	}
	return cfg, cfg.Validate()
}

// Validate checks value ranges.
func (c Config) Validate() error {
	if c.Telemetry.QueueSize <= 0 {
		return fmt.Errorf("%w: telemetry.queue_size must be positive, got %d", ErrInvalid, c.Telemetry.QueueSize)
	}
	if c.Telemetry.SendTimeout <= 0 {
		return fmt.Errorf("%w: telemetry.send_timeout must be positive, got %s", ErrInvalid, c.Telemetry.SendTimeout)
	}
	switch c.Metrics.TraceExporter {
	case "", "none", "stdout":
	default:
		return fmt.Errorf("%w: unknown metrics.trace_exporter %q", ErrInvalid, c.Metrics.TraceExporter)
	}
	return nil
}

func getEnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
