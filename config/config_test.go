package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bicep-lsp.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefault(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvMetricsAddr, "")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 256, cfg.Telemetry.QueueSize)
	assert.Equal(t, "none", cfg.Metrics.TraceExporter)
	assert.Empty(t, cfg.Metrics.Addr)
}

func TestLoadFile(t *testing.T) {
	t.Setenv(EnvLogLevel, "")
	t.Setenv(EnvMetricsAddr, "")

	path := writeConfig(t, `
log:
  level: debug
  file: /tmp/bicep-lsp.log
telemetry:
  queue_size: 8
  send_timeout: 250ms
completion:
  eager_commands: true
code_actions:
  suppress_errors: true
metrics:
  addr: 127.0.0.1:9464
  trace_exporter: stdout
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "/tmp/bicep-lsp.log", cfg.Log.File)
	assert.Equal(t, 8, cfg.Telemetry.QueueSize)
	assert.Equal(t, 250*time.Millisecond, cfg.Telemetry.SendTimeout)
	assert.Empty(t, cfg.Completion.Snippets, "unset keys keep defaults")
	assert.True(t, cfg.Completion.EagerCommands)
	assert.True(t, cfg.CodeActions.SuppressErrors)
	assert.Equal(t, "127.0.0.1:9464", cfg.Metrics.Addr)
	assert.Equal(t, "stdout", cfg.Metrics.TraceExporter)
	assert.Equal(t, "bicep-lsp", cfg.Server.Name)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvMetricsAddr, ":9999")

	cfg, err := Load(writeConfig(t, "log:\n  level: debug\nmetrics:\n  addr: :1\n"))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, ":9999", cfg.Metrics.Addr)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "telemetry: [1, 2]\n"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, "telemetry:\n  queue_size: 0\n"))
	assert.ErrorIs(t, err, ErrInvalid)

	_, err = Load(writeConfig(t, "metrics:\n  trace_exporter: jaeger\n"))
	assert.ErrorIs(t, err, ErrInvalid)
}
