package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "guardian.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	def := Default()
	assert.Equal(t, def.Guardian, cfg.Guardian)
	assert.Equal(t, def.Tracing, cfg.Tracing)
	assert.Equal(t, def.Metrics, cfg.Metrics)
	assert.Equal(t, def.Persistence, cfg.Persistence)
	assert.True(t, cfg.Notifications.Console.Enabled)
	assert.Equal(t, 256, cfg.Notifications.Buffer)
	assert.Empty(t, cfg.Notifications.Webhook.URL)
	assert.Equal(t, 5, cfg.Notifications.Webhook.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Notifications.Webhook.Cooldown)
	assert.Equal(t, 5*time.Second, cfg.Guardian.RetryDelay)
	assert.Equal(t, 3, cfg.Guardian.MaxRetryAttempts)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
guardian:
  max_concurrent_tasks: 5
  retry_delay: 2s
  auto_retry_failed_tasks: false
logging:
  level: debug
  format: json
notifications:
  console:
    enabled: false
  webhook:
    url: https://hooks.example.com/guardian
    timeout: 3s
    headers:
      X-Token: abc
`)
	cfg, err := Load(path, nil)
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Guardian.MaxConcurrentTasks)
	assert.Equal(t, 2*time.Second, cfg.Guardian.RetryDelay)
	assert.False(t, cfg.Guardian.AutoRetryFailedTasks)
	assert.Equal(t, 3, cfg.Guardian.MaxRetryAttempts)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.False(t, cfg.Notifications.Console.Enabled)
	assert.True(t, cfg.Notifications.Console.Color)
	assert.Equal(t, "https://hooks.example.com/guardian", cfg.Notifications.Webhook.URL)
	assert.Equal(t, 3*time.Second, cfg.Notifications.Webhook.Timeout)
	assert.Equal(t, "abc", cfg.Notifications.Webhook.Headers["x-token"])
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, "guardian:\n  max_retry_attempts: 1\n")
	t.Setenv("GUARDIAN_GUARDIAN_MAX_RETRY_ATTEMPTS", "7")
	t.Setenv("GUARDIAN_LOGGING_LEVEL", "warn")
	t.Setenv("GUARDIAN_METRICS_ENABLED", "true")

	cfg, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Guardian.MaxRetryAttempts)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestExplicitViperValuesWin(t *testing.T) {
	v := viper.New()
	v.Set("metrics.addr", "127.0.0.1:9999")
	v.Set("guardian.persistence_enabled", true)
	v.Set("persistence.path", "/tmp/journal.db")

	cfg, err := Load("", v)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9999", cfg.Metrics.Addr)
	assert.True(t, cfg.Guardian.PersistenceEnabled)
	assert.Equal(t, "/tmp/journal.db", cfg.Persistence.Path)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "negative retry attempts", mutate: func(c *Config) { c.Guardian.MaxRetryAttempts = -1 }},
		{name: "negative buffer", mutate: func(c *Config) { c.Notifications.Buffer = -1 }},
		{name: "negative webhook threshold", mutate: func(c *Config) { c.Notifications.Webhook.FailureThreshold = -1 }},
		{name: "bad webhook url", mutate: func(c *Config) { c.Notifications.Webhook.URL = "ftp://example.com" }},
		{name: "persistence without path", mutate: func(c *Config) {
			c.Guardian.PersistenceEnabled = true
			c.Persistence.Path = " "
		}},
		{name: "unknown exporter", mutate: func(c *Config) { c.Tracing.Exporter = "jaeger" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			require.ErrorIs(t, cfg.Validate(), ErrInvalidConfig)
		})
	}
	require.NoError(t, Default().Validate())
}

func TestLoadRejectsInvalidFile(t *testing.T) {
	path := writeConfig(t, "guardian:\n  retry_jitter: 3\n")
	_, err := Load(path, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}
