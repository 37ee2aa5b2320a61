package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDefaultsValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 4, cfg.MaxConcurrency)
	assert.Equal(t, 30, cfg.RateLimit.RequestsPerMinute)
	assert.True(t, cfg.Cache.Enabled)
}

func TestMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadMergesWithDefaults(t *testing.T) {
	path := writeConfig(t, `
max_concurrency: 8
timeout: 90s
log_level: debug
rate_limit:
  requests_per_minute: 10
breaker:
  open_timeout: 1m
pool:
  max_workers: 2
  command: claude
  args: ["-p", "--output-format", "json"]
cache:
  enabled: false
snapshot:
  interval: 5m
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.MaxConcurrency)
	assert.Equal(t, 90*time.Second, cfg.Timeout)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 10, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 500, cfg.RateLimit.RequestsPerHour, "untouched key keeps its default")
	assert.Equal(t, time.Minute, cfg.Breaker.OpenTimeout)
	assert.Equal(t, 2, cfg.Pool.MaxWorkers)
	assert.Equal(t, "claude", cfg.Pool.Command)
	assert.Equal(t, []string{"-p", "--output-format", "json"}, cfg.Pool.Args)
	assert.False(t, cfg.Cache.Enabled)
	assert.Equal(t, 5*time.Minute, cfg.Snapshot.Interval)
	assert.Equal(t, ".overseer/state.db", cfg.Snapshot.Path)
}

func TestExplicitZeroDisablesRateLimit(t *testing.T) {
	path := writeConfig(t, `
rate_limit:
  requests_per_minute: 0
  requests_per_hour: 0
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, 0, cfg.RateLimit.RequestsPerHour)
}

func TestMalformedYAML(t *testing.T) {
	path := writeConfig(t, "max_concurrency: [not a number\n")
	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestBadDuration(t *testing.T) {
	path := writeConfig(t, "timeout: banana\n")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid timeout format")
}

func TestLoadConfigFromDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".overseer"), 0o755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, ".overseer", "config.yaml"),
		[]byte("max_concurrency: 12\n"), 0o644))

	cfg, err := LoadConfigFromDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 12, cfg.MaxConcurrency)
}

func TestMergeWithFlags(t *testing.T) {
	cfg := DefaultConfig()

	conc := 16
	timeout := 2 * time.Hour
	level := "warn"
	cfg.MergeWithFlags(&conc, &timeout, nil, &level)

	assert.Equal(t, 16, cfg.MaxConcurrency)
	assert.Equal(t, 2*time.Hour, cfg.Timeout)
	assert.Equal(t, ".overseer/logs", cfg.LogDir, "nil flag leaves config value alone")
	assert.Equal(t, "warn", cfg.LogLevel)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero concurrency", func(c *Config) { c.MaxConcurrency = 0 }},
		{"negative poll", func(c *Config) { c.PollInterval = -time.Second }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
		{"negative rate limit", func(c *Config) { c.RateLimit.RequestsPerMinute = -1 }},
		{"zero breaker threshold", func(c *Config) { c.Breaker.FailureThreshold = 0 }},
		{"zero pool size", func(c *Config) { c.Pool.MaxWorkers = 0 }},
		{"empty cache", func(c *Config) { c.Cache.Size = 0 }},
		{"snapshot without path", func(c *Config) { c.Snapshot.Path = "" }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
