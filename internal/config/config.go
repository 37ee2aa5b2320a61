// Package config loads and validates overseer configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// RateLimitConfig tunes the request admission windows.
type RateLimitConfig struct {
	// RequestsPerMinute caps requests in any trailing 60s window (0 = unlimited)
	RequestsPerMinute int `yaml:"requests_per_minute"`

	// RequestsPerHour caps requests in any trailing 3600s window (0 = unlimited)
	RequestsPerHour int `yaml:"requests_per_hour"`

	// WaitTimeout is how long a task waits for a slot before failing
	WaitTimeout time.Duration `yaml:"wait_timeout"`
}

// BreakerConfig tunes the circuit breaker guarding task execution.
type BreakerConfig struct {
	// FailureThreshold is the consecutive failure count that opens the circuit
	FailureThreshold int `yaml:"failure_threshold"`

	// OpenTimeout is how long the circuit stays open before probing
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// PoolConfig tunes the worker process pool.
type PoolConfig struct {
	// MaxWorkers caps concurrently live worker processes
	MaxWorkers int `yaml:"max_workers"`

	// Command is the worker executable launched for agent tasks
	Command string `yaml:"command"`

	// Args are extra arguments passed to every worker invocation
	Args []string `yaml:"args"`

	// ShutdownGrace is the SIGTERM-to-SIGKILL grace period on cleanup
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// CacheConfig tunes the response cache.
type CacheConfig struct {
	// Enabled turns prompt response caching on
	Enabled bool `yaml:"enabled"`

	// Size is the maximum number of cached entries
	Size int `yaml:"size"`
}

// SnapshotConfig tunes periodic state persistence.
type SnapshotConfig struct {
	// Enabled turns periodic snapshots on
	Enabled bool `yaml:"enabled"`

	// Path is the sqlite database file for snapshots
	Path string `yaml:"path"`

	// Interval is how often queue state is persisted
	Interval time.Duration `yaml:"interval"`
}

// Config represents overseer configuration options
type Config struct {
	// MaxConcurrency is the maximum number of concurrent tasks
	MaxConcurrency int `yaml:"max_concurrency"`

	// PollInterval is the dispatch loop's fallback cadence
	PollInterval time.Duration `yaml:"poll_interval"`

	// Timeout is the default per-attempt execution deadline (0 = none)
	Timeout time.Duration `yaml:"timeout"`

	// MaxRetries is the default retry budget for submitted tasks
	MaxRetries int `yaml:"max_retries"`

	// LogLevel sets the logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level"`

	// LogDir is the directory where logs will be written
	LogDir string `yaml:"log_dir"`

	// WorkspaceDir is the root for per-task scratch workspaces
	WorkspaceDir string `yaml:"workspace_dir"`

	// Model names the downstream model for token estimation
	Model string `yaml:"model"`

	// RateLimit contains admission window configuration
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Breaker contains circuit breaker configuration
	Breaker BreakerConfig `yaml:"breaker"`

	// Pool contains worker pool configuration
	Pool PoolConfig `yaml:"pool"`

	// Cache contains response cache configuration
	Cache CacheConfig `yaml:"cache"`

	// Snapshot contains state persistence configuration
	Snapshot SnapshotConfig `yaml:"snapshot"`
}

// DefaultConfig returns a Config with sensible default values
func DefaultConfig() *Config {
	return &Config{
		MaxConcurrency: 4,
		PollInterval:   500 * time.Millisecond,
		Timeout:        0,
		MaxRetries:     3,
		LogLevel:       "info",
		LogDir:         ".overseer/logs",
		WorkspaceDir:   ".overseer/workspaces",
		Model:          "gpt-4o",
		RateLimit: RateLimitConfig{
			RequestsPerMinute: 30,
			RequestsPerHour:   500,
			WaitTimeout:       2 * time.Minute,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			OpenTimeout:      30 * time.Second,
		},
		Pool: PoolConfig{
			MaxWorkers:    4,
			Command:       "",
			ShutdownGrace: 5 * time.Second,
		},
		Cache: CacheConfig{
			Enabled: true,
			Size:    256,
		},
		Snapshot: SnapshotConfig{
			Enabled:  true,
			Path:     ".overseer/state.db",
			Interval: 30 * time.Second,
		},
	}
}

// durations in the YAML file are strings ("30s", "2m") parsed by
// time.ParseDuration.
type yamlConfig struct {
	MaxConcurrency int    `yaml:"max_concurrency"`
	PollInterval   string `yaml:"poll_interval"`
	Timeout        string `yaml:"timeout"`
	MaxRetries     *int   `yaml:"max_retries"`
	LogLevel       string `yaml:"log_level"`
	LogDir         string `yaml:"log_dir"`
	WorkspaceDir   string `yaml:"workspace_dir"`
	Model          string `yaml:"model"`

	RateLimit struct {
		RequestsPerMinute *int   `yaml:"requests_per_minute"`
		RequestsPerHour   *int   `yaml:"requests_per_hour"`
		WaitTimeout       string `yaml:"wait_timeout"`
	} `yaml:"rate_limit"`

	Breaker struct {
		FailureThreshold *int   `yaml:"failure_threshold"`
		OpenTimeout      string `yaml:"open_timeout"`
	} `yaml:"breaker"`

	Pool struct {
		MaxWorkers    *int     `yaml:"max_workers"`
		Command       string   `yaml:"command"`
		Args          []string `yaml:"args"`
		ShutdownGrace string   `yaml:"shutdown_grace"`
	} `yaml:"pool"`

	Cache struct {
		Enabled *bool `yaml:"enabled"`
		Size    *int  `yaml:"size"`
	} `yaml:"cache"`

	Snapshot struct {
		Enabled  *bool  `yaml:"enabled"`
		Path     string `yaml:"path"`
		Interval string `yaml:"interval"`
	} `yaml:"snapshot"`
}

// LoadConfig loads configuration from the specified file path
// If the file doesn't exist, returns default configuration without error
// If the file exists but is malformed, returns an error
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if yamlCfg.MaxConcurrency != 0 {
		cfg.MaxConcurrency = yamlCfg.MaxConcurrency
	}
	if err := mergeDuration(&cfg.PollInterval, yamlCfg.PollInterval, "poll_interval"); err != nil {
		return nil, err
	}
	if err := mergeDuration(&cfg.Timeout, yamlCfg.Timeout, "timeout"); err != nil {
		return nil, err
	}
	if yamlCfg.MaxRetries != nil {
		cfg.MaxRetries = *yamlCfg.MaxRetries
	}
	if yamlCfg.LogLevel != "" {
		cfg.LogLevel = yamlCfg.LogLevel
	}
	if yamlCfg.LogDir != "" {
		cfg.LogDir = yamlCfg.LogDir
	}
	if yamlCfg.WorkspaceDir != "" {
		cfg.WorkspaceDir = yamlCfg.WorkspaceDir
	}
	if yamlCfg.Model != "" {
		cfg.Model = yamlCfg.Model
	}

	if yamlCfg.RateLimit.RequestsPerMinute != nil {
		cfg.RateLimit.RequestsPerMinute = *yamlCfg.RateLimit.RequestsPerMinute
	}
	if yamlCfg.RateLimit.RequestsPerHour != nil {
		cfg.RateLimit.RequestsPerHour = *yamlCfg.RateLimit.RequestsPerHour
	}
	if err := mergeDuration(&cfg.RateLimit.WaitTimeout, yamlCfg.RateLimit.WaitTimeout, "rate_limit.wait_timeout"); err != nil {
		return nil, err
	}

	if yamlCfg.Breaker.FailureThreshold != nil {
		cfg.Breaker.FailureThreshold = *yamlCfg.Breaker.FailureThreshold
	}
	if err := mergeDuration(&cfg.Breaker.OpenTimeout, yamlCfg.Breaker.OpenTimeout, "breaker.open_timeout"); err != nil {
		return nil, err
	}

	if yamlCfg.Pool.MaxWorkers != nil {
		cfg.Pool.MaxWorkers = *yamlCfg.Pool.MaxWorkers
	}
	if yamlCfg.Pool.Command != "" {
		cfg.Pool.Command = yamlCfg.Pool.Command
	}
	if len(yamlCfg.Pool.Args) > 0 {
		cfg.Pool.Args = yamlCfg.Pool.Args
	}
	if err := mergeDuration(&cfg.Pool.ShutdownGrace, yamlCfg.Pool.ShutdownGrace, "pool.shutdown_grace"); err != nil {
		return nil, err
	}

	if yamlCfg.Cache.Enabled != nil {
		cfg.Cache.Enabled = *yamlCfg.Cache.Enabled
	}
	if yamlCfg.Cache.Size != nil {
		cfg.Cache.Size = *yamlCfg.Cache.Size
	}

	if yamlCfg.Snapshot.Enabled != nil {
		cfg.Snapshot.Enabled = *yamlCfg.Snapshot.Enabled
	}
	if yamlCfg.Snapshot.Path != "" {
		cfg.Snapshot.Path = yamlCfg.Snapshot.Path
	}
	if err := mergeDuration(&cfg.Snapshot.Interval, yamlCfg.Snapshot.Interval, "snapshot.interval"); err != nil {
		return nil, err
	}

	return cfg, nil
}

func mergeDuration(dst *time.Duration, raw, field string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid %s format %q: %w", field, raw, err)
	}
	*dst = d
	return nil
}

// LoadConfigFromDir loads configuration from .overseer/config.yaml in the
// specified directory. If the directory or file doesn't exist, returns
// default configuration without error
func LoadConfigFromDir(dir string) (*Config, error) {
	return LoadConfig(filepath.Join(dir, ".overseer", "config.yaml"))
}

// MergeWithFlags merges CLI flags into the configuration
// Non-nil flag values override configuration values
func (c *Config) MergeWithFlags(maxConcurrency *int, timeout *time.Duration, logDir *string, logLevel *string) {
	if maxConcurrency != nil {
		c.MaxConcurrency = *maxConcurrency
	}
	if timeout != nil {
		c.Timeout = *timeout
	}
	if logDir != nil {
		c.LogDir = *logDir
	}
	if logLevel != nil {
		c.LogLevel = *logLevel
	}
}

// Validate checks configuration consistency
func (c *Config) Validate() error {
	if c.MaxConcurrency < 1 {
		return fmt.Errorf("max_concurrency must be at least 1, got %d", c.MaxConcurrency)
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("poll_interval must be positive, got %s", c.PollInterval)
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout must not be negative, got %s", c.Timeout)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative, got %d", c.MaxRetries)
	}
	if c.RateLimit.RequestsPerMinute < 0 || c.RateLimit.RequestsPerHour < 0 {
		return fmt.Errorf("rate limits must not be negative")
	}
	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker.failure_threshold must be at least 1, got %d", c.Breaker.FailureThreshold)
	}
	if c.Breaker.OpenTimeout <= 0 {
		return fmt.Errorf("breaker.open_timeout must be positive, got %s", c.Breaker.OpenTimeout)
	}
	if c.Pool.MaxWorkers < 1 {
		return fmt.Errorf("pool.max_workers must be at least 1, got %d", c.Pool.MaxWorkers)
	}
	if c.Cache.Enabled && c.Cache.Size < 1 {
		return fmt.Errorf("cache.size must be at least 1 when the cache is enabled, got %d", c.Cache.Size)
	}
	if c.Snapshot.Enabled {
		if c.Snapshot.Path == "" {
			return fmt.Errorf("snapshot.path must be set when snapshots are enabled")
		}
		if c.Snapshot.Interval <= 0 {
			return fmt.Errorf("snapshot.interval must be positive, got %s", c.Snapshot.Interval)
		}
	}
	return nil
}
