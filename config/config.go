// Package config loads the runtime configuration of the edgecache CLI.
//
// Precedence, lowest first: built-in defaults, the YAML file, then
// EDGECACHE_* environment variables.
package config

import "time"

// Config is the complete runtime configuration.
type Config struct {
	Log     LogConfig     `yaml:"log"`
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Retry   RetryConfig   `yaml:"retry"`
	Token   TokenConfig   `yaml:"token"`
	Router  RouterConfig  `yaml:"router"`
	Webhook WebhookConfig `yaml:"webhook"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// Store backends.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
)

// StoreConfig selects and configures the persistent cache layer.
type StoreConfig struct {
	Backend       string      `yaml:"backend"`
	Path          string      `yaml:"path"`
	QuotaBytes    int64       `yaml:"quota_bytes"`
	MemoryEntries int64       `yaml:"memory_entries"`
	Redis         RedisConfig `yaml:"redis"`
}

// RedisConfig addresses the Redis backend.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// RetryConfig mirrors retry.Config.
type RetryConfig struct {
	MaxRetries           int           `yaml:"max_retries"`
	BaseDelay            time.Duration `yaml:"base_delay"`
	MaxDelay             time.Duration `yaml:"max_delay"`
	Jitter               float64       `yaml:"jitter"`
	Backoff              string        `yaml:"backoff"` // linear or exponential
	RetryTransient       bool          `yaml:"retry_transient"`
	DisableTextHeuristic bool          `yaml:"disable_text_heuristic"`
}

// TokenConfig configures the token bridge.
type TokenConfig struct {
	Template    string        `yaml:"template"`
	Debounce    time.Duration `yaml:"debounce"`
	SyncTimeout time.Duration `yaml:"sync_timeout"`
	Breaker     BreakerConfig `yaml:"breaker"`
}

// BreakerConfig guards identity provider calls.
type BreakerConfig struct {
	FailureThreshold   int           `yaml:"failure_threshold"`
	OpenTimeout        time.Duration `yaml:"open_timeout"`
	HalfOpenMaxSuccess int           `yaml:"half_open_max_success"`
}

// RouterConfig configures the caching asset router.
type RouterConfig struct {
	Origin            string        `yaml:"origin"`
	CriticalAssets    []string      `yaml:"critical_assets"`
	RevalidateRPS     float64       `yaml:"revalidate_rps"`
	RevalidateBurst   int           `yaml:"revalidate_burst"`
	RevalidateTimeout time.Duration `yaml:"revalidate_timeout"`
	Install           bool          `yaml:"install"`
}

// WebhookConfig maps webhook types to downstream URLs.
type WebhookConfig struct {
	Routes      map[string]string `yaml:"routes"`
	Timeout     time.Duration     `yaml:"timeout"`
	RatePerType float64           `yaml:"rate_per_type"`
	Burst       int               `yaml:"burst"`
}

// TracingConfig enables span export.
type TracingConfig struct {
	Stdout bool `yaml:"stdout"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Store: StoreConfig{
			Backend:       BackendFile,
			Path:          "edgecache-data.json",
			QuotaBytes:    5 << 20,
			MemoryEntries: 10_000,
			Redis:         RedisConfig{Addr: "localhost:6379", Prefix: "edgecache:"},
		},
		Retry: RetryConfig{
			MaxRetries: 3,
			BaseDelay:  500 * time.Millisecond,
			MaxDelay:   5 * time.Second,
			Backoff:    "linear",
		},
		Token: TokenConfig{
			Debounce:    100 * time.Millisecond,
			SyncTimeout: 10 * time.Second,
			Breaker: BreakerConfig{
				FailureThreshold:   5,
				OpenTimeout:        30 * time.Second,
				HalfOpenMaxSuccess: 1,
			},
		},
		Router: RouterConfig{
			RevalidateRPS:     10,
			RevalidateBurst:   20,
			RevalidateTimeout: 30 * time.Second,
			Install:           true,
		},
		Webhook: WebhookConfig{
			Timeout:     15 * time.Second,
			RatePerType: 5,
			Burst:       10,
		},
	}
}
