package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the operational parameters for the scheduler daemon:
// everything that can change between deployments or be hot-reloaded
// without touching task data. Task data itself always lives in the
// TaskStore file, never here.
type Config struct {
	// StoreBackend selects the TaskRepository implementation: "file"
	// (default, a single JSON document) or "postgres".
	StoreBackend string `yaml:"store_backend"`

	// StorePath is where the TaskStore persists its JSON document, when
	// StoreBackend is "file".
	StorePath string `yaml:"store_path"`

	// StorePostgresDSN is the connection string used when StoreBackend
	// is "postgres".
	StorePostgresDSN string `yaml:"store_postgres_dsn"`

	// DefaultTimezone is the IANA zone used when a ScheduledTask omits
	// its own timezone.
	DefaultTimezone string `yaml:"default_timezone"`

	// TickWindowSeconds is loaded and defaulted here, but schedulerd does
	// not pass it to Tick: Tick uses the window given in the
	// scheduler_tick request, or scheduler.DefaultTickWindow.
	TickWindowSeconds int `yaml:"tick_window_seconds"`

	// MaxParallelism bounds the Scheduler's background worker pool.
	MaxParallelism int `yaml:"max_parallelism"`

	// CancelGraceSeconds bounds how long cancel() waits for an
	// AgentRunner to honor its cancellation token.
	CancelGraceSeconds int `yaml:"cancel_grace_seconds"`

	// HTTP holds the listener and auth settings for the HTTP surface.
	HTTP HTTPConfig `yaml:"http"`

	// ContextStore selects and configures the ContextStore backend.
	ContextStore ContextStoreConfig `yaml:"context_store"`

	// Backup optionally mirrors the task store to S3-compatible object
	// storage after every write, for off-site durability.
	Backup BackupConfig `yaml:"backup"`
}

// HTTPConfig configures the HTTP surface.
type HTTPConfig struct {
	Addr string `yaml:"addr"`

	// AuthToken gates the authenticated endpoints; scheduler_tick
	// is always loopback-only regardless of this setting.
	AuthToken string `yaml:"auth_token"`

	// RateLimitPerSecond and RateLimitBurst bound the authenticated
	// endpoints' request rate per client.
	RateLimitPerSecond float64 `yaml:"rate_limit_per_second"`
	RateLimitBurst     int     `yaml:"rate_limit_burst"`

	// MaxPromptTokens bounds prompt length at validation time
	// (PromptTooLong); a value <= 0 selects the server default of 32000.
	MaxPromptTokens int `yaml:"max_prompt_tokens"`
}

// ContextStoreConfig selects the ContextStore backend.
type ContextStoreConfig struct {
	// Backend is "memory" (default) or "redis".
	Backend       string `yaml:"backend"`
	RedisAddr     string `yaml:"redis_addr"`
	RedisPassword string `yaml:"redis_password"`
	RedisDB       int    `yaml:"redis_db"`
	MaxEntries    int    `yaml:"max_entries"`
	TTLSeconds    int    `yaml:"ttl_seconds"`
}

// BackupConfig configures the optional S3 mirror of the task store.
type BackupConfig struct {
	Enabled bool   `yaml:"enabled"`
	Bucket  string `yaml:"bucket"`
	Key     string `yaml:"key"`
	Region  string `yaml:"region"`
}

// Default returns a Config with sensible defaults: a 60s tick window,
// 4-way parallelism, 30s cancel grace, in-memory context store.
func Default() *Config {
	return &Config{
		StoreBackend:       "file",
		StorePath:          "scheduler/tasks.json",
		DefaultTimezone:    "UTC",
		TickWindowSeconds:  60,
		MaxParallelism:     4,
		CancelGraceSeconds: 30,
		HTTP: HTTPConfig{
			Addr:               ":8085",
			RateLimitPerSecond: 5,
			RateLimitBurst:     10,
		},
		ContextStore: ContextStoreConfig{
			Backend:    "memory",
			MaxEntries: 4096,
		},
	}
}

// Load reads and parses the YAML config at path, falling back to
// Default() fields left unset, then applies SCHEDULER_-prefixed
// environment overrides for the fields operators most commonly need to
// override per-deployment without editing the file.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SCHEDULER_STORE_PATH"); v != "" {
		cfg.StorePath = v
	}
	if v := os.Getenv("SCHEDULER_DEFAULT_TIMEZONE"); v != "" {
		cfg.DefaultTimezone = v
	}
	if v := os.Getenv("SCHEDULER_TICK_WINDOW_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.TickWindowSeconds = n
		}
	}
	if v := os.Getenv("SCHEDULER_MAX_PARALLELISM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxParallelism = n
		}
	}
	if v := os.Getenv("SCHEDULER_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("SCHEDULER_HTTP_AUTH_TOKEN"); v != "" {
		cfg.HTTP.AuthToken = v
	}
}

// TickWindow returns TickWindowSeconds as a time.Duration.
func (c *Config) TickWindow() time.Duration {
	if c.TickWindowSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.TickWindowSeconds) * time.Second
}

// CancelGrace returns CancelGraceSeconds as a time.Duration.
func (c *Config) CancelGrace() time.Duration {
	if c.CancelGraceSeconds <= 0 {
		return 30 * time.Second
	}
	return time.Duration(c.CancelGraceSeconds) * time.Second
}
