package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the overall application configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Auth       AuthConfig       `yaml:"auth"`
	Database   DatabaseConfig   `yaml:"database"`
	Push       PushConfig       `yaml:"push"`
	Queue      QueueConfig      `yaml:"queue"`
	WorkerPool WorkerPoolConfig `yaml:"worker_pool"`
	Redis      RedisConfig      `yaml:"redis"`
	Log        LogConfig        `yaml:"log"`
}

// WorkerPoolConfig holds the configuration for the replay worker pool.
type WorkerPoolConfig struct {
	Size      int `yaml:"size"`
	QueueSize int `yaml:"queue_size"`
}

// PushConfig holds the VAPID keys and the delivery policy for web push.
type PushConfig struct {
	Enabled               *bool  `yaml:"enabled"`
	PublicKey             string `yaml:"vapid_public_key"`
	PrivateKey            string `yaml:"vapid_private_key"`
	Subject               string `yaml:"subject"`
	TTL                   int    `yaml:"ttl"`
	MaxDevices            int    `yaml:"max_devices"`
	MaxAttempts           int    `yaml:"max_attempts"`
	BackoffBaseMillis     int    `yaml:"backoff_base_ms"`
	AttemptTimeoutSeconds int    `yaml:"attempt_timeout_seconds"`
	Fanout                int    `yaml:"fanout"`
	ActiveWindowDays      int    `yaml:"active_window_days"`
	DefaultTitle          string `yaml:"default_title"`
	DefaultBody           string `yaml:"default_body"`
	DefaultIcon           string `yaml:"default_icon"`
}

// IsEnabled reports whether push delivery is switched on. Unset means enabled.
func (p PushConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// BackoffBase is the delay before the second attempt; it doubles afterwards.
func (p PushConfig) BackoffBase() time.Duration {
	return time.Duration(p.BackoffBaseMillis) * time.Millisecond
}

// AttemptTimeout bounds a single request to the push service.
func (p PushConfig) AttemptTimeout() time.Duration {
	return time.Duration(p.AttemptTimeoutSeconds) * time.Second
}

// ActiveWindow is how long a subscription stays a send target after its last success.
func (p PushConfig) ActiveWindow() time.Duration {
	return time.Duration(p.ActiveWindowDays) * 24 * time.Hour
}

// QueueConfig controls expiry and periodic replay of pending notifications.
type QueueConfig struct {
	TTLDays        int    `yaml:"ttl_days"`
	SweepEnabled   bool   `yaml:"sweep_enabled"`
	ExpirySchedule string `yaml:"expiry_schedule"`
	ReplaySchedule string `yaml:"replay_schedule"`
}

// TTL is the maximum age of a pending notification.
func (q QueueConfig) TTL() time.Duration {
	return time.Duration(q.TTLDays) * 24 * time.Hour
}

// ServerConfig holds the server-related configuration.
type ServerConfig struct {
	Port            int     `yaml:"port"`
	RateLimitPerSec float64 `yaml:"rate_limit_per_sec"`
	RateLimitBurst  int     `yaml:"rate_limit_burst"`
	CacheTTLSeconds int     `yaml:"cache_ttl_seconds"`
	InternalToken   string  `yaml:"internal_token"`
}

// AuthConfig holds the secret used to verify user tokens issued by the auth service.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// DatabaseConfig holds the database connection configuration.
type DatabaseConfig struct {
	Driver                 string `yaml:"driver"`
	DSN                    string `yaml:"dsn"`
	MaxOpenConns           int    `yaml:"max_open_conns"`
	MaxIdleConns           int    `yaml:"max_idle_conns"`
	ConnMaxLifetimeMinutes int    `yaml:"conn_max_lifetime_minutes"`
	LogSQL                 bool   `yaml:"log_sql"`
}

// RedisConfig enables the cross-instance replay lock when Addr is set.
type RedisConfig struct {
	Addr           string `yaml:"addr"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	LockTTLSeconds int    `yaml:"lock_ttl_seconds"`
}

// LockTTL is how long a replay lock is held before it expires on its own.
func (r RedisConfig) LockTTL() time.Duration {
	return time.Duration(r.LockTTLSeconds) * time.Second
}

// LogConfig selects the log level and output format ("console" or "json").
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads the configuration from the given path, then applies environment
// overrides (optionally sourced from a .env file) and defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg Config
	decoder := yaml.NewDecoder(f)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, err
	}

	// A missing .env is normal outside local development.
	_ = godotenv.Load()
	applyEnv(&cfg)
	applyDefaults(&cfg)

	return &cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("VAPID_PUBLIC_KEY"); v != "" {
		cfg.Push.PublicKey = v
	}
	if v := os.Getenv("VAPID_PRIVATE_KEY"); v != "" {
		cfg.Push.PrivateKey = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("DATABASE_DSN"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("INTERNAL_API_TOKEN"); v != "" {
		cfg.Server.InternalToken = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Redis.Addr = v
	}
	if v := strings.TrimSpace(os.Getenv("PUSH_ENABLED")); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			cfg.Push.Enabled = &enabled
		}
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Port <= 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.RateLimitPerSec <= 0 {
		cfg.Server.RateLimitPerSec = 10
	}
	if cfg.Server.RateLimitBurst <= 0 {
		cfg.Server.RateLimitBurst = 5
	}
	if cfg.Server.CacheTTLSeconds <= 0 {
		cfg.Server.CacheTTLSeconds = 300
	}

	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "postgres"
	}

	if cfg.Push.TTL <= 0 {
		cfg.Push.TTL = 24 * 60 * 60
	}
	if cfg.Push.MaxDevices <= 0 {
		cfg.Push.MaxDevices = 5
	}
	if cfg.Push.MaxAttempts <= 0 {
		cfg.Push.MaxAttempts = 3
	}
	if cfg.Push.BackoffBaseMillis <= 0 {
		cfg.Push.BackoffBaseMillis = 1000
	}
	if cfg.Push.AttemptTimeoutSeconds <= 0 {
		cfg.Push.AttemptTimeoutSeconds = 10
	}
	if cfg.Push.Fanout <= 0 {
		cfg.Push.Fanout = 4
	}
	if cfg.Push.ActiveWindowDays <= 0 {
		cfg.Push.ActiveWindowDays = 90
	}
	if cfg.Push.DefaultTitle == "" {
		cfg.Push.DefaultTitle = "Maintenance"
	}
	if cfg.Push.DefaultBody == "" {
		cfg.Push.DefaultBody = "New notification"
	}
	if cfg.Push.DefaultIcon == "" {
		cfg.Push.DefaultIcon = "/icon-192.png"
	}

	if cfg.Queue.TTLDays <= 0 {
		cfg.Queue.TTLDays = 30
	}
	if cfg.Queue.ExpirySchedule == "" {
		cfg.Queue.ExpirySchedule = "@hourly"
	}
	if cfg.Queue.ReplaySchedule == "" {
		cfg.Queue.ReplaySchedule = "@every 10m"
	}

	if cfg.WorkerPool.Size <= 0 {
		cfg.WorkerPool.Size = 1
	}
	if cfg.WorkerPool.QueueSize <= 0 {
		cfg.WorkerPool.QueueSize = 64
	}

	if cfg.Redis.LockTTLSeconds <= 0 {
		cfg.Redis.LockTTLSeconds = 120
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
}
