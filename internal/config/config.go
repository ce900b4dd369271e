// Package config loads runtime settings: built-in defaults, then an optional
// YAML file, then environment variables. Later sources win.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

type Config struct {
	AppEnv   string `yaml:"app_env"`
	Release  string `yaml:"release"`
	Addr     string `yaml:"addr"`
	LogLevel string `yaml:"log_level"`

	SentryDSN string `yaml:"sentry_dsn"`

	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Bots     BotConfig      `yaml:"bots"`
	Cleanup  CleanupConfig  `yaml:"cleanup"`

	RequestTimeout time.Duration `yaml:"request_timeout"`
	// TrustProxy takes the client IP from X-Forwarded-For. Enable it only
	// behind a proxy that sets the header.
	TrustProxy bool `yaml:"trust_proxy"`
}

type DatabaseConfig struct {
	Driver          string        `yaml:"driver"`
	URL             string        `yaml:"url"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	RunMigrations   bool          `yaml:"run_migrations"`
}

type AuthConfig struct {
	AdminUsername      string        `yaml:"admin_username"`
	AdminPassword      string        `yaml:"admin_password"`
	SessionTTL         time.Duration `yaml:"session_ttl"`
	LoginMaxAttempts   int           `yaml:"login_max_attempts"`
	LoginLockDuration  time.Duration `yaml:"login_lock_duration"`
	LoginRateLimitMax  int           `yaml:"login_rate_limit_max"`
	LoginRateLimitWndw time.Duration `yaml:"login_rate_limit_window"`
}

type LedgerConfig struct {
	StoreTimeout time.Duration `yaml:"store_timeout"`
}

type BotConfig struct {
	Enabled              bool          `yaml:"enabled"`
	MaxReconnectAttempts int           `yaml:"max_reconnect_attempts"`
	ReconnectBackoff     time.Duration `yaml:"reconnect_backoff"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	ReadyTimeout         time.Duration `yaml:"ready_timeout"`
	AutoStartStagger     time.Duration `yaml:"autostart_stagger"`
	CommandRate          float64       `yaml:"command_rate"`
	CommandBurst         int           `yaml:"command_burst"`
}

type CleanupConfig struct {
	Interval              time.Duration `yaml:"interval"`
	CronSecret            string        `yaml:"cron_secret"`
	LoginAttemptRetention time.Duration `yaml:"login_attempt_retention"`
	BatchSize             int           `yaml:"batch_size"`
}

func Defaults() Config {
	return Config{
		AppEnv:   "development",
		Addr:     ":8080",
		LogLevel: "info",
		Database: DatabaseConfig{
			Driver:          DriverPostgres,
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 10 * time.Minute,
			RunMigrations:   true,
		},
		Auth: AuthConfig{
			AdminUsername:      "admin",
			SessionTTL:         24 * time.Hour,
			LoginMaxAttempts:   5,
			LoginLockDuration:  15 * time.Minute,
			LoginRateLimitMax:  10,
			LoginRateLimitWndw: time.Minute,
		},
		Ledger: LedgerConfig{
			StoreTimeout: 5 * time.Second,
		},
		Bots: BotConfig{
			Enabled:              true,
			MaxReconnectAttempts: 5,
			ReconnectBackoff:     5 * time.Second,
			HeartbeatInterval:    30 * time.Second,
			ReadyTimeout:         60 * time.Second,
			AutoStartStagger:     2 * time.Second,
			CommandRate:          1,
			CommandBurst:         5,
		},
		Cleanup: CleanupConfig{
			Interval:              time.Hour,
			LoginAttemptRetention: 30 * 24 * time.Hour,
			BatchSize:             500,
		},
		RequestTimeout: 15 * time.Second,
	}
}

// Load builds the configuration. path may be empty, in which case CONFIG_FILE
// is consulted and, failing that, no file is read.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if strings.TrimSpace(path) == "" {
		path = strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	}
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.AppEnv = envOrDefault("APP_ENV", c.AppEnv)
	c.Release = envOrDefault("APP_RELEASE", c.Release)
	c.LogLevel = envOrDefault("LOG_LEVEL", c.LogLevel)
	c.SentryDSN = envOrDefault("SENTRY_DSN", c.SentryDSN)
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		c.Addr = ":" + port
	}
	c.Addr = envOrDefault("ADDR", c.Addr)

	c.Database.Driver = strings.ToLower(envOrDefault("DATABASE_DRIVER", c.Database.Driver))
	c.Database.URL = envOrDefault("DATABASE_URL", c.Database.URL)
	c.Database.MaxOpenConns = envIntOrDefault("DB_MAX_OPEN_CONNS", c.Database.MaxOpenConns)
	c.Database.MaxIdleConns = envIntOrDefault("DB_MAX_IDLE_CONNS", c.Database.MaxIdleConns)
	c.Database.ConnMaxLifetime = envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", c.Database.ConnMaxLifetime)
	c.Database.ConnMaxIdleTime = envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", c.Database.ConnMaxIdleTime)
	c.Database.RunMigrations = EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", c.Database.RunMigrations)

	c.Auth.AdminUsername = envOrDefault("ADMIN_USERNAME", c.Auth.AdminUsername)
	c.Auth.AdminPassword = envOrDefault("ADMIN_PASSWORD", c.Auth.AdminPassword)
	c.Auth.SessionTTL = envHoursAllowZero("SESSION_TTL_HOURS", c.Auth.SessionTTL)
	c.Auth.LoginMaxAttempts = envIntOrDefault("LOGIN_MAX_ATTEMPTS", c.Auth.LoginMaxAttempts)
	c.Auth.LoginLockDuration = envMinutesOrDefault("LOGIN_LOCK_MINUTES", c.Auth.LoginLockDuration)
	c.Auth.LoginRateLimitMax = envIntOrDefault("LOGIN_RATE_LIMIT_MAX", c.Auth.LoginRateLimitMax)
	c.Auth.LoginRateLimitWndw = envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", c.Auth.LoginRateLimitWndw)

	c.Ledger.StoreTimeout = envSecondsOrDefault("STORE_TIMEOUT_SECONDS", c.Ledger.StoreTimeout)

	c.Bots.Enabled = EnvBoolOrDefault("BOTS_ENABLED", c.Bots.Enabled)
	c.Bots.MaxReconnectAttempts = envIntOrDefault("BOT_MAX_RECONNECT_ATTEMPTS", c.Bots.MaxReconnectAttempts)
	c.Bots.ReconnectBackoff = envSecondsOrDefault("BOT_RECONNECT_BACKOFF_SECONDS", c.Bots.ReconnectBackoff)
	c.Bots.HeartbeatInterval = envSecondsOrDefault("BOT_HEARTBEAT_INTERVAL_SECONDS", c.Bots.HeartbeatInterval)
	c.Bots.ReadyTimeout = envSecondsOrDefault("BOT_READY_TIMEOUT_SECONDS", c.Bots.ReadyTimeout)
	c.Bots.AutoStartStagger = envSecondsOrDefault("BOT_AUTOSTART_STAGGER_SECONDS", c.Bots.AutoStartStagger)
	c.Bots.CommandRate = envFloatOrDefault("BOT_COMMAND_RATE", c.Bots.CommandRate)
	c.Bots.CommandBurst = envIntOrDefault("BOT_COMMAND_BURST", c.Bots.CommandBurst)

	c.Cleanup.Interval = envMinutesAllowZero("CLEANUP_INTERVAL_MINUTES", c.Cleanup.Interval)
	c.Cleanup.CronSecret = envOrDefault("CRON_SECRET", c.Cleanup.CronSecret)
	c.Cleanup.LoginAttemptRetention = envDaysOrDefault("AUTH_LOGIN_ATTEMPT_RETENTION_DAYS", c.Cleanup.LoginAttemptRetention)
	c.Cleanup.BatchSize = envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", c.Cleanup.BatchSize)

	c.RequestTimeout = envSecondsOrDefault("REQUEST_TIMEOUT_SECONDS", c.RequestTimeout)
	c.TrustProxy = EnvBoolOrDefault("TRUST_PROXY_HEADERS", c.TrustProxy)
}

func (c Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}
	if strings.TrimSpace(c.Database.URL) == "" {
		return fmt.Errorf("missing required env: DATABASE_URL")
	}
	if strings.TrimSpace(c.Auth.AdminUsername) == "" {
		return fmt.Errorf("admin username must not be empty")
	}
	if c.Bots.MaxReconnectAttempts < 1 {
		return fmt.Errorf("bot max reconnect attempts must be >= 1")
	}
	return nil
}
