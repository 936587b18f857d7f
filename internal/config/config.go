// Package config defines the top-level configuration for the market engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by MARKETD_* environment
// variables.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Buffer   BufferConfig   `toml:"buffer"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Scoring  ScoringConfig  `toml:"scoring"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// EngineConfig holds the trading and settlement parameters.
type EngineConfig struct {
	// DefaultFeeRate is the trading fee fraction applied when a market is
	// created without an explicit rate.
	DefaultFeeRate float64 `toml:"default_fee_rate"`
	// PayoutPerShare is the points credited per share on a correct
	// prediction.
	PayoutPerShare float64 `toml:"payout_per_share"`
	// BufferBonus is the extra payout fraction on buffer-funded stakes.
	BufferBonus float64 `toml:"buffer_bonus"`
	// TradeLockTTL bounds how long a trade may hold a market lock.
	TradeLockTTL duration `toml:"trade_lock_ttl"`
	// SettleLockTTL bounds how long a resolution may hold a market lock.
	SettleLockTTL duration `toml:"settle_lock_ttl"`
	// OddsCacheTTL is how long a cached odds snapshot stays fresh.
	OddsCacheTTL duration `toml:"odds_cache_ttl"`

	// XP award retry parameters.
	XPMaxAttempts int      `toml:"xp_max_attempts"`
	XPBackoff     duration `toml:"xp_backoff"`
	XPTimeout     duration `toml:"xp_timeout"`
	XPQueueSize   int      `toml:"xp_queue_size"`
}

// BufferConfig holds the liquidity buffer account parameters.
type BufferConfig struct {
	MinDeposit      float64  `toml:"min_deposit"`
	MaxDeposit      float64  `toml:"max_deposit"`
	WithdrawLockout duration `toml:"withdraw_lockout"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
}

// S3Config holds S3-compatible object storage parameters for settlement
// report archival.
type S3Config struct {
	Enabled        bool   `toml:"enabled"`
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ScoringConfig holds the external scoring service parameters used for XP
// awards.
type ScoringConfig struct {
	BaseURL string   `toml:"base_url"`
	APIKey  string   `toml:"api_key"`
	Timeout duration `toml:"timeout"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Engine: EngineConfig{
			DefaultFeeRate: 0.003,
			PayoutPerShare: 1.0,
			BufferBonus:    0.10,
			TradeLockTTL:   duration{10 * time.Second},
			SettleLockTTL:  duration{30 * time.Second},
			OddsCacheTTL:   duration{5 * time.Second},
			XPMaxAttempts:  5,
			XPBackoff:      duration{2 * time.Second},
			XPTimeout:      duration{10 * time.Second},
			XPQueueSize:    256,
		},
		Buffer: BufferConfig{
			MinDeposit:      20,
			MaxDeposit:      100,
			WithdrawLockout: duration{2160 * time.Hour},
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "marketd",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			DB:         0,
			PoolSize:   20,
			MaxRetries: 3,
			TLSEnabled: false,
		},
		S3: S3Config{
			Enabled:        false,
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "marketd-reports",
			ForcePathStyle: true,
		},
		Scoring: ScoringConfig{
			Timeout: duration{30 * time.Second},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   0,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"market_resolved", "error"},
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server": true,
	"worker": true,
	"full":   true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, worker, full)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Engine
	if c.Engine.DefaultFeeRate < 0 || c.Engine.DefaultFeeRate >= 1 {
		errs = append(errs, fmt.Sprintf("engine: default_fee_rate must be in [0, 1), got %g", c.Engine.DefaultFeeRate))
	}
	if c.Engine.PayoutPerShare <= 0 {
		errs = append(errs, "engine: payout_per_share must be > 0")
	}
	if c.Engine.BufferBonus < 0 {
		errs = append(errs, "engine: buffer_bonus must be >= 0")
	}
	if c.Engine.XPMaxAttempts < 1 {
		errs = append(errs, "engine: xp_max_attempts must be >= 1")
	}

	// Buffer
	if c.Buffer.MinDeposit <= 0 {
		errs = append(errs, "buffer: min_deposit must be > 0")
	}
	if c.Buffer.MaxDeposit < c.Buffer.MinDeposit {
		errs = append(errs, "buffer: max_deposit must be >= min_deposit")
	}
	if c.Buffer.WithdrawLockout.Duration < 0 {
		errs = append(errs, "buffer: withdraw_lockout must not be negative")
	}

	// Postgres
	if strings.TrimSpace(c.Postgres.DSN) == "" {
		if c.Postgres.Host == "" {
			errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
		}
		if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
			errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
		}
		if c.Postgres.Database == "" {
			errs = append(errs, "postgres: database must not be empty")
		}
	}
	if c.Postgres.PoolMaxConns < 1 {
		errs = append(errs, "postgres: pool_max_conns must be >= 1")
	}
	if c.Postgres.PoolMinConns < 0 {
		errs = append(errs, "postgres: pool_min_conns must be >= 0")
	}
	if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
		errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 — only checked when report archival is enabled.
	if c.S3.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when enabled")
		}
	}

	// Scoring — the XP phase needs a reachable service in worker modes.
	if c.Mode == "worker" || c.Mode == "full" {
		if c.Scoring.BaseURL == "" {
			errs = append(errs, "scoring: base_url is required for mode "+c.Mode)
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
