// Package config defines the top-level configuration for the swap execution
// bot and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by SWAPBOT_* environment variables.
type Config struct {
	OKX      OKXConfig      `toml:"okx"`
	Engine   EngineConfig   `toml:"engine"`
	Signals  SignalsConfig  `toml:"signals"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Notify   NotifyConfig   `toml:"notify"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// OKXConfig holds OKX API endpoints and credentials.
type OKXConfig struct {
	RESTHost   string `toml:"rest_host"`
	WSHost     string `toml:"ws_host"`
	APIKey     string `toml:"api_key"`
	APISecret  string `toml:"api_secret"`
	Passphrase string `toml:"passphrase"`
	Simulated  bool   `toml:"simulated"`
}

// EngineConfig holds position engine tuning.
type EngineConfig struct {
	// Symbols are the perpetual swap instruments the engine trades,
	// e.g. "BTC-USDT-SWAP".
	Symbols  []string `toml:"symbols"`
	Leverage int      `toml:"leverage"`

	CancelRetries    int      `toml:"cancel_retries"`
	CancelRetryDelay duration `toml:"cancel_retry_delay"`

	// ConditionalGap is the relative trigger offset used when a stop falls
	// back from a limit to a conditional order (0.001 = 0.1%).
	ConditionalGap float64 `toml:"conditional_gap"`

	ReconcileInterval duration `toml:"reconcile_interval"`

	// BookStaleAfter is how old a book snapshot may be before reads fail.
	BookStaleAfter duration `toml:"book_stale_after"`

	// RunLockTTL is the per-symbol distributed lock lifetime.
	RunLockTTL duration `toml:"run_lock_ttl"`
}

// SignalsConfig holds the strategy signal channel and kline publishing
// parameters.
type SignalsConfig struct {
	// Channel is the Redis Pub/Sub channel the strategy publishes decisions on.
	Channel string `toml:"channel"`

	// KlineStream is the Redis stream prefix for period bars; the symbol is
	// appended per stream.
	KlineStream string `toml:"kline_stream"`

	// KlinePeriod is the aggregation window in minutes.
	KlinePeriod int `toml:"kline_period"`

	// KlineCapacity bounds the per-symbol 1-minute bar buffer.
	KlineCapacity int `toml:"kline_capacity"`
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

// S3Config holds S3-compatible object storage parameters for audit archives.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	DingTalkWebhookURL string   `toml:"dingtalk_webhook_url"`
	DingTalkSecret     string   `toml:"dingtalk_secret"`
	TelegramToken      string   `toml:"telegram_token"`
	TelegramChatID     string   `toml:"telegram_chat_id"`
	DiscordWebhookURL  string   `toml:"discord_webhook_url"`
	Events             []string `toml:"events"`
}

// MetricsConfig holds the Prometheus exposition endpoint parameters.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
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
		OKX: OKXConfig{
			RESTHost:  "https://www.okx.com",
			WSHost:    "wss://ws.okx.com:8443/ws/v5/public",
			Simulated: false,
		},
		Engine: EngineConfig{
			Symbols:           []string{"BTC-USDT-SWAP"},
			Leverage:          1,
			CancelRetries:     3,
			CancelRetryDelay:  duration{600 * time.Millisecond},
			ConditionalGap:    0.001,
			ReconcileInterval: duration{5 * time.Second},
			BookStaleAfter:    duration{10 * time.Second},
			RunLockTTL:        duration{30 * time.Second},
		},
		Signals: SignalsConfig{
			Channel:       "swapbot:signals",
			KlineStream:   "swapbot:klines",
			KlinePeriod:   15,
			KlineCapacity: 240,
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "swapbot",
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
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "swapbot-audit",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Notify: NotifyConfig{
			Events: []string{"position_closed", "stop_update_failed", "cancel_failed", "reconcile_conflict"},
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Addr:    ":9102",
		},
		Mode:     "trade",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"trade":   true,
	"monitor": true,
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
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: trade, monitor)", c.Mode))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// OKX — trading needs signed REST access; monitor mode reads public
	// endpoints only.
	if strings.ToLower(c.Mode) == "trade" {
		if c.OKX.APIKey == "" || c.OKX.APISecret == "" || c.OKX.Passphrase == "" {
			errs = append(errs, "okx: api_key, api_secret, and passphrase are required for trade mode")
		}
	}
	if c.OKX.RESTHost == "" {
		errs = append(errs, "okx: rest_host must not be empty")
	}
	if c.OKX.WSHost == "" {
		errs = append(errs, "okx: ws_host must not be empty")
	}

	// Engine
	if len(c.Engine.Symbols) == 0 {
		errs = append(errs, "engine: at least one symbol is required")
	}
	for _, s := range c.Engine.Symbols {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, "engine: symbols must not contain empty entries")
			break
		}
	}
	if c.Engine.Leverage < 1 {
		errs = append(errs, "engine: leverage must be >= 1")
	}
	if c.Engine.CancelRetries < 1 {
		errs = append(errs, "engine: cancel_retries must be >= 1")
	}
	if c.Engine.ConditionalGap <= 0 || c.Engine.ConditionalGap >= 0.1 {
		errs = append(errs, fmt.Sprintf("engine: conditional_gap must be in (0, 0.1), got %g", c.Engine.ConditionalGap))
	}
	if c.Engine.ReconcileInterval.Duration < time.Second {
		errs = append(errs, "engine: reconcile_interval must be >= 1s")
	}
	if c.Engine.RunLockTTL.Duration < 5*time.Second {
		errs = append(errs, "engine: run_lock_ttl must be >= 5s")
	}

	// Signals
	if c.Signals.Channel == "" {
		errs = append(errs, "signals: channel must not be empty")
	}
	if c.Signals.KlinePeriod < 1 {
		errs = append(errs, "signals: kline_period must be >= 1")
	}
	if c.Signals.KlineCapacity < c.Signals.KlinePeriod {
		errs = append(errs, "signals: kline_capacity must be >= kline_period")
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

	// S3
	if c.S3.Endpoint == "" {
		errs = append(errs, "s3: endpoint must not be empty")
	}
	if c.S3.Bucket == "" {
		errs = append(errs, "s3: bucket must not be empty")
	}

	// Metrics
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, "metrics: addr must not be empty when enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
