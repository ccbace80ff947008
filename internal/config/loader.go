package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies SWAPBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known SWAPBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── OKX ──
	setStr(&cfg.OKX.RESTHost, "SWAPBOT_OKX_REST_HOST")
	setStr(&cfg.OKX.WSHost, "SWAPBOT_OKX_WS_HOST")
	setStr(&cfg.OKX.APIKey, "SWAPBOT_OKX_API_KEY")
	setStr(&cfg.OKX.APISecret, "SWAPBOT_OKX_API_SECRET")
	setStr(&cfg.OKX.Passphrase, "SWAPBOT_OKX_PASSPHRASE")
	setBool(&cfg.OKX.Simulated, "SWAPBOT_OKX_SIMULATED")

	// ── Engine ──
	setStringSlice(&cfg.Engine.Symbols, "SWAPBOT_ENGINE_SYMBOLS")
	setInt(&cfg.Engine.Leverage, "SWAPBOT_ENGINE_LEVERAGE")
	setInt(&cfg.Engine.CancelRetries, "SWAPBOT_ENGINE_CANCEL_RETRIES")
	setDuration(&cfg.Engine.CancelRetryDelay, "SWAPBOT_ENGINE_CANCEL_RETRY_DELAY")
	setFloat64(&cfg.Engine.ConditionalGap, "SWAPBOT_ENGINE_CONDITIONAL_GAP")
	setDuration(&cfg.Engine.ReconcileInterval, "SWAPBOT_ENGINE_RECONCILE_INTERVAL")
	setDuration(&cfg.Engine.BookStaleAfter, "SWAPBOT_ENGINE_BOOK_STALE_AFTER")
	setDuration(&cfg.Engine.RunLockTTL, "SWAPBOT_ENGINE_RUN_LOCK_TTL")

	// ── Signals ──
	setStr(&cfg.Signals.Channel, "SWAPBOT_SIGNALS_CHANNEL")
	setStr(&cfg.Signals.KlineStream, "SWAPBOT_SIGNALS_KLINE_STREAM")
	setInt(&cfg.Signals.KlinePeriod, "SWAPBOT_SIGNALS_KLINE_PERIOD")
	setInt(&cfg.Signals.KlineCapacity, "SWAPBOT_SIGNALS_KLINE_CAPACITY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "SWAPBOT_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "SWAPBOT_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "SWAPBOT_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "SWAPBOT_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "SWAPBOT_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "SWAPBOT_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "SWAPBOT_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "SWAPBOT_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "SWAPBOT_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "SWAPBOT_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "SWAPBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "SWAPBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "SWAPBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "SWAPBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "SWAPBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "SWAPBOT_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "SWAPBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "SWAPBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "SWAPBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "SWAPBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "SWAPBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "SWAPBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "SWAPBOT_S3_FORCE_PATH_STYLE")

	// ── Notify ──
	setStr(&cfg.Notify.DingTalkWebhookURL, "SWAPBOT_NOTIFY_DINGTALK_WEBHOOK_URL")
	setStr(&cfg.Notify.DingTalkSecret, "SWAPBOT_NOTIFY_DINGTALK_SECRET")
	setStr(&cfg.Notify.TelegramToken, "SWAPBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "SWAPBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "SWAPBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "SWAPBOT_NOTIFY_EVENTS")

	// ── Metrics ──
	setBool(&cfg.Metrics.Enabled, "SWAPBOT_METRICS_ENABLED")
	setStr(&cfg.Metrics.Addr, "SWAPBOT_METRICS_ADDR")

	// ── Top-level ──
	setStr(&cfg.Mode, "SWAPBOT_MODE")
	setStr(&cfg.LogLevel, "SWAPBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
