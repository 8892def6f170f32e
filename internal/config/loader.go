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
// built-in defaults, applies TRADECOST_* environment variable overrides, and
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

// applyEnvOverrides reads well-known TRADECOST_* environment variables and
// overwrites the corresponding Config fields when a variable is set. This
// lets operators inject secrets at deploy time without touching the TOML
// file.
func applyEnvOverrides(cfg *Config) {
	// ── Feed ──
	setStr(&cfg.Feed.WsURL, "TRADECOST_FEED_WS_URL")
	setStringSlice(&cfg.Feed.Symbols, "TRADECOST_FEED_SYMBOLS")
	setDuration(&cfg.Feed.ReconnectBackoff, "TRADECOST_FEED_RECONNECT_BACKOFF")
	setDuration(&cfg.Feed.MaxBackoff, "TRADECOST_FEED_MAX_BACKOFF")
	setBool(&cfg.Feed.Synthetic, "TRADECOST_FEED_SYNTHETIC")
	setFloat64(&cfg.Feed.SyntheticMid, "TRADECOST_FEED_SYNTHETIC_MID")
	setDuration(&cfg.Feed.SyntheticInterval, "TRADECOST_FEED_SYNTHETIC_INTERVAL")

	// ── Book ──
	setInt(&cfg.Book.VolatilityWindow, "TRADECOST_BOOK_VOLATILITY_WINDOW")
	setInt(&cfg.Book.DepthLevels, "TRADECOST_BOOK_DEPTH_LEVELS")

	// ── Impact ──
	setFloat64(&cfg.Impact.Sigma, "TRADECOST_IMPACT_SIGMA")
	setFloat64(&cfg.Impact.Gamma, "TRADECOST_IMPACT_GAMMA")
	setFloat64(&cfg.Impact.Eta, "TRADECOST_IMPACT_ETA")
	setFloat64(&cfg.Impact.Epsilon, "TRADECOST_IMPACT_EPSILON")
	setBool(&cfg.Impact.RiskMinTrajectory, "TRADECOST_IMPACT_RISK_MIN_TRAJECTORY")
	setFloat64(&cfg.Impact.MaxImpactBps, "TRADECOST_IMPACT_MAX_IMPACT_BPS")

	// ── Slippage ──
	setFloat64(&cfg.Slippage.ConfidenceLevel, "TRADECOST_SLIPPAGE_CONFIDENCE_LEVEL")
	setInt(&cfg.Slippage.RetrainEvery, "TRADECOST_SLIPPAGE_RETRAIN_EVERY")
	setInt(&cfg.Slippage.MinSamples, "TRADECOST_SLIPPAGE_MIN_SAMPLES")
	setInt(&cfg.Slippage.MaxObservations, "TRADECOST_SLIPPAGE_MAX_OBSERVATIONS")

	// ── Fee ──
	setFloat64(&cfg.Fee.MakerRate, "TRADECOST_FEE_MAKER_RATE")
	setFloat64(&cfg.Fee.TakerRate, "TRADECOST_FEE_TAKER_RATE")
	setInt(&cfg.Fee.RetrainEvery, "TRADECOST_FEE_RETRAIN_EVERY")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "TRADECOST_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "TRADECOST_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "TRADECOST_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "TRADECOST_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "TRADECOST_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "TRADECOST_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "TRADECOST_POSTGRES_SSLMODE")
	setInt(&cfg.Postgres.PoolMaxConns, "TRADECOST_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "TRADECOST_POSTGRES_POOL_MIN_CONNS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "TRADECOST_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "TRADECOST_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "TRADECOST_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "TRADECOST_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "TRADECOST_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "TRADECOST_REDIS_TLS_ENABLED")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "TRADECOST_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "TRADECOST_S3_REGION")
	setStr(&cfg.S3.Bucket, "TRADECOST_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "TRADECOST_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "TRADECOST_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "TRADECOST_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "TRADECOST_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "TRADECOST_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "TRADECOST_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "TRADECOST_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "TRADECOST_SERVER_ENABLED")
	setInt(&cfg.Server.Port, "TRADECOST_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "TRADECOST_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "TRADECOST_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "TRADECOST_SERVER_RATE_LIMIT")
	setInt(&cfg.Server.RateWindowSec, "TRADECOST_SERVER_RATE_WINDOW_SEC")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "TRADECOST_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "TRADECOST_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "TRADECOST_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "TRADECOST_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "TRADECOST_MODE")
	setStr(&cfg.LogLevel, "TRADECOST_LOG_LEVEL")
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
