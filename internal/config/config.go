// Package config defines the top-level configuration for the trade cost
// estimation engine and provides validation helpers.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by TRADECOST_* environment
// variables.
type Config struct {
	Feed     FeedConfig     `toml:"feed"`
	Book     BookConfig     `toml:"book"`
	Impact   ImpactConfig   `toml:"impact"`
	Slippage SlippageConfig `toml:"slippage"`
	Fee      FeeConfig      `toml:"fee"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// FeedConfig holds the market-feed connection parameters.
type FeedConfig struct {
	WsURL            string   `toml:"ws_url"`
	Symbols          []string `toml:"symbols"`
	ReconnectBackoff duration `toml:"reconnect_backoff"`
	MaxBackoff       duration `toml:"max_backoff"`
	// Synthetic enables the synthetic tick generator instead of a live feed,
	// which also synthesizes realized-slippage observations for retraining.
	Synthetic         bool     `toml:"synthetic"`
	SyntheticMid      float64  `toml:"synthetic_mid"`
	SyntheticInterval duration `toml:"synthetic_interval"`
}

// BookConfig controls the per-symbol order book aggregator.
type BookConfig struct {
	// VolatilityWindow is the number of mid prices kept in the rolling ring
	// buffer used for the tick-scale volatility estimate.
	VolatilityWindow int `toml:"volatility_window"`
	// DepthLevels is how many levels count toward the depth statistics.
	DepthLevels int `toml:"depth_levels"`
}

// ImpactConfig holds the Almgren-Chriss model parameters.
type ImpactConfig struct {
	Sigma   float64 `toml:"sigma"`   // fallback volatility when the book has none yet
	Gamma   float64 `toml:"gamma"`   // risk aversion, > 0
	Eta     float64 `toml:"eta"`     // temporary impact coefficient
	Epsilon float64 `toml:"epsilon"` // permanent impact coefficient
	// RiskMinTrajectory selects the risk-minimizing exponential trajectory
	// instead of the linear (TWAP) one.
	RiskMinTrajectory bool `toml:"risk_min_trajectory"`
	// MaxImpactBps caps the impact estimate when available depth is near
	// zero and the model would otherwise be unbounded.
	MaxImpactBps float64 `toml:"max_impact_bps"`
	// AdaptationRate smooths realized-outcome feedback into eta/epsilon.
	AdaptationRate float64 `toml:"adaptation_rate"`
}

// SlippageConfig controls the quantile-regression slippage predictor.
type SlippageConfig struct {
	ConfidenceLevel float64 `toml:"confidence_level"` // default 0.8
	RetrainEvery    int     `toml:"retrain_every"`    // observations between retrains
	MinSamples      int     `toml:"min_samples"`
	MaxObservations int     `toml:"max_observations"` // bounded training buffer
	Epochs          int     `toml:"epochs"`
	LearningRate    float64 `toml:"learning_rate"`
}

// FeeTier is one row of the volume-tiered fee table.
type FeeTier struct {
	VolumeThreshold float64 `toml:"volume_threshold"`
	MakerRate       float64 `toml:"maker_rate"`
	TakerRate       float64 `toml:"taker_rate"`
}

// FeeConfig holds the fee table and the maker/taker classifier settings.
type FeeConfig struct {
	MakerRate       float64   `toml:"maker_rate"` // base rates below the first tier
	TakerRate       float64   `toml:"taker_rate"`
	Tiers           []FeeTier `toml:"tiers"`
	RetrainEvery    int       `toml:"retrain_every"`
	MinSamples      int       `toml:"min_samples"`
	MaxObservations int       `toml:"max_observations"`
	Epochs          int       `toml:"epochs"`
	LearningRate    float64   `toml:"learning_rate"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN          string `toml:"dsn"`
	Host         string `toml:"host"`
	Port         int    `toml:"port"`
	Database     string `toml:"database"`
	User         string `toml:"user"`
	Password     string `toml:"password"`
	SSLMode      string `toml:"ssl_mode"`
	PoolMaxConns int    `toml:"pool_max_conns"`
	PoolMinConns int    `toml:"pool_min_conns"`
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

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls aging estimate history out of Postgres into S3.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// ServerConfig holds the HTTP API server configuration.
type ServerConfig struct {
	Enabled       bool     `toml:"enabled"`
	Port          int      `toml:"port"`
	CORSOrigins   []string `toml:"cors_origins"`
	APIKey        string   `toml:"api_key"`
	RateLimit     int      `toml:"rate_limit"`      // requests per window, 0 disables
	RateWindowSec int      `toml:"rate_window_sec"` // window length in seconds
}

// NotifyConfig holds webhook alerting credentials. Alerts fire on retrain
// and archive failures.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding ("5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so BurntSushi/toml can
// parse duration strings.
func (d *duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns the built-in configuration. The fee table mirrors the
// OKX perpetual swap schedule.
func Defaults() Config {
	return Config{
		Feed: FeedConfig{
			WsURL:             "",
			Symbols:           []string{"BTC-USDT-SWAP"},
			ReconnectBackoff:  duration{2 * time.Second},
			MaxBackoff:        duration{30 * time.Second},
			Synthetic:         false,
			SyntheticMid:      50_000,
			SyntheticInterval: duration{250 * time.Millisecond},
		},
		Book: BookConfig{
			VolatilityWindow: 100,
			DepthLevels:      10,
		},
		Impact: ImpactConfig{
			Sigma:             0.02,
			Gamma:             0.1,
			Eta:               0.0001,
			Epsilon:           0.00001,
			RiskMinTrajectory: false,
			MaxImpactBps:      500,
			AdaptationRate:    0.1,
		},
		Slippage: SlippageConfig{
			ConfidenceLevel: 0.8,
			RetrainEvery:    100,
			MinSamples:      20,
			MaxObservations: 10_000,
			Epochs:          200,
			LearningRate:    0.05,
		},
		Fee: FeeConfig{
			MakerRate: 0.0002,
			TakerRate: 0.0005,
			Tiers: []FeeTier{
				{VolumeThreshold: 1_000_000, MakerRate: 0.00015, TakerRate: 0.00045},
				{VolumeThreshold: 5_000_000, MakerRate: 0.0001, TakerRate: 0.0004},
				{VolumeThreshold: 25_000_000, MakerRate: 0.00008, TakerRate: 0.00035},
				{VolumeThreshold: 100_000_000, MakerRate: 0.00006, TakerRate: 0.0003},
			},
			RetrainEvery:    100,
			MinSamples:      20,
			MaxObservations: 10_000,
			Epochs:          200,
			LearningRate:    0.1,
		},
		Postgres: PostgresConfig{
			Host:         "localhost",
			Port:         5432,
			Database:     "tradecost",
			User:         "postgres",
			SSLMode:      "disable",
			PoolMaxConns: 10,
			PoolMinConns: 2,
		},
		Redis: RedisConfig{
			Addr:       "localhost:6379",
			PoolSize:   20,
			MaxRetries: 3,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "tradecost-data",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 30,
			Interval:      duration{6 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:       true,
			Port:          8080,
			RateLimit:     0,
			RateWindowSec: 60,
		},
		Mode:     "full",
		LogLevel: "info",
	}
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime behavior.
func (c *Config) Validate() error {
	switch c.Mode {
	case "serve", "feed", "full":
	default:
		return fmt.Errorf("config: unsupported mode %q", c.Mode)
	}
	if len(c.Feed.Symbols) == 0 {
		return fmt.Errorf("config: feed.symbols must not be empty")
	}
	if !c.Feed.Synthetic && c.Feed.WsURL == "" {
		return fmt.Errorf("config: feed.ws_url is required unless feed.synthetic is set")
	}
	if c.Book.VolatilityWindow < 2 {
		return fmt.Errorf("config: book.volatility_window must be at least 2")
	}
	if c.Book.DepthLevels <= 0 {
		return fmt.Errorf("config: book.depth_levels must be positive")
	}
	if c.Impact.Gamma <= 0 {
		return fmt.Errorf("config: impact.gamma must be positive")
	}
	if c.Impact.Eta < 0 || c.Impact.Epsilon < 0 {
		return fmt.Errorf("config: impact coefficients must be non-negative")
	}
	if c.Slippage.ConfidenceLevel <= 0 || c.Slippage.ConfidenceLevel >= 1 {
		return fmt.Errorf("config: slippage.confidence_level must be in (0, 1)")
	}
	if c.Slippage.RetrainEvery <= 0 || c.Fee.RetrainEvery <= 0 {
		return fmt.Errorf("config: retrain_every must be positive")
	}
	if c.Fee.MakerRate < 0 || c.Fee.TakerRate < 0 {
		return fmt.Errorf("config: fee rates must be non-negative")
	}
	for i, tier := range c.Fee.Tiers {
		if tier.VolumeThreshold < 0 || tier.MakerRate < 0 || tier.TakerRate < 0 {
			return fmt.Errorf("config: fee.tiers[%d] has negative values", i)
		}
	}
	if c.Server.Enabled && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		return fmt.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Archive.Enabled && c.Archive.RetentionDays <= 0 {
		return fmt.Errorf("config: archive.retention_days must be positive when archiving")
	}
	return nil
}
