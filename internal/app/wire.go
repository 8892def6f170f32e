package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/quantfold/tradecost/internal/blob/s3"
	"github.com/quantfold/tradecost/internal/book"
	"github.com/quantfold/tradecost/internal/cache/redis"
	"github.com/quantfold/tradecost/internal/config"
	"github.com/quantfold/tradecost/internal/domain"
	"github.com/quantfold/tradecost/internal/engine"
	"github.com/quantfold/tradecost/internal/model/fee"
	"github.com/quantfold/tradecost/internal/model/impact"
	"github.com/quantfold/tradecost/internal/model/slippage"
	"github.com/quantfold/tradecost/internal/notify"
	"github.com/quantfold/tradecost/internal/service"
	"github.com/quantfold/tradecost/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. It is
// constructed by Wire and torn down by the returned cleanup function.
// Optional infrastructure (Postgres, Redis, S3) leaves its fields nil when
// disabled; downstream components degrade gracefully.
type Dependencies struct {
	Books  *book.Registry
	Engine *engine.Engine

	// Services
	Estimates *service.EstimateService

	// Stores
	EstimateStore    domain.EstimateStore
	ObservationStore domain.ObservationStore

	// Caches
	BookCache   domain.BookCache
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter

	// Blob storage
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that persist estimate history.
func needsPostgres(mode string) bool {
	switch mode {
	case "serve", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Notifications (first, so later failures can already alert) ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- PostgreSQL (only for modes that serve or persist estimates) ---
	if needsPostgres(cfg.Mode) && (cfg.Postgres.DSN != "" || cfg.Postgres.Host != "") {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if err := pgClient.RunMigrations(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
		}

		pool := pgClient.Pool()
		deps.EstimateStore = postgres.NewEstimateStore(pool)
		deps.ObservationStore = postgres.NewObservationStore(pool)
	}

	// --- Redis ---
	if cfg.Redis.Addr != "" {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.BookCache = redis.NewBookCache(redisClient)
		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
	}

	// --- S3 blob storage (only when archiving is on and history exists) ---
	if cfg.Archive.Enabled && deps.EstimateStore != nil {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.EstimateStore)
	}

	// --- Books, models, engine, services ---
	deps.Books = book.NewRegistry(cfg.Feed.Symbols, cfg.Book.VolatilityWindow)

	impactModel, err := impact.New(impact.Config{
		Params: impact.Params{
			Sigma:   cfg.Impact.Sigma,
			Gamma:   cfg.Impact.Gamma,
			Eta:     cfg.Impact.Eta,
			Epsilon: cfg.Impact.Epsilon,
		},
		RiskMinTrajectory: cfg.Impact.RiskMinTrajectory,
		MaxImpactBps:      cfg.Impact.MaxImpactBps,
		AdaptationRate:    cfg.Impact.AdaptationRate,
	})
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("wire: impact model: %w", err)
	}

	deps.Engine = engine.New(
		*cfg,
		deps.Books,
		impactModel,
		slippage.New(cfg.Slippage, logger),
		fee.New(cfg.Fee, logger),
		deps.Notifier,
		logger,
	)

	deps.Estimates = service.NewEstimateService(
		deps.Engine,
		deps.EstimateStore,
		deps.ObservationStore,
		deps.SignalBus,
		logger,
	)

	// Rebuild the in-memory training buffers from persisted observations.
	if deps.ObservationStore != nil {
		restoreCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		if err := deps.Estimates.Restore(restoreCtx, cfg.Feed.Symbols, cfg.Slippage.MaxObservations); err != nil {
			logger.Warn("wire: restoring observations failed, starting cold",
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}

	return deps, cleanup, nil
}
