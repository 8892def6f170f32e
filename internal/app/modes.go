package app

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/quantfold/tradecost/internal/feed"
	"github.com/quantfold/tradecost/internal/server"
	"github.com/quantfold/tradecost/internal/server/handler"
	"github.com/quantfold/tradecost/internal/server/ws"
	"github.com/quantfold/tradecost/internal/service"
)

// shutdownGrace is how long in-flight HTTP requests get on shutdown.
const shutdownGrace = 10 * time.Second

// FeedMode runs market data ingestion only: books are maintained in memory
// and mirrored to the cache and signal bus, with no API surface and no
// estimation engine.
func (a *App) FeedMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting feed mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startFeed(ctx, g, deps)
	return g.Wait()
}

// ServeMode runs ingestion, the estimation engine, and the HTTP/WebSocket
// API, without the archival loop.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startFeed(ctx, g, deps)
	a.startEngine(ctx, g, deps)
	a.startServer(ctx, g, deps)
	return g.Wait()
}

// FullMode runs everything: ingestion, engine, API, and estimate archival.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startFeed(ctx, g, deps)
	a.startEngine(ctx, g, deps)
	a.startServer(ctx, g, deps)

	if deps.Archiver != nil {
		archiveSvc := service.NewArchiveService(
			deps.Archiver,
			deps.Notifier,
			time.Duration(a.cfg.Archive.RetentionDays)*24*time.Hour,
			a.cfg.Archive.Interval.Duration,
			a.logger,
		)
		g.Go(func() error {
			return archiveSvc.Run(ctx)
		})
	}

	return g.Wait()
}

// startFeed launches either the live WebSocket feed or the synthetic tick
// generator, both of which drive the same book update path.
func (a *App) startFeed(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	feeder := feed.NewFeeder(deps.Books, deps.BookCache, deps.SignalBus, a.logger)

	if a.cfg.Feed.Synthetic {
		var sink feed.ObservationSink
		if deps.Estimates != nil {
			sink = deps.Estimates
		}
		synth := feed.NewSynthetic(
			a.cfg.Feed.Symbols,
			a.cfg.Feed.SyntheticMid,
			a.cfg.Feed.SyntheticInterval.Duration,
			feeder,
			sink,
			a.logger,
		)
		g.Go(func() error {
			return synth.Run(ctx)
		})
		return
	}

	g.Go(func() error {
		return feed.Run(ctx,
			a.cfg.Feed.WsURL,
			a.cfg.Feed.Symbols,
			a.cfg.Feed.ReconnectBackoff.Duration,
			a.cfg.Feed.MaxBackoff.Duration,
			feeder,
			a.logger,
		)
	})
}

// startEngine launches the retraining worker.
func (a *App) startEngine(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	g.Go(func() error {
		return deps.Engine.Run(ctx)
	})
}

// startServer launches the HTTP API and, when a signal bus is wired, the
// WebSocket hub. No-op when the server is disabled in config.
func (a *App) startServer(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Server.Enabled {
		a.logger.InfoContext(ctx, "http server disabled")
		return
	}

	var hub *ws.Hub
	if deps.SignalBus != nil {
		hub = ws.NewHub(deps.SignalBus, a.cfg.Mode, a.logger)
		g.Go(func() error {
			return hub.Run(ctx)
		})
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(a.logger),
		Estimates: handler.NewEstimateHandler(deps.Estimates, a.logger),
		Books:     handler.NewBookHandler(deps.Books, a.cfg.Book.DepthLevels, a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, a.cfg.Feed.Symbols, time.Now().UTC(), deps.Estimates),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  time.Duration(a.cfg.Server.RateWindowSec) * time.Second,
	}, handlers, deps.RateLimiter, hub, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn("server shutdown", slog.String("error", err.Error()))
		}
		return ctx.Err()
	})
}
