package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantfold/tradecost/internal/book"
	"github.com/quantfold/tradecost/internal/domain"
)

// Feeder applies incoming book updates to the registry and fans the
// resulting snapshots out to the cache and signal bus. Cache and bus are
// best effort: their failures are logged, never propagated, so downstream
// hiccups cannot stall book maintenance.
type Feeder struct {
	registry *book.Registry
	cache    domain.BookCache // optional
	bus      domain.SignalBus // optional
	logger   *slog.Logger
}

// NewFeeder creates a Feeder. cache and bus may be nil.
func NewFeeder(registry *book.Registry, cache domain.BookCache, bus domain.SignalBus, logger *slog.Logger) *Feeder {
	return &Feeder{
		registry: registry,
		cache:    cache,
		bus:      bus,
		logger:   logger.With(slog.String("component", "feeder")),
	}
}

// HandleUpdate applies one update to the owning book. Sequence errors are
// returned so the stream client reconnects for a fresh snapshot; a crossed
// or otherwise invalid update is dropped and the prior book keeps serving.
func (f *Feeder) HandleUpdate(ctx context.Context, update domain.BookUpdate) error {
	if err := f.registry.Apply(update); err != nil {
		if errors.Is(err, domain.ErrStaleSequence) {
			return err
		}
		f.logger.Warn("book update rejected",
			slog.String("symbol", update.Symbol),
			slog.Uint64("seq", update.Sequence),
			slog.String("error", err.Error()),
		)
		return nil
	}

	snap, ok := f.registry.Snapshot(update.Symbol)
	if !ok {
		return nil
	}
	f.publish(ctx, snap)
	return nil
}

// publish pushes the fresh snapshot to the cache and announces it on the
// "books" channel.
func (f *Feeder) publish(ctx context.Context, snap domain.BookSnapshot) {
	if f.cache != nil {
		if err := f.cache.SetSnapshot(ctx, snap); err != nil {
			f.logger.Warn("book cache update failed",
				slog.String("symbol", snap.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
	if f.bus != nil {
		evt, _ := json.Marshal(map[string]any{
			"event":       "book_update",
			"symbol":      snap.Symbol,
			"seq":         snap.Sequence,
			"best_bid":    snap.BestBid,
			"best_ask":    snap.BestAsk,
			"mid_price":   snap.MidPrice,
			"spread_bps":  snap.SpreadBps,
			"volatility":  snap.Volatility,
			"observed_at": snap.ObservedAt.Format(time.RFC3339Nano),
		})
		if err := f.bus.Publish(ctx, "books", evt); err != nil {
			f.logger.Warn("book event publish failed",
				slog.String("symbol", snap.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

// Run consumes the live stream into the registry until ctx is canceled.
func Run(ctx context.Context, url string, symbols []string, backoff, maxBackoff time.Duration, feeder *Feeder, logger *slog.Logger) error {
	if url == "" {
		return fmt.Errorf("feed: empty stream url")
	}
	client := NewWSClient(url, symbols, backoff, maxBackoff, feeder.HandleUpdate, logger)
	return client.Run(ctx)
}
