package domain

import (
	"context"
	"time"
)

// BookCache stores the latest book snapshot per symbol for consumers outside
// the estimation hot path (HTTP surface, dashboards).
type BookCache interface {
	SetSnapshot(ctx context.Context, snap BookSnapshot) error
	GetSnapshot(ctx context.Context, symbol string) (BookSnapshot, error)
}

// SignalBus publishes engine events (produced estimates, retrain outcomes)
// to downstream consumers over pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
}

// RateLimiter bounds the request rate on the public estimation surface.
type RateLimiter interface {
	// Allow reports whether the key may perform another action within the
	// sliding window, counting the action when it is allowed.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
