package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantfold/tradecost/internal/domain"
)

// bookTTL bounds how long a cached snapshot can outlive its feed. A stale
// entry expiring is preferable to serving a dead book.
const bookTTL = 30 * time.Second

// BookCache implements domain.BookCache by storing the latest JSON-encoded
// snapshot per symbol. The in-process books remain authoritative; this cache
// exists for consumers outside the estimation process.
type BookCache struct {
	rdb *redis.Client
}

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying()}
}

func bookKey(symbol string) string {
	return "book:" + symbol
}

// SetSnapshot stores the snapshot under its symbol, refreshing the TTL.
func (bc *BookCache) SetSnapshot(ctx context.Context, snap domain.BookSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: encode snapshot %s: %w", snap.Symbol, err)
	}
	if err := bc.rdb.Set(ctx, bookKey(snap.Symbol), data, bookTTL).Err(); err != nil {
		return fmt.Errorf("redis: set snapshot %s: %w", snap.Symbol, err)
	}
	return nil
}

// GetSnapshot returns the cached snapshot for the symbol, or
// domain.ErrNotFound when none is stored.
func (bc *BookCache) GetSnapshot(ctx context.Context, symbol string) (domain.BookSnapshot, error) {
	data, err := bc.rdb.Get(ctx, bookKey(symbol)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return domain.BookSnapshot{}, fmt.Errorf("redis: snapshot %s: %w", symbol, domain.ErrNotFound)
		}
		return domain.BookSnapshot{}, fmt.Errorf("redis: get snapshot %s: %w", symbol, err)
	}
	var snap domain.BookSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.BookSnapshot{}, fmt.Errorf("redis: decode snapshot %s: %w", symbol, err)
	}
	return snap, nil
}

// Compile-time interface checks.
var (
	_ domain.BookCache = (*BookCache)(nil)
	_ domain.SignalBus = (*SignalBus)(nil)
)
