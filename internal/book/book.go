// Package book maintains the per-symbol L2 order book state and the derived
// market statistics consumed by the cost estimation engine. Ticks arrive from
// a single feed writer; estimation reads immutable snapshots, so consumers
// never observe a partially-applied update.
package book

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/quantfold/tradecost/internal/domain"
)

// Book is the mutable order book state for one symbol. It is created once at
// startup with an empty book and mutated in place by each incoming snapshot
// or delta; it is never destroyed while the feed is active.
type Book struct {
	mu sync.RWMutex

	symbol     string
	bids       []domain.PriceLevel // descending by price
	asks       []domain.PriceLevel // ascending by price
	sequence   uint64
	observedAt time.Time
	synced     bool // true once a snapshot has been applied

	mids *midWindow
}

// New creates an empty Book for the symbol. volWindow is the number of mid
// prices retained for the volatility estimate.
func New(symbol string, volWindow int) *Book {
	return &Book{
		symbol: symbol,
		mids:   newMidWindow(volWindow),
	}
}

// Symbol returns the symbol this book tracks.
func (b *Book) Symbol() string { return b.symbol }

// Apply integrates one feed update. A snapshot replaces the whole book and
// resets the sequence baseline; a delta upserts levels (size 0 removes) and
// must carry exactly the successor sequence number. Failed updates wrap
// domain.ErrInvalidBookUpdate and leave the prior state untouched; on a
// sequence error the caller must request a fresh snapshot.
func (b *Book) Apply(update domain.BookUpdate) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch update.Kind {
	case domain.BookUpdateSnapshot:
		return b.applySnapshot(update)
	case domain.BookUpdateDelta:
		return b.applyDelta(update)
	default:
		return fmt.Errorf("%w: unknown update kind %q", domain.ErrInvalidBookUpdate, update.Kind)
	}
}

func (b *Book) applySnapshot(update domain.BookUpdate) error {
	bids := sortLevels(update.Bids, true)
	asks := sortLevels(update.Asks, false)
	if crossed(bids, asks) {
		return fmt.Errorf("%w: snapshot for %s seq %d: %w",
			domain.ErrInvalidBookUpdate, update.Symbol, update.Sequence, domain.ErrCrossedBook)
	}

	b.bids = bids
	b.asks = asks
	b.sequence = update.Sequence
	b.observedAt = update.ObservedAt
	b.synced = true
	b.recordMid()
	return nil
}

func (b *Book) applyDelta(update domain.BookUpdate) error {
	if !b.synced {
		return fmt.Errorf("%w: delta before first snapshot for %s: %w",
			domain.ErrInvalidBookUpdate, update.Symbol, domain.ErrStaleSequence)
	}
	if update.Sequence != b.sequence+1 {
		return fmt.Errorf("%w: delta seq %d does not follow %d: %w",
			domain.ErrInvalidBookUpdate, update.Sequence, b.sequence, domain.ErrStaleSequence)
	}

	// Build the candidate sides first so a crossed result can be rejected
	// without touching served state.
	bids := upsertLevels(b.bids, update.Bids, true)
	asks := upsertLevels(b.asks, update.Asks, false)
	if crossed(bids, asks) {
		return fmt.Errorf("%w: delta seq %d for %s: %w",
			domain.ErrInvalidBookUpdate, update.Sequence, update.Symbol, domain.ErrCrossedBook)
	}

	b.bids = bids
	b.asks = asks
	b.sequence = update.Sequence
	b.observedAt = update.ObservedAt
	b.recordMid()
	return nil
}

// recordMid appends the current mid price to the volatility window. Called
// with the write lock held after a successful update.
func (b *Book) recordMid() {
	if len(b.bids) == 0 || len(b.asks) == 0 {
		return
	}
	mid := (b.bids[0].Price + b.asks[0].Price) / 2
	if mid > 0 {
		b.mids.push(mid)
	}
}

// Snapshot returns an immutable copy of the book with all derived statistics
// recomputed, safe to hand to concurrent consumers.
func (b *Book) Snapshot() domain.BookSnapshot {
	b.mu.RLock()
	defer b.mu.RUnlock()

	snap := domain.BookSnapshot{
		Symbol:     b.symbol,
		Bids:       append([]domain.PriceLevel(nil), b.bids...),
		Asks:       append([]domain.PriceLevel(nil), b.asks...),
		Sequence:   b.sequence,
		ObservedAt: b.observedAt,
		Volatility: b.mids.volatility(),
	}
	if len(b.bids) > 0 && len(b.asks) > 0 {
		snap.BestBid = b.bids[0].Price
		snap.BestAsk = b.asks[0].Price
		snap.MidPrice = (snap.BestBid + snap.BestAsk) / 2
		snap.Spread = snap.BestAsk - snap.BestBid
		if snap.MidPrice > 0 {
			snap.SpreadBps = snap.Spread / snap.MidPrice * 1e4
		}
	}
	return snap
}

// Synced reports whether the book has received its initial snapshot.
func (b *Book) Synced() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.synced
}

// sortLevels copies and sorts levels (bids descending, asks ascending),
// dropping zero-size entries.
func sortLevels(levels []domain.PriceLevel, descending bool) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(levels))
	for _, lvl := range levels {
		if lvl.Size > 0 && lvl.Price > 0 {
			out = append(out, lvl)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}

// upsertLevels applies delta entries to a copy of the side: size 0 removes
// the level at that price, anything else inserts or replaces it.
func upsertLevels(side []domain.PriceLevel, changes []domain.PriceLevel, descending bool) []domain.PriceLevel {
	out := append([]domain.PriceLevel(nil), side...)
	for _, ch := range changes {
		idx := -1
		for i, lvl := range out {
			if lvl.Price == ch.Price {
				idx = i
				break
			}
		}
		switch {
		case ch.Size <= 0 && idx >= 0:
			out = append(out[:idx], out[idx+1:]...)
		case ch.Size > 0 && idx >= 0:
			out[idx].Size = ch.Size
		case ch.Size > 0 && idx < 0:
			out = append(out, ch)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}

// crossed reports whether best bid >= best ask for non-empty sides.
func crossed(bids, asks []domain.PriceLevel) bool {
	if len(bids) == 0 || len(asks) == 0 {
		return false
	}
	return bids[0].Price >= asks[0].Price
}
