package book

import (
	"fmt"
	"sync"

	"github.com/quantfold/tradecost/internal/domain"
)

// Registry holds one Book per tracked symbol. Updates for unknown symbols
// are rejected so a misconfigured feed cannot grow the map unbounded.
type Registry struct {
	mu    sync.RWMutex
	books map[string]*Book
}

// NewRegistry creates a Registry with an empty book per symbol.
func NewRegistry(symbols []string, volWindow int) *Registry {
	books := make(map[string]*Book, len(symbols))
	for _, sym := range symbols {
		books[sym] = New(sym, volWindow)
	}
	return &Registry{books: books}
}

// Apply routes a feed update to its symbol's book.
func (r *Registry) Apply(update domain.BookUpdate) error {
	r.mu.RLock()
	b, ok := r.books[update.Symbol]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("book: untracked symbol %q: %w", update.Symbol, domain.ErrNotFound)
	}
	return b.Apply(update)
}

// Snapshot returns the current snapshot for the symbol. ok is false for
// untracked symbols and for books that have not received their first
// snapshot yet.
func (r *Registry) Snapshot(symbol string) (domain.BookSnapshot, bool) {
	r.mu.RLock()
	b, ok := r.books[symbol]
	r.mu.RUnlock()
	if !ok || !b.Synced() {
		return domain.BookSnapshot{}, false
	}
	return b.Snapshot(), true
}

// Symbols returns the tracked symbols.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.books))
	for sym := range r.books {
		out = append(out, sym)
	}
	return out
}
