package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/quantfold/tradecost/internal/book"
	"github.com/quantfold/tradecost/internal/domain"
)

// BookHandler exposes read-only views of the in-memory order books.
type BookHandler struct {
	books       *book.Registry
	depthLevels int
	logger      *slog.Logger
}

// NewBookHandler creates a BookHandler. depthLevels controls how many levels
// feed the summary depth statistics.
func NewBookHandler(books *book.Registry, depthLevels int, logger *slog.Logger) *BookHandler {
	return &BookHandler{
		books:       books,
		depthLevels: depthLevels,
		logger:      logger.With(slog.String("handler", "book")),
	}
}

// bookSummary is the per-symbol row in the book list response.
type bookSummary struct {
	Symbol     string    `json:"symbol"`
	Synced     bool      `json:"synced"`
	MidPrice   float64   `json:"mid_price,omitempty"`
	SpreadBps  float64   `json:"spread_bps,omitempty"`
	BidDepth   float64   `json:"bid_depth,omitempty"`
	AskDepth   float64   `json:"ask_depth,omitempty"`
	Volatility float64   `json:"volatility,omitempty"`
	Sequence   uint64    `json:"sequence,omitempty"`
	UpdatedAt  time.Time `json:"updated_at,omitzero"`
}

// ListBooks returns a summary of every tracked symbol, including symbols
// whose book has not received a snapshot yet.
// GET /api/books
func (h *BookHandler) ListBooks(w http.ResponseWriter, r *http.Request) {
	symbols := h.books.Symbols()
	out := make([]bookSummary, 0, len(symbols))

	for _, symbol := range symbols {
		row := bookSummary{Symbol: symbol}
		if snap, ok := h.books.Snapshot(symbol); ok {
			row.Synced = true
			row.MidPrice = snap.MidPrice
			row.SpreadBps = snap.SpreadBps
			// Depth is keyed by the side it absorbs: bids absorb sells.
			row.BidDepth = snap.Depth(domain.SideSell, h.depthLevels)
			row.AskDepth = snap.Depth(domain.SideBuy, h.depthLevels)
			row.Volatility = snap.Volatility
			row.Sequence = snap.Sequence
			row.UpdatedAt = snap.ObservedAt
		}
		out = append(out, row)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"count": len(out),
		"books": out,
	})
}

// GetBook returns the full current snapshot for one symbol.
// GET /api/books/{symbol}
func (h *BookHandler) GetBook(w http.ResponseWriter, r *http.Request) {
	symbol := r.PathValue("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "missing symbol")
		return
	}

	snap, ok := h.books.Snapshot(symbol)
	if !ok {
		writeError(w, http.StatusNotFound, "no book for symbol: "+symbol)
		return
	}

	writeJSON(w, http.StatusOK, snap)
}
