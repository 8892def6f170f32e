package domain

import "time"

// PriceLevel is a single price+size entry in an L2 orderbook.
type PriceLevel struct {
	Price float64 `json:"price"`
	Size  float64 `json:"size"`
}

// BookUpdateKind distinguishes full snapshot replacement from incremental
// level deltas on the market feed.
type BookUpdateKind string

const (
	BookUpdateSnapshot BookUpdateKind = "snapshot"
	BookUpdateDelta    BookUpdateKind = "delta"
)

// BookUpdate is one message from the market-feed collaborator: either a full
// book replacement or an incremental delta. Delta sequence numbers must be
// exactly the predecessor's successor; anything else forces a fresh snapshot.
type BookUpdate struct {
	Kind       BookUpdateKind
	Symbol     string
	Sequence   uint64
	Bids       []PriceLevel // delta: Size 0 removes the level, else upsert
	Asks       []PriceLevel
	ObservedAt time.Time
}

// BookSnapshot is an immutable copy of the current best-known L2 book plus
// the derived market statistics recomputed on every update. Bids are sorted
// descending by price, asks ascending.
type BookSnapshot struct {
	Symbol     string       `json:"symbol"`
	Bids       []PriceLevel `json:"bids"`
	Asks       []PriceLevel `json:"asks"`
	Sequence   uint64       `json:"sequence"`
	ObservedAt time.Time    `json:"observed_at"`

	BestBid   float64 `json:"best_bid"`
	BestAsk   float64 `json:"best_ask"`
	MidPrice  float64 `json:"mid_price"`
	Spread    float64 `json:"spread"`
	SpreadBps float64 `json:"spread_bps"`

	// Volatility is the tick-scale sample standard deviation of mid-price
	// log-returns over the book's rolling window. It is NOT annualized.
	Volatility float64 `json:"volatility"`
}

// Depth returns the cumulative size resting within the top n levels of the
// given side.
func (s BookSnapshot) Depth(side Side, n int) float64 {
	levels := s.Asks
	if side == SideSell {
		levels = s.Bids
	}
	if n > len(levels) {
		n = len(levels)
	}
	var total float64
	for _, lvl := range levels[:n] {
		total += lvl.Size
	}
	return total
}

// TotalDepth returns the combined bid+ask size within the top n levels.
func (s BookSnapshot) TotalDepth(n int) float64 {
	return s.Depth(SideBuy, n) + s.Depth(SideSell, n)
}

// DepthImbalance returns (bidDepth-askDepth)/(bidDepth+askDepth) over the top
// n levels, in [-1, 1]. Zero when the book is empty.
func (s BookSnapshot) DepthImbalance(n int) float64 {
	bid := s.Depth(SideSell, n) // bids absorb sells
	ask := s.Depth(SideBuy, n)  // asks absorb buys
	total := bid + ask
	if total <= 0 {
		return 0
	}
	return (bid - ask) / total
}

// ImpactPrice walks the book and returns the volume-weighted average price a
// market order of the given size and side would pay. The second return is
// false when resting liquidity cannot absorb the full size.
func (s BookSnapshot) ImpactPrice(side Side, size float64) (float64, bool) {
	if size <= 0 {
		return 0, false
	}
	levels := s.Asks
	if side == SideSell {
		levels = s.Bids
	}
	remaining := size
	var cost float64
	for _, lvl := range levels {
		if remaining <= 0 {
			break
		}
		take := lvl.Size
		if take > remaining {
			take = remaining
		}
		cost += take * lvl.Price
		remaining -= take
	}
	if remaining > 0 {
		return 0, false
	}
	return cost / size, true
}
