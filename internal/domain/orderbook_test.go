package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func sampleSnapshot() BookSnapshot {
	return BookSnapshot{
		Symbol:   "BTC-USDT-SWAP",
		Bids:     []PriceLevel{{Price: 49_990, Size: 10}, {Price: 49_980, Size: 30}},
		Asks:     []PriceLevel{{Price: 50_010, Size: 5}, {Price: 50_020, Size: 15}},
		BestBid:  49_990,
		BestAsk:  50_010,
		MidPrice: 50_000,
	}
}

func TestDepth(t *testing.T) {
	snap := sampleSnapshot()

	// A buy consumes asks; a sell consumes bids.
	assert.Equal(t, 5.0, snap.Depth(SideBuy, 1))
	assert.Equal(t, 20.0, snap.Depth(SideBuy, 2))
	assert.Equal(t, 40.0, snap.Depth(SideSell, 5))
	assert.Equal(t, 60.0, snap.TotalDepth(10))
}

func TestDepthImbalance(t *testing.T) {
	snap := sampleSnapshot()
	// Bids 40 vs asks 20: bid-heavy book leans positive.
	assert.InDelta(t, (40.0-20.0)/60.0, snap.DepthImbalance(10), 1e-9)

	assert.Zero(t, BookSnapshot{}.DepthImbalance(10))
}

func TestImpactPrice(t *testing.T) {
	snap := sampleSnapshot()

	// Fits in the first ask level.
	vwap, ok := snap.ImpactPrice(SideBuy, 5)
	assert.True(t, ok)
	assert.InDelta(t, 50_010, vwap, 1e-9)

	// Spills into the second level.
	vwap, ok = snap.ImpactPrice(SideBuy, 10)
	assert.True(t, ok)
	assert.InDelta(t, (5*50_010+5*50_020)/10.0, vwap, 1e-9)

	// Exceeds resting liquidity.
	_, ok = snap.ImpactPrice(SideBuy, 100)
	assert.False(t, ok)

	_, ok = snap.ImpactPrice(SideBuy, 0)
	assert.False(t, ok)
}

func TestTradeRequestValidate(t *testing.T) {
	valid := TradeRequest{
		Symbol:      "BTC-USDT-SWAP",
		Size:        1,
		Side:        SideBuy,
		OrderType:   OrderTypeMarket,
		TimeHorizon: 60,
	}
	assert.NoError(t, valid.Validate())

	cases := map[string]func(r *TradeRequest){
		"zero size":               func(r *TradeRequest) { r.Size = 0 },
		"negative size":           func(r *TradeRequest) { r.Size = -1 },
		"bad side":                func(r *TradeRequest) { r.Side = "hold" },
		"bad order type":          func(r *TradeRequest) { r.OrderType = "stop" },
		"market with limit price": func(r *TradeRequest) { r.LimitPrice = 50_000 },
		"zero horizon":            func(r *TradeRequest) { r.TimeHorizon = 0 },
		"limit without price": func(r *TradeRequest) {
			r.OrderType = OrderTypeLimit
			r.LimitPrice = 0
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			r := valid
			mutate(&r)
			assert.ErrorIs(t, r.Validate(), ErrInvalidTradeRequest)
		})
	}
}
