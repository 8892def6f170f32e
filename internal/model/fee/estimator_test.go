package fee

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/tradecost/internal/config"
	"github.com/quantfold/tradecost/internal/domain"
)

func testEstimator(t *testing.T) *Estimator {
	t.Helper()
	cfg := config.Defaults().Fee
	cfg.MinSamples = 10
	cfg.RetrainEvery = 10
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testSnapshot() domain.BookSnapshot {
	return domain.BookSnapshot{
		Symbol:    "BTC-USDT-SWAP",
		Bids:      []domain.PriceLevel{{Price: 49_990, Size: 10}, {Price: 49_980, Size: 20}},
		Asks:      []domain.PriceLevel{{Price: 50_010, Size: 10}, {Price: 50_020, Size: 20}},
		BestBid:   49_990,
		BestAsk:   50_010,
		MidPrice:  50_000,
		Spread:    20,
		SpreadBps: 4,
	}
}

func marketBuy(size float64) domain.TradeRequest {
	return domain.TradeRequest{
		Symbol:      "BTC-USDT-SWAP",
		Size:        size,
		Side:        domain.SideBuy,
		OrderType:   domain.OrderTypeMarket,
		TimeHorizon: 60,
	}
}

func limitBuy(size, price float64) domain.TradeRequest {
	r := marketBuy(size)
	r.OrderType = domain.OrderTypeLimit
	r.LimitPrice = price
	return r
}

func TestMarketOrderAlwaysTaker(t *testing.T) {
	e := testEstimator(t)
	snap := testSnapshot()

	q := e.Quote(marketBuy(1), snap, 50_000)
	assert.Equal(t, 0.0, q.MakerProbability)
	assert.InDelta(t, 50_000*0.0005, q.Fee, 1e-9)
}

func TestMarketableLimitIsTaker(t *testing.T) {
	e := testEstimator(t)
	snap := testSnapshot()

	// Buy limit at or through the ask crosses immediately.
	q := e.Quote(limitBuy(1, 50_010), snap, 50_010)
	assert.Equal(t, 0.0, q.MakerProbability)
	assert.InDelta(t, 50_010*0.0005, q.Fee, 1e-9)
}

func TestRestingLimitUntrainedHeuristic(t *testing.T) {
	e := testEstimator(t)
	snap := testSnapshot()

	// At the touch: 60% maker odds.
	atTouch := e.Quote(limitBuy(1, 49_990), snap, 49_990)
	assert.InDelta(t, 0.6, atTouch.MakerProbability, 1e-9)

	// A full spread behind the touch: higher maker odds.
	behind := e.Quote(limitBuy(1, 49_970), snap, 49_970)
	assert.Greater(t, behind.MakerProbability, atTouch.MakerProbability)

	// Expected fee blends the rates.
	wantFee := 49_990 * (0.6*0.0002 + 0.4*0.0005)
	assert.InDelta(t, wantFee, atTouch.Fee, 1e-6)
}

func TestVolumeTiersLowerRates(t *testing.T) {
	e := testEstimator(t)
	snap := testSnapshot()

	base := e.Quote(marketBuy(1), snap, 50_000)
	assert.Equal(t, 0, base.Tier)

	e.RecordVolume(6_000_000)
	assert.InDelta(t, 6_000_000, e.RollingVolume(), 1e-6)

	tiered := e.Quote(marketBuy(1), snap, 50_000)
	assert.Equal(t, 2, tiered.Tier)
	assert.Less(t, tiered.Fee, base.Fee)
	assert.InDelta(t, 50_000*0.0004, tiered.Fee, 1e-9)
}

func TestRateTableOrdering(t *testing.T) {
	cfg := config.Defaults().Fee
	// Deliberately shuffled tiers still resolve correctly.
	cfg.Tiers = []config.FeeTier{
		{VolumeThreshold: 5_000_000, MakerRate: 0.0001, TakerRate: 0.0004},
		{VolumeThreshold: 1_000_000, MakerRate: 0.00015, TakerRate: 0.00045},
	}
	table := newRateTable(cfg)

	maker, taker, tier := table.ratesFor(0)
	assert.Equal(t, 0.0002, maker)
	assert.Equal(t, 0.0005, taker)
	assert.Equal(t, 0, tier)

	maker, taker, tier = table.ratesFor(2_000_000)
	assert.Equal(t, 0.00015, maker)
	assert.Equal(t, 0.00045, taker)
	assert.Equal(t, 1, tier)

	maker, _, tier = table.ratesFor(50_000_000)
	assert.Equal(t, 0.0001, maker)
	assert.Equal(t, 2, tier)
}

func makerObs(pvt float64, maker bool) domain.MakerTakerObservation {
	return domain.MakerTakerObservation{
		Symbol:        "BTC-USDT-SWAP",
		IsLimit:       true,
		PriceVsTouch:  pvt,
		SpreadBps:     4,
		Depth:         100,
		FilledAsMaker: maker,
		ObservedAt:    time.Now(),
	}
}

func TestRetrainLearnsDistanceSignal(t *testing.T) {
	e := testEstimator(t)

	// Orders behind the touch fill as maker; orders at the touch mostly
	// taker. The classifier should separate them.
	for i := 0; i < 100; i++ {
		if i%2 == 0 {
			e.Observe(makerObs(1.5, true))
		} else {
			e.Observe(makerObs(0, false))
		}
	}
	require.NoError(t, e.Retrain())
	require.True(t, e.Trained())

	snap := testSnapshot()
	behind := e.Quote(limitBuy(1, 49_960), snap, 49_960)
	atTouch := e.Quote(limitBuy(1, 49_990), snap, 49_990)
	assert.Greater(t, behind.MakerProbability, atTouch.MakerProbability)
	assert.Greater(t, behind.MakerProbability, 0.5)
	assert.Less(t, atTouch.MakerProbability, 0.5)
	assert.Equal(t, uint64(1), behind.Version)
}

func TestRetrainSingleClassFails(t *testing.T) {
	e := testEstimator(t)

	for i := 0; i < 20; i++ {
		e.Observe(makerObs(1, true))
	}
	err := e.Retrain()
	assert.ErrorIs(t, err, domain.ErrDegenerateData)
	assert.False(t, e.Trained())

	status := e.Status()
	assert.NotEmpty(t, status.LastError)
	assert.False(t, status.Trained)
}

func TestRetrainFailureKeepsClassifier(t *testing.T) {
	e := testEstimator(t)

	for i := 0; i < 40; i++ {
		e.Observe(makerObs(float64(i%3), i%2 == 0))
	}
	require.NoError(t, e.Retrain())

	// Flood with a single class; the retrain fails and the old generation
	// keeps serving.
	for i := 0; i < e.cfg.MaxObservations+10; i++ {
		e.Observe(makerObs(1, true))
	}
	require.Error(t, e.Retrain())

	assert.True(t, e.Trained())
	status := e.Status()
	assert.Equal(t, uint64(1), status.Version)
	assert.NotEmpty(t, status.LastError)
}

func TestVolumeWindowExpiry(t *testing.T) {
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	w := newVolumeWindow(30, func() time.Time { return clock })

	w.add(1_000_000)
	assert.InDelta(t, 1_000_000, w.total(), 1e-6)

	// 29 days later the bucket still counts.
	clock = clock.AddDate(0, 0, 29)
	assert.InDelta(t, 1_000_000, w.total(), 1e-6)

	// 31 days later it has aged out.
	clock = clock.AddDate(0, 0, 2)
	assert.InDelta(t, 0, w.total(), 1e-6)
}
