package slippage

import (
	"io"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/tradecost/internal/config"
	"github.com/quantfold/tradecost/internal/domain"
)

func testPredictor(t *testing.T) *Predictor {
	t.Helper()
	cfg := config.Defaults().Slippage
	cfg.MinSamples = 10
	cfg.RetrainEvery = 10
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func obsAt(size, spreadBps, depth, vol, slippage float64) domain.SlippageObservation {
	return domain.SlippageObservation{
		Symbol:     "BTC-USDT-SWAP",
		TradeSize:  size,
		SpreadBps:  spreadBps,
		Depth:      depth,
		Volatility: vol,
		HourOfDay:  12,
		Slippage:   slippage,
		ObservedAt: time.Now(),
	}
}

func TestPredictUntrainedFallback(t *testing.T) {
	p := testPredictor(t)

	obs := obsAt(10, 4, 100, 0.001, 0)
	got := p.Predict(obs.Features(), 500_000)

	assert.True(t, got.Fallback)
	assert.Equal(t, 0.5, got.Confidence)
	assert.Equal(t, uint64(0), got.Version)
	// Half the 4 bps spread on 500k notional is 100; widened by the 10% of
	// depth the trade consumes.
	assert.InDelta(t, 110, got.Slippage, 1e-9)
	assert.LessOrEqual(t, got.Interval.Lower, got.Slippage)
	assert.GreaterOrEqual(t, got.Interval.Upper, got.Slippage)
}

func TestRetrainRequiresMinSamples(t *testing.T) {
	p := testPredictor(t)

	for i := 0; i < 5; i++ {
		p.Observe(obsAt(10, 4, 100, 0.001, 40))
	}
	err := p.Retrain()
	assert.ErrorIs(t, err, domain.ErrInsufficientData)
	assert.False(t, p.Trained())
}

func TestObserveSignalsRetrain(t *testing.T) {
	p := testPredictor(t)

	var signaled bool
	for i := 0; i < 10; i++ {
		signaled = p.Observe(obsAt(float64(i+1), 4, 100, 0.001, 40))
	}
	assert.True(t, signaled)
}

func TestRetrainConstantTarget(t *testing.T) {
	p := testPredictor(t)

	// Constant realized slippage regardless of features: the model should
	// reproduce it as a flat prediction.
	for i := 0; i < 50; i++ {
		p.Observe(obsAt(float64(1+i%10), 2+float64(i%5), 100+float64(i), 0.001, 40))
	}
	require.NoError(t, p.Retrain())
	require.True(t, p.Trained())

	got := p.Predict(obsAt(5, 4, 120, 0.001, 0).Features(), 250_000)
	assert.False(t, got.Fallback)
	assert.InDelta(t, 40, got.Slippage, 2)
}

func TestRetrainLearnsSizeSignal(t *testing.T) {
	p := testPredictor(t)

	// Slippage proportional to trade size.
	for i := 0; i < 200; i++ {
		size := float64(1 + i%100)
		p.Observe(obsAt(size, 4, 1_000, 0.001, 2*size))
	}
	require.NoError(t, p.Retrain())

	small := p.Predict(obsAt(10, 4, 1_000, 0.001, 0).Features(), 500_000)
	large := p.Predict(obsAt(90, 4, 1_000, 0.001, 0).Features(), 4_500_000)

	assert.Greater(t, large.Slippage, small.Slippage)
	// The point estimates should land near the generating line.
	assert.InDelta(t, 20, small.Slippage, 15)
	assert.InDelta(t, 180, large.Slippage, 30)
}

func TestIntervalOrderedAndVersioned(t *testing.T) {
	p := testPredictor(t)

	for i := 0; i < 100; i++ {
		size := float64(1 + i%50)
		// Noise around the line so the quantiles separate.
		noise := float64(i%7) - 3
		p.Observe(obsAt(size, 4, 1_000, 0.001, 2*size+noise))
	}
	require.NoError(t, p.Retrain())

	got := p.Predict(obsAt(25, 4, 1_000, 0.001, 0).Features(), 1_250_000)
	assert.Equal(t, uint64(1), got.Version)
	assert.LessOrEqual(t, got.Interval.Lower, got.Slippage)
	assert.GreaterOrEqual(t, got.Interval.Upper, got.Slippage)
	assert.Equal(t, 0.8, got.Interval.Level)

	// A second retrain bumps the generation.
	require.NoError(t, p.Retrain())
	got = p.Predict(obsAt(25, 4, 1_000, 0.001, 0).Features(), 1_250_000)
	assert.Equal(t, uint64(2), got.Version)
}

func TestRetrainFailureKeepsServingModel(t *testing.T) {
	p := testPredictor(t)

	for i := 0; i < 50; i++ {
		p.Observe(obsAt(float64(1+i), 4, 1_000, 0.001, 40))
	}
	require.NoError(t, p.Retrain())
	servedVersion := p.Predict(obsAt(5, 4, 1_000, 0.001, 0).Features(), 250_000).Version

	// Poison the buffer with a non-finite target.
	bad := obsAt(5, 4, 1_000, 0.001, 40)
	bad.Slippage = math.Inf(1)
	p.Observe(bad)

	err := p.Retrain()
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrDegenerateData)

	// Old generation still serves.
	got := p.Predict(obsAt(5, 4, 1_000, 0.001, 0).Features(), 250_000)
	assert.False(t, got.Fallback)
	assert.Equal(t, servedVersion, got.Version)

	status := p.Status()
	assert.True(t, status.Trained)
	assert.NotEmpty(t, status.LastError)
}

func TestBufferBounded(t *testing.T) {
	p := testPredictor(t)
	p.cfg.MaxObservations = 25

	for i := 0; i < 100; i++ {
		p.Observe(obsAt(float64(1+i), 4, 1_000, 0.001, 40))
	}
	assert.Equal(t, 25, p.Status().SampleCount)
}

func TestStatusUntrained(t *testing.T) {
	p := testPredictor(t)
	status := p.Status()
	assert.False(t, status.Trained)
	assert.Equal(t, uint64(0), status.Version)
	assert.Equal(t, "slippage_quantile", status.Model)
}
