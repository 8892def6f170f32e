package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/tradecost/internal/book"
	"github.com/quantfold/tradecost/internal/config"
	"github.com/quantfold/tradecost/internal/domain"
	"github.com/quantfold/tradecost/internal/engine"
	"github.com/quantfold/tradecost/internal/model/fee"
	"github.com/quantfold/tradecost/internal/model/impact"
	"github.com/quantfold/tradecost/internal/model/slippage"
)

const testSymbol = "BTC-USDT-SWAP"

type fakeEstimateStore struct {
	mu       sync.Mutex
	inserted []domain.CostEstimate
}

func (f *fakeEstimateStore) Insert(_ context.Context, est domain.CostEstimate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserted = append(f.inserted, est)
	return nil
}

func (f *fakeEstimateStore) GetByID(_ context.Context, id string) (domain.CostEstimate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, est := range f.inserted {
		if est.ID == id {
			return est, nil
		}
	}
	return domain.CostEstimate{}, domain.ErrNotFound
}

func (f *fakeEstimateStore) ListRecent(_ context.Context, symbol string, _ domain.ListOpts) ([]domain.CostEstimate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.CostEstimate
	for _, est := range f.inserted {
		if est.Symbol == symbol {
			out = append(out, est)
		}
	}
	return out, nil
}

func (f *fakeEstimateStore) ListBefore(context.Context, time.Time) ([]domain.CostEstimate, error) {
	return nil, nil
}

func (f *fakeEstimateStore) DeleteBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (f *fakeEstimateStore) Count(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.inserted)), nil
}

func (f *fakeEstimateStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inserted)
}

type fakeObservationStore struct {
	mu    sync.Mutex
	slips []domain.SlippageObservation
	fills []domain.MakerTakerObservation
}

func (f *fakeObservationStore) InsertSlippageBatch(_ context.Context, obs []domain.SlippageObservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.slips = append(f.slips, obs...)
	return nil
}

func (f *fakeObservationStore) ListSlippageRecent(_ context.Context, _ string, limit int) ([]domain.SlippageObservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]domain.SlippageObservation(nil), f.slips...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeObservationStore) InsertMakerTakerBatch(_ context.Context, obs []domain.MakerTakerObservation) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fills = append(f.fills, obs...)
	return nil
}

func (f *fakeObservationStore) ListMakerTakerRecent(_ context.Context, _ string, limit int) ([]domain.MakerTakerObservation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := append([]domain.MakerTakerObservation(nil), f.fills...)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeObservationStore) slipCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.slips)
}

type fakeBus struct {
	mu        sync.Mutex
	published map[string]int
	appended  map[string]int
}

func newFakeBus() *fakeBus {
	return &fakeBus{published: map[string]int{}, appended: map[string]int{}}
}

func (f *fakeBus) Publish(_ context.Context, channel string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[channel]++
	return nil
}

func (f *fakeBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, nil
}

func (f *fakeBus) StreamAppend(_ context.Context, stream string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appended[stream]++
	return nil
}

func (f *fakeBus) publishedCount(channel string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.published[channel]
}

func (f *fakeBus) appendedCount(stream string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.appended[stream]
}

func testEngine(t *testing.T) *engine.Engine {
	t.Helper()
	cfg := config.Defaults()
	cfg.Slippage.MinSamples = 5
	cfg.Slippage.RetrainEvery = 5
	cfg.Fee.MinSamples = 5
	cfg.Fee.RetrainEvery = 5

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg := book.NewRegistry([]string{testSymbol}, 16)
	require.NoError(t, reg.Apply(domain.BookUpdate{
		Kind:       domain.BookUpdateSnapshot,
		Symbol:     testSymbol,
		Sequence:   1,
		Bids:       []domain.PriceLevel{{Price: 49_990, Size: 100}},
		Asks:       []domain.PriceLevel{{Price: 50_010, Size: 100}},
		ObservedAt: time.Now(),
	}))

	impactModel, err := impact.New(impact.Config{
		Params: impact.Params{
			Sigma:   cfg.Impact.Sigma,
			Gamma:   cfg.Impact.Gamma,
			Eta:     cfg.Impact.Eta,
			Epsilon: cfg.Impact.Epsilon,
		},
		MaxImpactBps:   cfg.Impact.MaxImpactBps,
		AdaptationRate: cfg.Impact.AdaptationRate,
	})
	require.NoError(t, err)

	return engine.New(cfg, reg, impactModel,
		slippage.New(cfg.Slippage, logger),
		fee.New(cfg.Fee, logger),
		nil, logger,
	)
}

func marketBuy(size float64) domain.TradeRequest {
	return domain.TradeRequest{
		Symbol:      testSymbol,
		Size:        size,
		Side:        domain.SideBuy,
		OrderType:   domain.OrderTypeMarket,
		TimeHorizon: 60,
	}
}

func TestEstimateFansOutToStoreAndBus(t *testing.T) {
	store := &fakeEstimateStore{}
	bus := newFakeBus()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewEstimateService(testEngine(t), store, nil, bus, logger)

	est, err := svc.Estimate(context.Background(), marketBuy(10))
	require.NoError(t, err)
	assert.NotEmpty(t, est.ID)
	assert.Positive(t, est.TotalCost)

	// Persistence and publication are asynchronous.
	require.Eventually(t, func() bool {
		return store.count() == 1 &&
			bus.publishedCount("estimates") == 1 &&
			bus.appendedCount("estimates") == 1
	}, 2*time.Second, 10*time.Millisecond)

	got, err := svc.GetEstimate(context.Background(), est.ID)
	require.NoError(t, err)
	assert.Equal(t, est.ID, got.ID)
}

func TestEstimateWorksWithoutStoreOrBus(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewEstimateService(testEngine(t), nil, nil, nil, logger)

	est, err := svc.Estimate(context.Background(), marketBuy(10))
	require.NoError(t, err)
	assert.Positive(t, est.TotalCost)

	_, err = svc.GetEstimate(context.Background(), est.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.ListEstimates(context.Background(), testSymbol, domain.ListOpts{})
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestEstimateValidationErrorSkipsFanOut(t *testing.T) {
	store := &fakeEstimateStore{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewEstimateService(testEngine(t), store, nil, nil, logger)

	bad := marketBuy(10)
	bad.Size = -1
	_, err := svc.Estimate(context.Background(), bad)
	require.ErrorIs(t, err, domain.ErrInvalidTradeRequest)

	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, store.count())
}

func TestRecordSlippagePersistsObservation(t *testing.T) {
	obsStore := &fakeObservationStore{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewEstimateService(testEngine(t), nil, obsStore, nil, logger)

	svc.RecordSlippage(domain.SlippageObservation{
		Symbol:     testSymbol,
		TradeSize:  10,
		SpreadBps:  4,
		Depth:      100,
		Slippage:   25,
		ObservedAt: time.Now(),
	})

	require.Eventually(t, func() bool {
		return obsStore.slipCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRestoreReplaysPersistedObservations(t *testing.T) {
	obsStore := &fakeObservationStore{}
	now := time.Now()
	for i := 0; i < 8; i++ {
		obsStore.slips = append(obsStore.slips, domain.SlippageObservation{
			Symbol:     testSymbol,
			TradeSize:  float64(10 + i),
			SpreadBps:  4,
			Depth:      100,
			Slippage:   20,
			ObservedAt: now,
		})
		obsStore.fills = append(obsStore.fills, domain.MakerTakerObservation{
			Symbol:        testSymbol,
			IsLimit:       true,
			PriceVsTouch:  1,
			SpreadBps:     4,
			Depth:         100,
			FilledAsMaker: i%2 == 0,
			ObservedAt:    now,
		})
	}

	eng := testEngine(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewEstimateService(eng, nil, obsStore, nil, logger)

	require.NoError(t, svc.Restore(context.Background(), []string{testSymbol}, 100))

	statuses := svc.Statuses()
	require.Len(t, statuses, 2)
	for _, st := range statuses {
		assert.Equal(t, 8, st.SampleCount, st.Model)
	}
}
