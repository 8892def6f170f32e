package fee

import (
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quantfold/tradecost/internal/config"
	"github.com/quantfold/tradecost/internal/domain"
)

// Quote is one expected-fee figure with the blend inputs that produced it.
type Quote struct {
	Fee              float64 // expected fee, quote currency
	MakerProbability float64
	MakerRate        float64
	TakerRate        float64
	Tier             int
	Version          uint64
}

// classifierArtifact is one immutable trained classifier generation.
type classifierArtifact struct {
	version     uint64
	trainedAt   time.Time
	sampleCount int
	model       *logisticModel
}

// Estimator computes expected exchange fees. The rate comes from the
// volume-tiered table; the maker/taker blend comes from hard order-type rules
// and, for resting limit orders, the fill classifier.
type Estimator struct {
	cfg    config.FeeConfig
	table  rateTable
	logger *slog.Logger

	current atomic.Pointer[classifierArtifact]
	version atomic.Uint64

	mu         sync.Mutex
	buf        []domain.MakerTakerObservation
	sinceTrain int
	lastErr    string
	retraining bool
	volume     *volumeWindow
}

// New creates an Estimator with an untrained classifier; resting limit
// orders get a distance-based heuristic until the first successful Retrain.
func New(cfg config.FeeConfig, logger *slog.Logger) *Estimator {
	return &Estimator{
		cfg:    cfg,
		table:  newRateTable(cfg),
		logger: logger.With(slog.String("component", "fee_estimator")),
		volume: newVolumeWindow(30, time.Now),
	}
}

// Quote prices the expected fee for the request against the current book.
// Market orders always pay taker; a limit priced through the opposite touch
// is marketable and also pays taker. Only a resting limit earns a maker
// blend.
func (e *Estimator) Quote(req domain.TradeRequest, snap domain.BookSnapshot, notional float64) Quote {
	e.mu.Lock()
	vol := e.volume.total()
	e.mu.Unlock()
	maker, taker, tier := e.table.ratesFor(vol)

	q := Quote{MakerRate: maker, TakerRate: taker, Tier: tier}
	if art := e.current.Load(); art != nil {
		q.Version = art.version
	}

	prob := e.makerProbability(req, snap)
	q.MakerProbability = prob
	q.Fee = notional * (prob*maker + (1-prob)*taker)
	return q
}

func (e *Estimator) makerProbability(req domain.TradeRequest, snap domain.BookSnapshot) float64 {
	if req.OrderType != domain.OrderTypeLimit {
		return 0
	}

	pvt, marketable := priceVsTouch(req, snap)
	if marketable {
		return 0
	}

	if art := e.current.Load(); art != nil {
		obs := domain.MakerTakerObservation{
			IsLimit:      true,
			PriceVsTouch: pvt,
			SpreadBps:    snap.SpreadBps,
			Depth:        snap.TotalDepth(10),
		}
		return clampProb(art.model.makerProb(obs.Features()))
	}

	// Untrained heuristic: a limit at the touch is likely but not certain to
	// rest; each spread of distance behind it raises the odds.
	p := 0.6 + 0.3*math.Min(1, math.Max(0, pvt))
	return clampProb(p)
}

// priceVsTouch returns the limit price's signed distance behind the
// same-side touch in spread units, and whether the order would cross the
// opposite touch immediately.
func priceVsTouch(req domain.TradeRequest, snap domain.BookSnapshot) (pvt float64, marketable bool) {
	if snap.BestBid <= 0 || snap.BestAsk <= 0 {
		return 0, false
	}
	spread := snap.BestAsk - snap.BestBid
	if spread <= 0 {
		spread = snap.MidPrice * 1e-4 // degenerate quote, use 1 bp
	}
	switch req.Side {
	case domain.SideBuy:
		if req.LimitPrice >= snap.BestAsk {
			return 0, true
		}
		return (snap.BestBid - req.LimitPrice) / spread, false
	case domain.SideSell:
		if req.LimitPrice <= snap.BestBid {
			return 0, true
		}
		return (req.LimitPrice - snap.BestAsk) / spread, false
	}
	return 0, false
}

func clampProb(p float64) float64 {
	if p < 0.01 {
		return 0.01
	}
	if p > 0.99 {
		return 0.99
	}
	return p
}

// RecordVolume adds a filled notional to the rolling 30-day volume used for
// tier lookup.
func (e *Estimator) RecordVolume(notional float64) {
	if notional <= 0 {
		return
	}
	e.mu.Lock()
	e.volume.add(notional)
	e.mu.Unlock()
}

// RollingVolume returns the current 30-day traded notional.
func (e *Estimator) RollingVolume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume.total()
}

// Observe buffers one fill outcome. It returns true when the caller should
// schedule a Retrain.
func (e *Estimator) Observe(obs domain.MakerTakerObservation) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if len(e.buf) >= e.cfg.MaxObservations && e.cfg.MaxObservations > 0 {
		e.buf = e.buf[1:]
	}
	e.buf = append(e.buf, obs)
	e.sinceTrain++

	return e.sinceTrain >= e.cfg.RetrainEvery && len(e.buf) >= e.cfg.MinSamples && !e.retraining
}

// Retrain fits a new classifier generation from the buffered fills and swaps
// it in atomically. Failures keep the previous generation serving.
func (e *Estimator) Retrain() error {
	e.mu.Lock()
	if e.retraining {
		e.mu.Unlock()
		return nil
	}
	if len(e.buf) < e.cfg.MinSamples {
		e.mu.Unlock()
		return fmt.Errorf("fee: %w: %d samples, need %d", domain.ErrInsufficientData, len(e.buf), e.cfg.MinSamples)
	}
	e.retraining = true
	rows := make([][]float64, len(e.buf))
	labels := make([]float64, len(e.buf))
	for i, obs := range e.buf {
		rows[i] = obs.Features()
		if obs.FilledAsMaker {
			labels[i] = 1
		}
	}
	e.mu.Unlock()

	model, err := fitLogistic(rows, labels, e.cfg.LearningRate, e.cfg.Epochs)

	e.mu.Lock()
	e.retraining = false
	if err != nil {
		e.lastErr = err.Error()
		e.mu.Unlock()
		e.logger.Error("retrain failed, keeping previous classifier", slog.String("error", err.Error()))
		return err
	}
	e.sinceTrain = 0
	e.lastErr = ""
	samples := len(rows)
	e.mu.Unlock()

	art := &classifierArtifact{
		version:     e.version.Add(1),
		trainedAt:   time.Now().UTC(),
		sampleCount: samples,
		model:       model,
	}
	e.current.Store(art)
	e.logger.Info("classifier retrained",
		slog.Uint64("version", art.version),
		slog.Int("samples", art.sampleCount))
	return nil
}

// Trained reports whether a classifier generation is being served.
func (e *Estimator) Trained() bool { return e.current.Load() != nil }

// Status reports the serving generation for the metrics export.
func (e *Estimator) Status() domain.TrainingStatus {
	e.mu.Lock()
	lastErr := e.lastErr
	samples := len(e.buf)
	e.mu.Unlock()

	status := domain.TrainingStatus{
		Model:       "maker_taker_logistic",
		SampleCount: samples,
		LastError:   lastErr,
	}
	if art := e.current.Load(); art != nil {
		status.Trained = true
		status.Version = art.version
		status.LastTrainedAt = art.trainedAt
	}
	return status
}

// volumeWindow tracks traded notional in daily buckets over a fixed span.
// Stale buckets are zeroed lazily on access.
type volumeWindow struct {
	buckets []float64
	days    []int64 // unix day stamp per bucket
	now     func() time.Time
}

func newVolumeWindow(spanDays int, now func() time.Time) *volumeWindow {
	return &volumeWindow{
		buckets: make([]float64, spanDays),
		days:    make([]int64, spanDays),
		now:     now,
	}
}

func (w *volumeWindow) add(notional float64) {
	day := w.now().Unix() / 86400
	idx := int(day % int64(len(w.buckets)))
	if w.days[idx] != day {
		w.buckets[idx] = 0
		w.days[idx] = day
	}
	w.buckets[idx] += notional
}

func (w *volumeWindow) total() float64 {
	day := w.now().Unix() / 86400
	cutoff := day - int64(len(w.buckets)) + 1
	var sum float64
	for i, stamp := range w.days {
		if stamp >= cutoff && stamp <= day {
			sum += w.buckets[i]
		}
	}
	return sum
}
