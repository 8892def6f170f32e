package slippage

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

// Prediction is one slippage estimate in quote currency, with the two-sided
// interval at the configured confidence level.
type Prediction struct {
	Slippage   float64
	Interval   domain.ConfidenceInterval
	Confidence float64
	Version    uint64
	// Fallback is set when no trained model was available and the
	// spread/depth heuristic answered instead.
	Fallback bool
}

// artifact is one immutable trained model generation. Estimation reads
// whichever artifact the pointer holds at call time; retraining builds a new
// one off to the side and swaps it in whole.
type artifact struct {
	version     uint64
	trainedAt   time.Time
	sampleCount int
	level       float64
	lower       *quantileModel
	median      *quantileModel
	upper       *quantileModel
}

// Predictor serves slippage predictions and accumulates realized
// observations for periodic retraining. Prediction never blocks on training.
type Predictor struct {
	cfg    config.SlippageConfig
	logger *slog.Logger

	current atomic.Pointer[artifact]
	version atomic.Uint64

	mu         sync.Mutex
	buf        []domain.SlippageObservation // bounded, oldest dropped first
	sinceTrain int
	lastErr    string
	retraining bool
}

// New creates an untrained Predictor. It serves heuristic fallbacks until
// the first successful Retrain.
func New(cfg config.SlippageConfig, logger *slog.Logger) *Predictor {
	return &Predictor{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "slippage_predictor")),
	}
}

// Predict estimates the slippage cost for the given feature vector (canonical
// order from domain.SlippageObservation.Features) and trade notional.
func (p *Predictor) Predict(features []float64, notional float64) Prediction {
	art := p.current.Load()
	if art == nil {
		return p.fallback(features, notional)
	}

	med := art.median.predict(features)
	lo := art.lower.predict(features)
	hi := art.upper.predict(features)

	// Slippage is a cost; the fitted quantiles can dip below zero on sparse
	// data, so clamp and keep the interval ordered around the point estimate.
	med = math.Max(med, 0)
	lo = math.Max(math.Min(lo, med), 0)
	hi = math.Max(hi, med)

	return Prediction{
		Slippage: med,
		Interval: domain.ConfidenceInterval{
			Lower: lo,
			Upper: hi,
			Level: art.level,
		},
		Confidence: trainedConfidence(art.sampleCount),
		Version:    art.version,
	}
}

// fallback is the untrained heuristic: half the quoted spread on the
// notional, widened by how much of the visible depth the trade consumes.
func (p *Predictor) fallback(features []float64, notional float64) Prediction {
	var size, spreadBps, depth float64
	if len(features) >= 3 {
		size, spreadBps, depth = features[0], features[1], features[2]
	}

	base := notional * spreadBps / 2 / 1e4
	if depth > 0 && size > 0 {
		frac := size / depth
		if frac > 1 {
			frac = 1
		}
		base *= 1 + frac
	}
	if base < 0 || math.IsNaN(base) || math.IsInf(base, 0) {
		base = 0
	}

	return Prediction{
		Slippage: base,
		Interval: domain.ConfidenceInterval{
			Lower: base / 2,
			Upper: base * 2,
			Level: p.cfg.ConfidenceLevel,
		},
		Confidence: 0.5,
		Fallback:   true,
	}
}

// trainedConfidence grows with sample count and saturates at 0.9.
func trainedConfidence(samples int) float64 {
	conf := 0.5 + 0.4*float64(samples)/1000
	if conf > 0.9 {
		conf = 0.9
	}
	return conf
}

// Observe buffers one realized-slippage sample. It returns true when enough
// new samples have accumulated that the caller should schedule a Retrain.
func (p *Predictor) Observe(obs domain.SlippageObservation) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.buf) >= p.cfg.MaxObservations && p.cfg.MaxObservations > 0 {
		p.buf = p.buf[1:]
	}
	p.buf = append(p.buf, obs)
	p.sinceTrain++

	return p.sinceTrain >= p.cfg.RetrainEvery && len(p.buf) >= p.cfg.MinSamples && !p.retraining
}

// Retrain fits a new model generation from the buffered observations and
// atomically swaps it in. On failure the previous generation keeps serving
// and the error is recorded for the status export.
func (p *Predictor) Retrain() error {
	p.mu.Lock()
	if p.retraining {
		p.mu.Unlock()
		return nil
	}
	if len(p.buf) < p.cfg.MinSamples {
		p.mu.Unlock()
		return fmt.Errorf("slippage: %w: %d samples, need %d", domain.ErrInsufficientData, len(p.buf), p.cfg.MinSamples)
	}
	p.retraining = true
	rows := make([][]float64, len(p.buf))
	targets := make([]float64, len(p.buf))
	for i, obs := range p.buf {
		rows[i] = obs.Features()
		targets[i] = obs.Slippage
	}
	p.mu.Unlock()

	art, err := p.fit(rows, targets)

	p.mu.Lock()
	p.retraining = false
	if err != nil {
		p.lastErr = err.Error()
		p.mu.Unlock()
		p.logger.Error("retrain failed, keeping previous model", slog.String("error", err.Error()))
		return err
	}
	p.sinceTrain = 0
	p.lastErr = ""
	p.mu.Unlock()

	p.current.Store(art)
	p.logger.Info("model retrained",
		slog.Uint64("version", art.version),
		slog.Int("samples", art.sampleCount))
	return nil
}

func (p *Predictor) fit(rows [][]float64, targets []float64) (*artifact, error) {
	level := p.cfg.ConfidenceLevel
	loTau := (1 - level) / 2
	hiTau := 1 - loTau

	median, err := fitQuantile(rows, targets, 0.5, p.cfg.LearningRate, p.cfg.Epochs)
	if err != nil {
		return nil, fmt.Errorf("slippage: fit median: %w", err)
	}
	lower, err := fitQuantile(rows, targets, loTau, p.cfg.LearningRate, p.cfg.Epochs)
	if err != nil {
		return nil, fmt.Errorf("slippage: fit lower quantile: %w", err)
	}
	upper, err := fitQuantile(rows, targets, hiTau, p.cfg.LearningRate, p.cfg.Epochs)
	if err != nil {
		return nil, fmt.Errorf("slippage: fit upper quantile: %w", err)
	}

	return &artifact{
		version:     p.version.Add(1),
		trainedAt:   time.Now().UTC(),
		sampleCount: len(rows),
		level:       level,
		lower:       lower,
		median:      median,
		upper:       upper,
	}, nil
}

// Trained reports whether a model generation is being served.
func (p *Predictor) Trained() bool { return p.current.Load() != nil }

// Status reports the serving generation for the metrics export.
func (p *Predictor) Status() domain.TrainingStatus {
	p.mu.Lock()
	lastErr := p.lastErr
	samples := len(p.buf)
	p.mu.Unlock()

	status := domain.TrainingStatus{
		Model:       "slippage_quantile",
		SampleCount: samples,
		LastError:   lastErr,
	}
	if art := p.current.Load(); art != nil {
		status.Trained = true
		status.Version = art.version
		status.LastTrainedAt = art.trainedAt
	}
	return status
}
