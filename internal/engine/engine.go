// Package engine composes the order book state with the impact, slippage,
// and fee models into full trade cost estimates, and drives online
// retraining off the estimation hot path.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quantfold/tradecost/internal/config"
	"github.com/quantfold/tradecost/internal/domain"
	"github.com/quantfold/tradecost/internal/model/fee"
	"github.com/quantfold/tradecost/internal/model/impact"
	"github.com/quantfold/tradecost/internal/model/slippage"
)

// SnapshotSource supplies the current book snapshot per symbol. ok is false
// when the symbol is untracked or the book has not synced yet.
type SnapshotSource interface {
	Snapshot(symbol string) (domain.BookSnapshot, bool)
}

// Notifier is the alerting surface; retrain failures are reported through it.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// retrainTarget identifies which model a queued retrain applies to.
type retrainTarget string

const (
	retrainSlippage retrainTarget = "slippage"
	retrainFee      retrainTarget = "fee"
)

// Engine is the cost estimation orchestrator. Estimate is safe for
// concurrent use; retraining happens on the Run goroutine and swaps model
// generations atomically, so estimates never block on training.
type Engine struct {
	logger   *slog.Logger
	books    SnapshotSource
	impact   *impact.Model
	slippage *slippage.Predictor
	fee      *fee.Estimator
	notifier Notifier // optional

	depthLevels    int
	scheduleSlices int

	retrainCh chan retrainTarget
	now       func() time.Time
}

// New wires the orchestrator. notifier may be nil.
func New(
	cfg config.Config,
	books SnapshotSource,
	impactModel *impact.Model,
	slippagePredictor *slippage.Predictor,
	feeEstimator *fee.Estimator,
	notifier Notifier,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		logger:         logger.With(slog.String("component", "engine")),
		books:          books,
		impact:         impactModel,
		slippage:       slippagePredictor,
		fee:            feeEstimator,
		notifier:       notifier,
		depthLevels:    cfg.Book.DepthLevels,
		scheduleSlices: 10,
		retrainCh:      make(chan retrainTarget, 8),
		now:            time.Now,
	}
}

// Estimate produces a full cost breakdown for the request against the
// current book. The same request against the same book state yields the same
// costs (the estimate ID aside); estimation mutates nothing.
func (e *Engine) Estimate(ctx context.Context, req domain.TradeRequest) (domain.CostEstimate, error) {
	if err := req.Validate(); err != nil {
		return domain.CostEstimate{}, err
	}
	if err := ctx.Err(); err != nil {
		return domain.CostEstimate{}, fmt.Errorf("engine: %w: %w", domain.ErrContextDone, err)
	}

	snap, ok := e.books.Snapshot(req.Symbol)
	if !ok || snap.MidPrice <= 0 {
		return domain.CostEstimate{}, fmt.Errorf("engine: no synced book for %q: %w", req.Symbol, domain.ErrNotFound)
	}

	depth := snap.Depth(req.Side, e.depthLevels)
	execPrice := e.executionPrice(req, snap)
	notional := req.Size * execPrice

	feeQuote := e.fee.Quote(req, snap, notional)

	features := domain.SlippageObservation{
		TradeSize:  req.Size,
		SpreadBps:  snap.SpreadBps,
		Depth:      depth,
		Volatility: snap.Volatility,
		HourOfDay:  fractionalHour(e.now().UTC()),
	}.Features()
	slip := e.slippage.Predict(features, notional)

	impactCost, err := e.impact.Cost(req.Size, req.TimeHorizon, snap.Volatility, snap.MidPrice, depth)
	if err != nil {
		return domain.CostEstimate{}, fmt.Errorf("engine: impact model: %w", err)
	}

	// A maker fill crosses nobody, so the expected slippage scales with the
	// probability of filling as taker.
	slippageCost := slip.Slippage * (1 - feeQuote.MakerProbability)
	total := feeQuote.Fee + slippageCost + impactCost.Total

	est := domain.CostEstimate{
		ID:        uuid.New().String(),
		Symbol:    req.Symbol,
		CreatedAt: e.now().UTC(),

		Request:        req,
		ExecutionPrice: execPrice,
		Notional:       notional,

		ExchangeFee:  feeQuote.Fee,
		SlippageCost: slippageCost,
		MarketImpact: impactCost.Total,
		TotalCost:    total,

		MakerProbability:   feeQuote.MakerProbability,
		SlippageConfidence: slip.Confidence,
		SlippageInterval:   slip.Interval,

		Spread:      snap.Spread,
		MarketDepth: depth,
		Volatility:  snap.Volatility,

		SlippageModelVersion: slip.Version,
		FeeModelVersion:      feeQuote.Version,
	}
	if notional > 0 {
		est.CostBps = total / notional * 1e4
	}

	est.OptimalStrategy = e.recommendStrategy(req, snap, notional, slip.Slippage, impactCost.Total, feeQuote)

	if sched, schedErr := e.impact.Trajectory(req.Size, req.TimeHorizon, snap.Volatility, snap.MidPrice, depth, e.scheduleSlices); schedErr == nil {
		est.Schedule = &sched
	}

	return est, nil
}

// executionPrice picks the price the cost figures are quoted against: the
// depth-walk VWAP for market orders (falling back to the touch when the book
// cannot absorb the size) and the limit price for limit orders.
func (e *Engine) executionPrice(req domain.TradeRequest, snap domain.BookSnapshot) float64 {
	if req.OrderType == domain.OrderTypeLimit {
		return req.LimitPrice
	}
	if vwap, ok := snap.ImpactPrice(req.Side, req.Size); ok {
		return vwap
	}
	if req.Side == domain.SideBuy {
		return snap.BestAsk
	}
	return snap.BestBid
}

// recommendStrategy compares the modeled cost of crossing immediately
// against resting a limit at the touch. Market impact applies to both
// legs and cancels in the comparison, but is included so the figures stand
// alone.
func (e *Engine) recommendStrategy(
	req domain.TradeRequest,
	snap domain.BookSnapshot,
	notional float64,
	rawSlippage float64,
	impactTotal float64,
	feeQuote fee.Quote,
) domain.StrategyRecommendation {
	marketCost := notional*feeQuote.TakerRate + rawSlippage + impactTotal

	limitReq := req
	limitReq.OrderType = domain.OrderTypeLimit
	if req.Side == domain.SideBuy {
		limitReq.LimitPrice = snap.BestBid
	} else {
		limitReq.LimitPrice = snap.BestAsk
	}
	limitQuote := e.fee.Quote(limitReq, snap, notional)
	limitCost := limitQuote.Fee + rawSlippage*(1-limitQuote.MakerProbability) + impactTotal

	rec := domain.StrategyRecommendation{
		MarketCost: marketCost,
		LimitCost:  limitCost,
	}
	if limitCost < marketCost {
		rec.Choice = domain.StrategyLimitMaker
		rec.Rationale = fmt.Sprintf(
			"resting at the touch saves %.2f in expected fees and slippage at %.0f%% maker odds",
			marketCost-limitCost, limitQuote.MakerProbability*100)
	} else {
		rec.Choice = domain.StrategyMarketTaker
		rec.Rationale = fmt.Sprintf(
			"crossing immediately costs %.2f less than the expected cost of resting",
			limitCost-marketCost)
	}
	return rec
}

// RecordSlippage feeds one realized-slippage observation to the predictor
// and schedules a retrain when enough samples have accumulated. It never
// blocks the caller.
func (e *Engine) RecordSlippage(obs domain.SlippageObservation) {
	if e.slippage.Observe(obs) {
		e.scheduleRetrain(retrainSlippage)
	}
}

// RecordFill feeds one maker/taker fill outcome to the fee estimator and
// counts the filled notional toward the rolling volume tier.
func (e *Engine) RecordFill(obs domain.MakerTakerObservation, notional float64) {
	e.fee.RecordVolume(notional)
	if e.fee.Observe(obs) {
		e.scheduleRetrain(retrainFee)
	}
}

// scheduleRetrain enqueues a retrain without blocking. A full queue drops
// the request; the next observation past the threshold re-triggers it.
func (e *Engine) scheduleRetrain(target retrainTarget) {
	select {
	case e.retrainCh <- target:
	default:
		e.logger.Warn("retrain queue full, dropping request", slog.String("model", string(target)))
	}
}

// Run processes queued retrains until the context is canceled. Training
// runs here, off the estimation path; estimates keep serving the previous
// model generation throughout.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.Info("retrain worker started")
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("retrain worker stopped")
			return ctx.Err()
		case target := <-e.retrainCh:
			e.runRetrain(ctx, target)
		}
	}
}

func (e *Engine) runRetrain(ctx context.Context, target retrainTarget) {
	var err error
	switch target {
	case retrainSlippage:
		err = e.slippage.Retrain()
	case retrainFee:
		err = e.fee.Retrain()
	}
	if err == nil {
		return
	}
	e.logger.ErrorContext(ctx, "model retrain failed",
		slog.String("model", string(target)),
		slog.String("error", err.Error()),
	)
	if e.notifier != nil {
		_ = e.notifier.Notify(ctx, "retrain_failed",
			fmt.Sprintf("%s retrain failed", target), err.Error())
	}
}

// Statuses reports the training state of both online models.
func (e *Engine) Statuses() []domain.TrainingStatus {
	return []domain.TrainingStatus{
		e.slippage.Status(),
		e.fee.Status(),
	}
}

// fractionalHour returns the UTC hour of day with a minute fraction, the
// time-of-day feature shared by training and inference.
func fractionalHour(t time.Time) float64 {
	return float64(t.Hour()) + float64(t.Minute())/60
}
