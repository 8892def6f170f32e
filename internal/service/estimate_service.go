// Package service coordinates the estimation engine with the persistence and
// fan-out layers. Services own the side effects (Postgres writes, Redis
// publishes) so the engine itself stays a pure in-memory orchestrator.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/quantfold/tradecost/internal/domain"
	"github.com/quantfold/tradecost/internal/engine"
)

// persistTimeout bounds the background writes triggered by an estimate so a
// slow store can never leak goroutines indefinitely.
const persistTimeout = 5 * time.Second

// EstimateService wraps the estimation engine with history persistence,
// observation recording, and event publication. The store, observation
// store, and bus are all optional; a nil dependency disables that side
// effect without affecting estimation.
type EstimateService struct {
	engine *engine.Engine
	store  domain.EstimateStore
	obs    domain.ObservationStore
	bus    domain.SignalBus
	logger *slog.Logger
}

// NewEstimateService creates an EstimateService. store, obs, and bus may be
// nil.
func NewEstimateService(
	eng *engine.Engine,
	store domain.EstimateStore,
	obs domain.ObservationStore,
	bus domain.SignalBus,
	logger *slog.Logger,
) *EstimateService {
	return &EstimateService{
		engine: eng,
		store:  store,
		obs:    obs,
		bus:    bus,
		logger: logger.With(slog.String("component", "estimate_service")),
	}
}

// Estimate produces a cost estimate and fans it out. Persistence and
// publication run in the background; the caller gets the estimate as soon as
// the engine computes it, and a store outage degrades to in-memory-only
// operation rather than failing the request.
func (s *EstimateService) Estimate(ctx context.Context, req domain.TradeRequest) (domain.CostEstimate, error) {
	est, err := s.engine.Estimate(ctx, req)
	if err != nil {
		return domain.CostEstimate{}, err
	}

	if s.store != nil || s.bus != nil {
		go s.fanOut(est)
	}
	return est, nil
}

// fanOut persists and publishes one estimate on its own bounded context.
func (s *EstimateService) fanOut(est domain.CostEstimate) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	if s.store != nil {
		if err := s.store.Insert(ctx, est); err != nil {
			s.logger.WarnContext(ctx, "persist estimate failed",
				slog.String("id", est.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	if s.bus != nil {
		payload, err := json.Marshal(est)
		if err != nil {
			return
		}
		if err := s.bus.Publish(ctx, "estimates", payload); err != nil {
			s.logger.WarnContext(ctx, "publish estimate failed",
				slog.String("id", est.ID),
				slog.String("error", err.Error()),
			)
		}
		if err := s.bus.StreamAppend(ctx, "estimates", payload); err != nil {
			s.logger.WarnContext(ctx, "append estimate to stream failed",
				slog.String("id", est.ID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// GetEstimate returns one stored estimate by ID.
func (s *EstimateService) GetEstimate(ctx context.Context, id string) (domain.CostEstimate, error) {
	if s.store == nil {
		return domain.CostEstimate{}, fmt.Errorf("estimate_service: history disabled: %w", domain.ErrNotFound)
	}
	return s.store.GetByID(ctx, id)
}

// ListEstimates returns stored estimates for a symbol, newest first.
func (s *EstimateService) ListEstimates(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.CostEstimate, error) {
	if s.store == nil {
		return nil, fmt.Errorf("estimate_service: history disabled: %w", domain.ErrNotFound)
	}
	return s.store.ListRecent(ctx, symbol, opts)
}

// RecordSlippage feeds one realized-slippage sample to the predictor and
// persists it so the training buffer survives restarts. Implements the feed
// observation sink.
func (s *EstimateService) RecordSlippage(obs domain.SlippageObservation) {
	s.engine.RecordSlippage(obs)

	if s.obs == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.obs.InsertSlippageBatch(ctx, []domain.SlippageObservation{obs}); err != nil {
			s.logger.WarnContext(ctx, "persist slippage observation failed",
				slog.String("symbol", obs.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// RecordFill feeds one fill outcome to the maker/taker classifier and the
// rolling fee volume, and persists it. Implements the feed observation sink.
func (s *EstimateService) RecordFill(obs domain.MakerTakerObservation, notional float64) {
	s.engine.RecordFill(obs, notional)

	if s.obs == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := s.obs.InsertMakerTakerBatch(ctx, []domain.MakerTakerObservation{obs}); err != nil {
			s.logger.WarnContext(ctx, "persist fill observation failed",
				slog.String("symbol", obs.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Restore reloads the newest persisted observations for each symbol into the
// in-memory training buffers, so the models pick up where they left off
// after a restart. Volume contributions are not replayed; the fee tier
// resets conservatively to the base schedule.
func (s *EstimateService) Restore(ctx context.Context, symbols []string, limit int) error {
	if s.obs == nil {
		return nil
	}

	var slips, fills int
	for _, symbol := range symbols {
		slipObs, err := s.obs.ListSlippageRecent(ctx, symbol, limit)
		if err != nil {
			return fmt.Errorf("estimate_service: restore slippage for %q: %w", symbol, err)
		}
		// Recent-first from the store; replay oldest first so the buffer
		// evicts in the same order it originally would have.
		for i := len(slipObs) - 1; i >= 0; i-- {
			s.engine.RecordSlippage(slipObs[i])
		}
		slips += len(slipObs)

		fillObs, err := s.obs.ListMakerTakerRecent(ctx, symbol, limit)
		if err != nil {
			return fmt.Errorf("estimate_service: restore fills for %q: %w", symbol, err)
		}
		for i := len(fillObs) - 1; i >= 0; i-- {
			s.engine.RecordFill(fillObs[i], 0)
		}
		fills += len(fillObs)
	}

	s.logger.InfoContext(ctx, "restored training observations",
		slog.Int("slippage", slips),
		slog.Int("fills", fills),
	)
	return nil
}

// Statuses reports the training state of every online model.
func (s *EstimateService) Statuses() []domain.TrainingStatus {
	return s.engine.Statuses()
}

// HistoryCount returns the number of estimates retained in the primary
// store, or -1 when history is disabled.
func (s *EstimateService) HistoryCount(ctx context.Context) (int64, error) {
	if s.store == nil {
		return -1, nil
	}
	return s.store.Count(ctx)
}
