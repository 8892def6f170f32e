package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/tradecost/internal/domain"
)

// ObservationStore implements domain.ObservationStore using PostgreSQL, so
// model training buffers can be rebuilt after a restart.
type ObservationStore struct {
	pool *pgxpool.Pool
}

// NewObservationStore creates an ObservationStore backed by the given pool.
func NewObservationStore(pool *pgxpool.Pool) *ObservationStore {
	return &ObservationStore{pool: pool}
}

// InsertSlippageBatch inserts realized-slippage samples using pgx Batch.
func (s *ObservationStore) InsertSlippageBatch(ctx context.Context, obs []domain.SlippageObservation) error {
	if len(obs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO slippage_observations (
			symbol, trade_size, spread_bps, depth, volatility,
			hour_of_day, slippage, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	for _, o := range obs {
		batch.Queue(query,
			o.Symbol, o.TradeSize, o.SpreadBps, o.Depth, o.Volatility,
			o.HourOfDay, o.Slippage, o.ObservedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range obs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert slippage observation batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListSlippageRecent returns the newest slippage samples for a symbol.
func (s *ObservationStore) ListSlippageRecent(ctx context.Context, symbol string, limit int) ([]domain.SlippageObservation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT symbol, trade_size, spread_bps, depth, volatility,
		       hour_of_day, slippage, observed_at
		FROM slippage_observations
		WHERE symbol = $1
		ORDER BY observed_at DESC
		LIMIT $2`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list slippage observations: %w", err)
	}
	defer rows.Close()

	var out []domain.SlippageObservation
	for rows.Next() {
		var o domain.SlippageObservation
		if err := rows.Scan(
			&o.Symbol, &o.TradeSize, &o.SpreadBps, &o.Depth, &o.Volatility,
			&o.HourOfDay, &o.Slippage, &o.ObservedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan slippage observation: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list slippage observations: %w", err)
	}
	return out, nil
}

// InsertMakerTakerBatch inserts fill outcomes using pgx Batch.
func (s *ObservationStore) InsertMakerTakerBatch(ctx context.Context, obs []domain.MakerTakerObservation) error {
	if len(obs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	const query = `
		INSERT INTO maker_taker_observations (
			symbol, is_limit, price_vs_touch, spread_bps, depth,
			filled_as_maker, observed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`

	for _, o := range obs {
		batch.Queue(query,
			o.Symbol, o.IsLimit, o.PriceVsTouch, o.SpreadBps, o.Depth,
			o.FilledAsMaker, o.ObservedAt,
		)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()

	for i := range obs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("postgres: insert maker/taker observation batch item %d: %w", i, err)
		}
	}
	return nil
}

// ListMakerTakerRecent returns the newest fill outcomes for a symbol.
func (s *ObservationStore) ListMakerTakerRecent(ctx context.Context, symbol string, limit int) ([]domain.MakerTakerObservation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT symbol, is_limit, price_vs_touch, spread_bps, depth,
		       filled_as_maker, observed_at
		FROM maker_taker_observations
		WHERE symbol = $1
		ORDER BY observed_at DESC
		LIMIT $2`, symbol, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list maker/taker observations: %w", err)
	}
	defer rows.Close()

	var out []domain.MakerTakerObservation
	for rows.Next() {
		var o domain.MakerTakerObservation
		if err := rows.Scan(
			&o.Symbol, &o.IsLimit, &o.PriceVsTouch, &o.SpreadBps, &o.Depth,
			&o.FilledAsMaker, &o.ObservedAt,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan maker/taker observation: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list maker/taker observations: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.ObservationStore = (*ObservationStore)(nil)
