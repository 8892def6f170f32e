package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quantfold/tradecost/internal/domain"
)

// EstimateStore implements domain.EstimateStore using PostgreSQL.
type EstimateStore struct {
	pool *pgxpool.Pool
}

// NewEstimateStore creates an EstimateStore backed by the given pool.
func NewEstimateStore(pool *pgxpool.Pool) *EstimateStore {
	return &EstimateStore{pool: pool}
}

const estimateSelectCols = `id, symbol, created_at,
	side, order_type, size, limit_price, time_horizon,
	execution_price, notional,
	exchange_fee, slippage_cost, market_impact, total_cost, cost_bps,
	maker_probability, slippage_confidence,
	slippage_lower, slippage_upper, slippage_level,
	strategy_choice, strategy_market_cost, strategy_limit_cost, strategy_rationale,
	spread, market_depth, volatility,
	slippage_model_version, fee_model_version`

func scanEstimateRow(row pgx.Row) (domain.CostEstimate, error) {
	var e domain.CostEstimate
	err := row.Scan(
		&e.ID, &e.Symbol, &e.CreatedAt,
		&e.Request.Side, &e.Request.OrderType, &e.Request.Size,
		&e.Request.LimitPrice, &e.Request.TimeHorizon,
		&e.ExecutionPrice, &e.Notional,
		&e.ExchangeFee, &e.SlippageCost, &e.MarketImpact, &e.TotalCost, &e.CostBps,
		&e.MakerProbability, &e.SlippageConfidence,
		&e.SlippageInterval.Lower, &e.SlippageInterval.Upper, &e.SlippageInterval.Level,
		&e.OptimalStrategy.Choice, &e.OptimalStrategy.MarketCost,
		&e.OptimalStrategy.LimitCost, &e.OptimalStrategy.Rationale,
		&e.Spread, &e.MarketDepth, &e.Volatility,
		&e.SlippageModelVersion, &e.FeeModelVersion,
	)
	if err != nil {
		return domain.CostEstimate{}, err
	}
	e.Request.Symbol = e.Symbol
	return e, nil
}

func scanEstimateRows(rows pgx.Rows) ([]domain.CostEstimate, error) {
	var out []domain.CostEstimate
	for rows.Next() {
		e, err := scanEstimateRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Insert persists one produced estimate.
func (s *EstimateStore) Insert(ctx context.Context, est domain.CostEstimate) error {
	const query = `
		INSERT INTO cost_estimates (
			id, symbol, created_at,
			side, order_type, size, limit_price, time_horizon,
			execution_price, notional,
			exchange_fee, slippage_cost, market_impact, total_cost, cost_bps,
			maker_probability, slippage_confidence,
			slippage_lower, slippage_upper, slippage_level,
			strategy_choice, strategy_market_cost, strategy_limit_cost, strategy_rationale,
			spread, market_depth, volatility,
			slippage_model_version, fee_model_version
		) VALUES (
			$1, $2, $3,
			$4, $5, $6, $7, $8,
			$9, $10,
			$11, $12, $13, $14, $15,
			$16, $17,
			$18, $19, $20,
			$21, $22, $23, $24,
			$25, $26, $27,
			$28, $29
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		est.ID, est.Symbol, est.CreatedAt,
		est.Request.Side, est.Request.OrderType, est.Request.Size,
		est.Request.LimitPrice, est.Request.TimeHorizon,
		est.ExecutionPrice, est.Notional,
		est.ExchangeFee, est.SlippageCost, est.MarketImpact, est.TotalCost, est.CostBps,
		est.MakerProbability, est.SlippageConfidence,
		est.SlippageInterval.Lower, est.SlippageInterval.Upper, est.SlippageInterval.Level,
		est.OptimalStrategy.Choice, est.OptimalStrategy.MarketCost,
		est.OptimalStrategy.LimitCost, est.OptimalStrategy.Rationale,
		est.Spread, est.MarketDepth, est.Volatility,
		est.SlippageModelVersion, est.FeeModelVersion,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert estimate %s: %w", est.ID, err)
	}
	return nil
}

// GetByID returns one estimate, or domain.ErrNotFound.
func (s *EstimateStore) GetByID(ctx context.Context, id string) (domain.CostEstimate, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+estimateSelectCols+` FROM cost_estimates WHERE id = $1`, id)
	est, err := scanEstimateRow(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.CostEstimate{}, fmt.Errorf("postgres: estimate %s: %w", id, domain.ErrNotFound)
		}
		return domain.CostEstimate{}, fmt.Errorf("postgres: get estimate %s: %w", id, err)
	}
	return est, nil
}

// ListRecent returns estimates for a symbol, newest first, with pagination
// and optional time filtering.
func (s *EstimateStore) ListRecent(ctx context.Context, symbol string, opts domain.ListOpts) ([]domain.CostEstimate, error) {
	query := `SELECT ` + estimateSelectCols + ` FROM cost_estimates WHERE symbol = $1`
	args := []any{symbol}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list estimates: %w", err)
	}
	defer rows.Close()

	out, err := scanEstimateRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan estimates: %w", err)
	}
	return out, nil
}

// ListBefore returns all estimates created strictly before the cutoff,
// oldest first, for archival.
func (s *EstimateStore) ListBefore(ctx context.Context, before time.Time) ([]domain.CostEstimate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+estimateSelectCols+` FROM cost_estimates
		 WHERE created_at < $1 ORDER BY created_at ASC`, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list estimates before %s: %w", before, err)
	}
	defer rows.Close()

	out, err := scanEstimateRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan estimates before %s: %w", before, err)
	}
	return out, nil
}

// DeleteBefore removes estimates created strictly before the cutoff and
// returns the number deleted.
func (s *EstimateStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM cost_estimates WHERE created_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete estimates before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

// Count returns the total number of stored estimates.
func (s *EstimateStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM cost_estimates`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count estimates: %w", err)
	}
	return n, nil
}

// Compile-time interface check.
var _ domain.EstimateStore = (*EstimateStore)(nil)
