package domain

import (
	"context"
	"time"
)

// ListOpts provides pagination and filtering for list queries.
type ListOpts struct {
	Limit  int
	Offset int
	Since  *time.Time
	Until  *time.Time
}

// EstimateStore persists the rolling history of produced cost estimates for
// the read-only persistence/metrics export. Core estimation never depends on
// it.
type EstimateStore interface {
	Insert(ctx context.Context, est CostEstimate) error
	GetByID(ctx context.Context, id string) (CostEstimate, error)
	ListRecent(ctx context.Context, symbol string, opts ListOpts) ([]CostEstimate, error)
	ListBefore(ctx context.Context, before time.Time) ([]CostEstimate, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
	Count(ctx context.Context) (int64, error)
}

// ObservationStore persists model training observations so retraining
// survives restarts.
type ObservationStore interface {
	InsertSlippageBatch(ctx context.Context, obs []SlippageObservation) error
	ListSlippageRecent(ctx context.Context, symbol string, limit int) ([]SlippageObservation, error)
	InsertMakerTakerBatch(ctx context.Context, obs []MakerTakerObservation) error
	ListMakerTakerRecent(ctx context.Context, symbol string, limit int) ([]MakerTakerObservation, error)
}
