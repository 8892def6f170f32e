package domain

import (
	"fmt"
	"time"
)

// Side indicates whether the trade buys or sells the base asset.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// OrderType is the closed set of supported placement types.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// TradeRequest describes the order a caller wants costed. It is immutable;
// construct a new value per estimate call.
type TradeRequest struct {
	Symbol      string    `json:"symbol"`
	Size        float64   `json:"size"`
	Side        Side      `json:"side"`
	OrderType   OrderType `json:"order_type"`
	LimitPrice  float64   `json:"limit_price,omitempty"` // required iff OrderType is limit
	TimeHorizon float64   `json:"time_horizon"`          // seconds, > 0
}

// Validate checks the structural invariants the estimation caller must
// satisfy. Violations wrap ErrInvalidTradeRequest.
func (r TradeRequest) Validate() error {
	if r.Size <= 0 {
		return fmt.Errorf("%w: size must be positive, got %v", ErrInvalidTradeRequest, r.Size)
	}
	if r.Side != SideBuy && r.Side != SideSell {
		return fmt.Errorf("%w: unknown side %q", ErrInvalidTradeRequest, r.Side)
	}
	switch r.OrderType {
	case OrderTypeMarket:
		if r.LimitPrice != 0 {
			return fmt.Errorf("%w: limit price set on market order", ErrInvalidTradeRequest)
		}
	case OrderTypeLimit:
		if r.LimitPrice <= 0 {
			return fmt.Errorf("%w: limit order requires a positive limit price", ErrInvalidTradeRequest)
		}
	default:
		return fmt.Errorf("%w: unknown order type %q", ErrInvalidTradeRequest, r.OrderType)
	}
	if r.TimeHorizon <= 0 {
		return fmt.Errorf("%w: time horizon must be positive, got %v", ErrInvalidTradeRequest, r.TimeHorizon)
	}
	return nil
}

// ConfidenceInterval is a two-sided interval at a stated confidence level.
type ConfidenceInterval struct {
	Lower float64 `json:"lower"`
	Upper float64 `json:"upper"`
	Level float64 `json:"level"` // e.g. 0.8 for an 80% interval
}

// TrajectoryPoint is one slice of an execution schedule: the holdings
// remaining at time T into the horizon.
type TrajectoryPoint struct {
	T        float64 `json:"t"` // seconds from start
	Holdings float64 `json:"holdings"`
}

// StrategySchedule summarizes the optimal execution trajectory behind a
// recommendation, for callers that display a schedule.
type StrategySchedule struct {
	ExpectedCost float64           `json:"expected_cost"`
	Variance     float64           `json:"variance"`
	Utility      float64           `json:"utility"` // expected cost + gamma/2 * variance
	Points       []TrajectoryPoint `json:"points,omitempty"`
}

// StrategyChoice is the recommended placement style.
type StrategyChoice string

const (
	StrategyMarketTaker StrategyChoice = "market_taker"
	StrategyLimitMaker  StrategyChoice = "limit_maker"
)

// StrategyRecommendation compares the modeled cost of a taker-leaning market
// order against a maker-leaning limit order and names the cheaper one.
type StrategyRecommendation struct {
	Choice     StrategyChoice `json:"choice"`
	MarketCost float64        `json:"market_cost"`
	LimitCost  float64        `json:"limit_cost"`
	Rationale  string         `json:"rationale"`
}

// CostEstimate is the engine's output: a full cost breakdown for one
// TradeRequest against one book snapshot and the model versions current at
// call time. It has no identity beyond the request that produced it; the ID
// exists only for the history export.
type CostEstimate struct {
	ID        string    `json:"id"`
	Symbol    string    `json:"symbol"`
	CreatedAt time.Time `json:"created_at"`

	Request        TradeRequest `json:"request"`
	ExecutionPrice float64      `json:"execution_price"`
	Notional       float64      `json:"notional"`

	ExchangeFee  float64 `json:"exchange_fee"`
	SlippageCost float64 `json:"slippage_cost"`
	MarketImpact float64 `json:"market_impact"`
	TotalCost    float64 `json:"total_cost"`
	CostBps      float64 `json:"cost_bps"`

	MakerProbability   float64            `json:"maker_probability"`
	SlippageConfidence float64            `json:"slippage_confidence"`
	SlippageInterval   ConfidenceInterval `json:"slippage_confidence_interval"`

	OptimalStrategy StrategyRecommendation `json:"optimal_strategy"`
	Schedule        *StrategySchedule      `json:"schedule,omitempty"`

	// Market conditions at estimation time.
	Spread      float64 `json:"spread"`
	MarketDepth float64 `json:"market_depth"`
	Volatility  float64 `json:"volatility"`

	// Model versions that produced this estimate.
	SlippageModelVersion uint64 `json:"slippage_model_version"`
	FeeModelVersion      uint64 `json:"fee_model_version"`
}
