// Package impact implements the Almgren-Chriss optimal-execution model used
// for the market-impact component of a cost estimate.
package impact

import (
	"fmt"
	"math"
	"sync"

	"github.com/quantfold/tradecost/internal/domain"
)

// Params holds the Almgren-Chriss model coefficients.
type Params struct {
	Sigma   float64 // volatility (tick-scale, falls back to config when the book has none)
	Gamma   float64 // risk aversion, > 0
	Eta     float64 // temporary impact coefficient
	Epsilon float64 // permanent impact coefficient
}

// Validate checks coefficient invariants.
func (p Params) Validate() error {
	if p.Sigma < 0 {
		return fmt.Errorf("impact: sigma must be non-negative, got %v", p.Sigma)
	}
	if p.Gamma <= 0 {
		return fmt.Errorf("impact: gamma must be positive, got %v", p.Gamma)
	}
	if p.Eta < 0 {
		return fmt.Errorf("impact: eta must be non-negative, got %v", p.Eta)
	}
	if p.Epsilon < 0 {
		return fmt.Errorf("impact: epsilon must be non-negative, got %v", p.Epsilon)
	}
	return nil
}

// Breakdown is the static impact cost figure split into its components, all
// in quote currency.
type Breakdown struct {
	Permanent float64 `json:"permanent"`
	Temporary float64 `json:"temporary"`
	Risk      float64 `json:"risk"`
	Total     float64 `json:"total"`
	// Capped is set when available depth was too thin for the closed form
	// and the configured maximum impact was returned instead.
	Capped bool `json:"capped"`
}

// Config carries the model's operational settings.
type Config struct {
	Params            Params
	RiskMinTrajectory bool    // exponential (sinh) trajectory instead of TWAP
	MaxImpactBps      float64 // cap applied when depth is near zero
	AdaptationRate    float64 // smoothing for realized-outcome feedback
}

// Model computes expected market-impact cost and optimal trajectories.
// Coefficients may be nudged by realized-outcome feedback, so access is
// guarded; reads on the estimation path take the read lock only.
type Model struct {
	mu  sync.RWMutex
	cfg Config
}

// New creates a Model.
func New(cfg Config) (*Model, error) {
	if err := cfg.Params.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxImpactBps <= 0 {
		cfg.MaxImpactBps = 500
	}
	if cfg.AdaptationRate <= 0 || cfg.AdaptationRate > 1 {
		cfg.AdaptationRate = 0.1
	}
	return &Model{cfg: cfg}, nil
}

// Params returns the current coefficients.
func (m *Model) Params() Params {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg.Params
}

// Cost returns the expected impact cost of executing `size` units over
// `horizon` seconds at the given reference price. sigma is the current
// tick-scale volatility (0 falls back to the configured one); depth is the
// resting liquidity available on the crossed side.
//
// Under the linear (TWAP) trajectory the discretized expected cost is
//
//	E[Cost] = epsilon*X^2 + eta*X^2/T + gamma*sigma^2*X^2*T/3
//
// scaled by the reference price so the figure is in quote currency. The
// risk-minimizing exponential trajectory reduces the temporary-impact term by
// the sinh trajectory's rate profile.
func (m *Model) Cost(size, horizon, sigma, refPrice, depth float64) (Breakdown, error) {
	if horizon <= 0 {
		return Breakdown{}, fmt.Errorf("%w: %v", domain.ErrInvalidHorizon, horizon)
	}
	if size <= 0 || refPrice <= 0 {
		return Breakdown{}, fmt.Errorf("%w: size %v at price %v", domain.ErrInvalidTradeRequest, size, refPrice)
	}

	m.mu.RLock()
	cfg := m.cfg
	m.mu.RUnlock()

	if sigma <= 0 {
		sigma = cfg.Params.Sigma
	}

	notional := size * refPrice
	maxImpact := notional * cfg.MaxImpactBps / 1e4

	// With near-zero depth the closed form is meaningless: the book cannot
	// absorb the order at any modeled rate. Fall back to the cap.
	if depth <= 0 || size/depth > 1 {
		return Breakdown{
			Temporary: maxImpact,
			Total:     maxImpact,
			Capped:    true,
		}, nil
	}

	// Express X as a fraction of available depth so the quadratic terms are
	// scale-free, then convert to quote currency via the notional.
	x := size / depth

	permanent := cfg.Params.Epsilon * x * x
	temporary := cfg.Params.Eta * x * x / horizon
	if cfg.RiskMinTrajectory {
		temporary *= riskMinTemporaryScale(cfg.Params, horizon)
	}
	risk := cfg.Params.Gamma * sigma * sigma * x * x * horizon / 3

	breakdown := Breakdown{
		Permanent: permanent * notional,
		Temporary: temporary * notional,
		Risk:      risk * notional,
	}
	breakdown.Total = breakdown.Permanent + breakdown.Temporary + breakdown.Risk
	if breakdown.Total > maxImpact || math.IsInf(breakdown.Total, 0) || math.IsNaN(breakdown.Total) {
		return Breakdown{Temporary: maxImpact, Total: maxImpact, Capped: true}, nil
	}
	return breakdown, nil
}

// riskMinTemporaryScale is the ratio of the exponential trajectory's
// sum-of-squared-rates to the TWAP trajectory's, derived from the continuous
// solution x(t) = X*sinh(kappa*(T-t))/sinh(kappa*T).
func riskMinTemporaryScale(p Params, horizon float64) float64 {
	if p.Eta == 0 || p.Sigma == 0 {
		return 1
	}
	kappa := math.Sqrt(p.Gamma * p.Sigma * p.Sigma / p.Eta)
	kt := kappa * horizon
	if kt < 1e-9 {
		return 1
	}
	// integral of (dx/dt)^2 over [0,T] for the sinh trajectory relative to
	// TWAP's X^2/T: (kT/2) * (sinh(2kT)/(2) + kT) / sinh^2(kT) -- clamp to
	// avoid overflow for extreme kappa.
	if kt > 20 {
		return kt / 2 // asymptotic growth; the cap bounds the result anyway
	}
	num := kt * (math.Sinh(2*kt)/2 + kt)
	den := 2 * math.Sinh(kt) * math.Sinh(kt)
	return num / den
}

// Trajectory returns the time-sliced holdings schedule x(t) over the horizon
// together with its expected cost, variance, and utility, for callers that
// display an execution schedule. n is the number of intervals.
func (m *Model) Trajectory(size, horizon, sigma, refPrice, depth float64, n int) (domain.StrategySchedule, error) {
	if horizon <= 0 {
		return domain.StrategySchedule{}, fmt.Errorf("%w: %v", domain.ErrInvalidHorizon, horizon)
	}
	if n < 2 {
		n = 2
	}

	m.mu.RLock()
	cfg := m.cfg
	m.mu.RUnlock()

	if sigma <= 0 {
		sigma = cfg.Params.Sigma
	}

	points := make([]domain.TrajectoryPoint, 0, n+1)
	dt := horizon / float64(n)

	var kappa float64
	if cfg.RiskMinTrajectory && cfg.Params.Eta > 0 && sigma > 0 {
		kappa = math.Sqrt(cfg.Params.Gamma * sigma * sigma / cfg.Params.Eta)
	}

	holdings := make([]float64, n+1)
	for i := 0; i <= n; i++ {
		t := float64(i) * dt
		remaining := horizon - t
		switch {
		case remaining <= 0:
			holdings[i] = 0
		case kappa > 0 && kappa*horizon < 20:
			holdings[i] = size * math.Sinh(kappa*remaining) / math.Sinh(kappa*horizon)
		default:
			holdings[i] = size * remaining / horizon // TWAP
		}
		points = append(points, domain.TrajectoryPoint{T: t, Holdings: holdings[i]})
	}

	cost, err := m.Cost(size, horizon, sigma, refPrice, depth)
	if err != nil {
		return domain.StrategySchedule{}, err
	}

	variance := sigma * sigma * size * size * horizon / 3 * refPrice * refPrice
	return domain.StrategySchedule{
		ExpectedCost: cost.Total,
		Variance:     variance,
		Utility:      cost.Total + 0.5*cfg.Params.Gamma*variance,
		Points:       points,
	}, nil
}

// ObserveOutcome feeds a realized impact back into the coefficients,
// smoothing eta and epsilon toward the value that would have predicted the
// outcome. Degenerate observations are ignored so a bad fill can never
// corrupt the served model.
func (m *Model) ObserveOutcome(size, horizon, refPrice, depth, realizedImpact float64) {
	if size <= 0 || horizon <= 0 || refPrice <= 0 || depth <= 0 {
		return
	}
	if math.IsNaN(realizedImpact) || math.IsInf(realizedImpact, 0) || realizedImpact < 0 {
		return
	}

	predicted, err := m.Cost(size, horizon, 0, refPrice, depth)
	if err != nil || predicted.Capped || predicted.Total <= 0 {
		return
	}

	ratio := realizedImpact / predicted.Total
	// Bound the per-observation adjustment so a single outlier cannot swing
	// the coefficients.
	if ratio > 5 {
		ratio = 5
	}
	if ratio < 0.2 {
		ratio = 0.2
	}

	m.mu.Lock()
	rate := m.cfg.AdaptationRate
	m.cfg.Params.Eta = (1-rate)*m.cfg.Params.Eta + rate*m.cfg.Params.Eta*ratio
	m.cfg.Params.Epsilon = (1-rate)*m.cfg.Params.Epsilon + rate*m.cfg.Params.Epsilon*ratio
	m.mu.Unlock()
}
