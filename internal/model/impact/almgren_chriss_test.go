package impact

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfold/tradecost/internal/domain"
)

func testConfig() Config {
	return Config{
		Params: Params{
			Sigma:   0.001,
			Gamma:   0.1,
			Eta:     0.01,
			Epsilon: 0.001,
		},
		MaxImpactBps:   500,
		AdaptationRate: 0.1,
	}
}

func TestNewRejectsBadParams(t *testing.T) {
	cfg := testConfig()
	cfg.Params.Gamma = 0
	_, err := New(cfg)
	require.Error(t, err)

	cfg = testConfig()
	cfg.Params.Eta = -1
	_, err = New(cfg)
	require.Error(t, err)
}

func TestCostMonotoneInSize(t *testing.T) {
	m, err := New(testConfig())
	require.NoError(t, err)

	const (
		horizon = 60.0
		price   = 50_000.0
		depth   = 1_000.0
	)
	prev := 0.0
	for _, size := range []float64{1, 5, 25, 100, 400} {
		got, err := m.Cost(size, horizon, 0, price, depth)
		require.NoError(t, err)
		assert.Greater(t, got.Total, prev, "size %v", size)
		prev = got.Total
	}
}

func TestCostSuperlinearInSize(t *testing.T) {
	m, err := New(testConfig())
	require.NoError(t, err)

	small, err := m.Cost(10, 60, 0, 50_000, 1_000)
	require.NoError(t, err)
	big, err := m.Cost(20, 60, 0, 50_000, 1_000)
	require.NoError(t, err)

	// Quadratic impact terms: doubling size should more than double cost.
	assert.Greater(t, big.Total, 2*small.Total)
}

func TestCostNonIncreasingInHorizon(t *testing.T) {
	cfg := testConfig()
	// Keep the risk term negligible so the temporary-impact decay dominates
	// across the tested horizons.
	cfg.Params.Sigma = 1e-6
	m, err := New(cfg)
	require.NoError(t, err)

	prev, err := m.Cost(100, 10, 0, 50_000, 1_000)
	require.NoError(t, err)
	for _, horizon := range []float64{30, 60, 300, 900} {
		got, err := m.Cost(100, horizon, 0, 50_000, 1_000)
		require.NoError(t, err)
		assert.LessOrEqual(t, got.Total, prev.Total, "horizon %v", horizon)
		prev = got
	}
}

func TestCostInvalidHorizon(t *testing.T) {
	m, err := New(testConfig())
	require.NoError(t, err)

	_, err = m.Cost(100, 0, 0, 50_000, 1_000)
	assert.ErrorIs(t, err, domain.ErrInvalidHorizon)

	_, err = m.Cost(100, -5, 0, 50_000, 1_000)
	assert.ErrorIs(t, err, domain.ErrInvalidHorizon)
}

func TestCostCapsOnThinDepth(t *testing.T) {
	m, err := New(testConfig())
	require.NoError(t, err)

	got, err := m.Cost(100, 60, 0, 50_000, 0)
	require.NoError(t, err)
	assert.True(t, got.Capped)
	assert.InDelta(t, 100*50_000*500/1e4, got.Total, 1e-9)

	// Size exceeding available depth also caps.
	got, err = m.Cost(2_000, 60, 0, 50_000, 1_000)
	require.NoError(t, err)
	assert.True(t, got.Capped)
}

func TestCostNeverExceedsCap(t *testing.T) {
	cfg := testConfig()
	cfg.Params.Eta = 100 // absurd coefficient
	m, err := New(cfg)
	require.NoError(t, err)

	got, err := m.Cost(900, 1, 0, 50_000, 1_000)
	require.NoError(t, err)
	maxImpact := 900 * 50_000 * 500 / 1e4
	assert.LessOrEqual(t, got.Total, maxImpact+1e-9)
}

func TestTrajectoryTWAP(t *testing.T) {
	m, err := New(testConfig())
	require.NoError(t, err)

	sched, err := m.Trajectory(100, 60, 0, 50_000, 1_000, 4)
	require.NoError(t, err)
	require.Len(t, sched.Points, 5)

	assert.InDelta(t, 100, sched.Points[0].Holdings, 1e-9)
	assert.InDelta(t, 0, sched.Points[4].Holdings, 1e-9)
	// Linear schedule decrements evenly.
	assert.InDelta(t, 75, sched.Points[1].Holdings, 1e-9)
	assert.InDelta(t, 50, sched.Points[2].Holdings, 1e-9)
	assert.Positive(t, sched.ExpectedCost)
	assert.Positive(t, sched.Variance)
	assert.Greater(t, sched.Utility, sched.ExpectedCost)
}

func TestTrajectoryRiskMinFrontLoads(t *testing.T) {
	cfg := testConfig()
	cfg.RiskMinTrajectory = true
	cfg.Params.Sigma = 0.005
	cfg.Params.Gamma = 2
	cfg.Params.Eta = 0.02
	m, err := New(cfg)
	require.NoError(t, err)

	sched, err := m.Trajectory(100, 60, 0, 50_000, 1_000, 10)
	require.NoError(t, err)
	require.Len(t, sched.Points, 11)

	// The sinh trajectory trades faster early, so holdings at the midpoint sit
	// below the TWAP line.
	assert.Less(t, sched.Points[5].Holdings, 50.0)
	// Still monotone non-increasing to zero.
	for i := 1; i < len(sched.Points); i++ {
		assert.LessOrEqual(t, sched.Points[i].Holdings, sched.Points[i-1].Holdings)
	}
	assert.InDelta(t, 0, sched.Points[10].Holdings, 1e-9)
}

func TestTrajectoryInvalidHorizon(t *testing.T) {
	m, err := New(testConfig())
	require.NoError(t, err)

	_, err = m.Trajectory(100, 0, 0, 50_000, 1_000, 4)
	assert.True(t, errors.Is(err, domain.ErrInvalidHorizon))
}

func TestObserveOutcomeAdjustsCoefficients(t *testing.T) {
	m, err := New(testConfig())
	require.NoError(t, err)

	before := m.Params()
	predicted, err := m.Cost(100, 60, 0, 50_000, 1_000)
	require.NoError(t, err)

	// Realized impact double the prediction should pull eta upward.
	m.ObserveOutcome(100, 60, 50_000, 1_000, 2*predicted.Total)
	after := m.Params()
	assert.Greater(t, after.Eta, before.Eta)
	assert.Greater(t, after.Epsilon, before.Epsilon)
}

func TestObserveOutcomeIgnoresDegenerate(t *testing.T) {
	m, err := New(testConfig())
	require.NoError(t, err)

	before := m.Params()
	m.ObserveOutcome(0, 60, 50_000, 1_000, 10)   // bad size
	m.ObserveOutcome(100, 60, 50_000, 0, 10)     // no depth
	m.ObserveOutcome(100, 60, 50_000, 1_000, -1) // negative impact
	assert.Equal(t, before, m.Params())
}
