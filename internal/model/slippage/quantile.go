// Package slippage predicts expected execution slippage with linear quantile
// regression over book-state features, retrained online from realized fills.
package slippage

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/quantfold/tradecost/internal/domain"
)

// quantileModel is one fitted linear quantile regressor. Features are
// standardized with the training-set moments baked into the model so
// inference never needs the training data.
type quantileModel struct {
	tau     float64
	weights []float64
	bias    float64
	means   []float64
	stds    []float64
	// Target moments; the fit runs in standardized target space so the
	// subgradient step size is scale-free.
	yMean float64
	yStd  float64
}

// fitQuantile trains a linear model minimizing pinball loss at quantile tau
// by subgradient descent. rows must all have the same width and finite
// values.
func fitQuantile(rows [][]float64, targets []float64, tau, lr float64, epochs int) (*quantileModel, error) {
	if len(rows) == 0 || len(rows) != len(targets) {
		return nil, fmt.Errorf("slippage: %w: %d rows, %d targets", domain.ErrInsufficientData, len(rows), len(targets))
	}
	if tau <= 0 || tau >= 1 {
		return nil, fmt.Errorf("slippage: quantile %v out of (0, 1)", tau)
	}
	width := len(rows[0])

	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("slippage: %w: row %d width %d, want %d", domain.ErrDegenerateData, i, len(row), width)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("slippage: %w: non-finite feature in row %d", domain.ErrDegenerateData, i)
			}
		}
		if math.IsNaN(targets[i]) || math.IsInf(targets[i], 0) {
			return nil, fmt.Errorf("slippage: %w: non-finite target in row %d", domain.ErrDegenerateData, i)
		}
	}

	means, stds := columnMoments(rows, width)

	yMean := stat.Mean(targets, nil)
	yStd := stat.StdDev(targets, nil)
	if yStd == 0 || math.IsNaN(yStd) {
		yStd = 1
	}
	y := make([]float64, len(targets))
	for i, t := range targets {
		y[i] = (t - yMean) / yStd
	}

	// Standardized design matrix. A zero-variance column centers to zero and
	// carries no signal, which is fine: the bias absorbs constant targets.
	z := make([][]float64, len(rows))
	for i, row := range rows {
		zr := make([]float64, width)
		for j := 0; j < width; j++ {
			zr[j] = (row[j] - means[j]) / stds[j]
		}
		z[i] = zr
	}

	m := &quantileModel{
		tau:     tau,
		weights: make([]float64, width),
		bias:    stat.Quantile(tau, stat.Empirical, sortedCopy(y), nil),
		means:   means,
		stds:    stds,
		yMean:   yMean,
		yStd:    yStd,
	}

	n := float64(len(z))
	for epoch := 0; epoch < epochs; epoch++ {
		// Decay the step so late epochs refine rather than oscillate.
		step := lr / (1 + 0.01*float64(epoch))
		for i, zr := range z {
			pred := m.bias + floats.Dot(m.weights, zr)
			// Pinball subgradient: tau above the fit, tau-1 below.
			g := m.tau - 1
			if y[i] > pred {
				g = m.tau
			}
			m.bias += step * g / n
			for j := 0; j < width; j++ {
				m.weights[j] += step * g * zr[j] / n
			}
		}
	}

	for _, w := range m.weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("slippage: %w: fit diverged at quantile %v", domain.ErrDegenerateData, tau)
		}
	}
	return m, nil
}

// predict evaluates the model on a raw (unstandardized) feature vector and
// returns the estimate in target units.
func (m *quantileModel) predict(features []float64) float64 {
	sum := m.bias
	for j, v := range features {
		if j >= len(m.weights) {
			break
		}
		sum += m.weights[j] * (v - m.means[j]) / m.stds[j]
	}
	return m.yMean + m.yStd*sum
}

// columnMoments returns per-column mean and standard deviation, with zero
// deviations replaced by 1 so standardization stays defined.
func columnMoments(rows [][]float64, width int) (means, stds []float64) {
	means = make([]float64, width)
	stds = make([]float64, width)
	col := make([]float64, len(rows))
	for j := 0; j < width; j++ {
		for i, row := range rows {
			col[i] = row[j]
		}
		means[j] = stat.Mean(col, nil)
		stds[j] = stat.StdDev(col, nil)
		if stds[j] == 0 || math.IsNaN(stds[j]) {
			stds[j] = 1
		}
	}
	return means, stds
}

func sortedCopy(vals []float64) []float64 {
	out := append([]float64(nil), vals...)
	sort.Float64s(out)
	return out
}
