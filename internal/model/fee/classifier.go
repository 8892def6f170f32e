package fee

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"github.com/quantfold/tradecost/internal/domain"
)

// logisticModel is a fitted maker/taker classifier over standardized
// placement features. It predicts the probability an order fills as maker.
type logisticModel struct {
	weights []float64
	bias    float64
	means   []float64
	stds    []float64
}

// fitLogistic trains by full-batch gradient descent on log loss. labels are
// 1 for maker fills, 0 for taker fills; both classes must be present.
func fitLogistic(rows [][]float64, labels []float64, lr float64, epochs int) (*logisticModel, error) {
	if len(rows) == 0 || len(rows) != len(labels) {
		return nil, fmt.Errorf("fee: %w: %d rows, %d labels", domain.ErrInsufficientData, len(rows), len(labels))
	}
	width := len(rows[0])

	var makers int
	for i, row := range rows {
		if len(row) != width {
			return nil, fmt.Errorf("fee: %w: row %d width %d, want %d", domain.ErrDegenerateData, i, len(row), width)
		}
		for _, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("fee: %w: non-finite feature in row %d", domain.ErrDegenerateData, i)
			}
		}
		if labels[i] != 0 && labels[i] != 1 {
			return nil, fmt.Errorf("fee: %w: label %v in row %d", domain.ErrDegenerateData, labels[i], i)
		}
		if labels[i] == 1 {
			makers++
		}
	}
	if makers == 0 || makers == len(rows) {
		return nil, fmt.Errorf("fee: %w: single-class training set", domain.ErrDegenerateData)
	}

	means, stds := columnMoments(rows, width)
	z := make([][]float64, len(rows))
	for i, row := range rows {
		zr := make([]float64, width)
		for j := 0; j < width; j++ {
			zr[j] = (row[j] - means[j]) / stds[j]
		}
		z[i] = zr
	}

	m := &logisticModel{
		weights: make([]float64, width),
		means:   means,
		stds:    stds,
	}

	n := float64(len(z))
	grad := make([]float64, width)
	for epoch := 0; epoch < epochs; epoch++ {
		var gradBias float64
		for j := range grad {
			grad[j] = 0
		}
		for i, zr := range z {
			p := sigmoid(m.bias + floats.Dot(m.weights, zr))
			err := p - labels[i]
			gradBias += err
			for j := 0; j < width; j++ {
				grad[j] += err * zr[j]
			}
		}
		m.bias -= lr * gradBias / n
		for j := 0; j < width; j++ {
			m.weights[j] -= lr * grad[j] / n
		}
	}

	for _, w := range m.weights {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("fee: %w: fit diverged", domain.ErrDegenerateData)
		}
	}
	return m, nil
}

// makerProb evaluates the classifier on a raw feature vector.
func (m *logisticModel) makerProb(features []float64) float64 {
	sum := m.bias
	for j, v := range features {
		if j >= len(m.weights) {
			break
		}
		sum += m.weights[j] * (v - m.means[j]) / m.stds[j]
	}
	return sigmoid(sum)
}

func sigmoid(x float64) float64 {
	if x < -500 {
		return 0
	}
	if x > 500 {
		return 1
	}
	return 1 / (1 + math.Exp(-x))
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
