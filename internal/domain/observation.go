package domain

import "time"

// SlippageObservation is one training sample for the slippage predictor:
// the market features at placement time plus the realized slippage, collected
// post hoc from fills or synthesized in simulation.
type SlippageObservation struct {
	Symbol     string    `json:"symbol"`
	TradeSize  float64   `json:"trade_size"`
	SpreadBps  float64   `json:"spread_bps"`
	Depth      float64   `json:"depth"`
	Volatility float64   `json:"volatility"`
	HourOfDay  float64   `json:"hour_of_day"` // 0..23, fractional
	Slippage   float64   `json:"slippage"`    // realized, quote currency
	ObservedAt time.Time `json:"observed_at"`
}

// Features returns the observation's feature vector in the canonical column
// order shared by training and inference.
func (o SlippageObservation) Features() []float64 {
	return []float64{o.TradeSize, o.SpreadBps, o.Depth, o.Volatility, o.HourOfDay}
}

// MakerTakerObservation is one training sample for the maker/taker
// classifier: placement features plus how the order actually filled.
type MakerTakerObservation struct {
	Symbol        string    `json:"symbol"`
	IsLimit       bool      `json:"is_limit"`
	PriceVsTouch  float64   `json:"price_vs_touch"` // signed distance behind the touch, in spread units
	SpreadBps     float64   `json:"spread_bps"`
	Depth         float64   `json:"depth"`
	FilledAsMaker bool      `json:"filled_as_maker"`
	ObservedAt    time.Time `json:"observed_at"`
}

// Features returns the classifier feature vector in canonical column order.
func (o MakerTakerObservation) Features() []float64 {
	isLimit := 0.0
	if o.IsLimit {
		isLimit = 1.0
	}
	return []float64{isLimit, o.PriceVsTouch, o.SpreadBps, o.Depth}
}

// TrainingStatus reports the state of one online-trained model for the
// read-only metrics export.
type TrainingStatus struct {
	Model         string    `json:"model"`
	Version       uint64    `json:"version"`
	Trained       bool      `json:"trained"`
	SampleCount   int       `json:"sample_count"`
	LastTrainedAt time.Time `json:"last_trained_at,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
}
