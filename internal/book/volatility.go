package book

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// midWindow is a fixed-size circular buffer of the most recent mid prices.
// It bounds the memory behind the volatility estimate regardless of feed
// rate.
type midWindow struct {
	buf   []float64
	head  int
	count int
}

func newMidWindow(size int) *midWindow {
	return &midWindow{buf: make([]float64, size)}
}

// push records a new mid price, evicting the oldest when full.
func (w *midWindow) push(mid float64) {
	w.buf[w.head] = mid
	w.head = (w.head + 1) % len(w.buf)
	if w.count < len(w.buf) {
		w.count++
	}
}

// ordered returns the window contents oldest-first.
func (w *midWindow) ordered() []float64 {
	out := make([]float64, 0, w.count)
	start := w.head - w.count
	if start < 0 {
		start += len(w.buf)
	}
	for i := 0; i < w.count; i++ {
		out = append(out, w.buf[(start+i)%len(w.buf)])
	}
	return out
}

// volatility returns the tick-scale sample standard deviation of log returns
// ln(mid_t / mid_{t-1}) over the window. It returns 0 until at least three
// mids (two returns) have been observed.
func (w *midWindow) volatility() float64 {
	mids := w.ordered()
	if len(mids) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(mids)-1)
	for i := 1; i < len(mids); i++ {
		if mids[i-1] <= 0 || mids[i] <= 0 {
			continue
		}
		returns = append(returns, math.Log(mids[i]/mids[i-1]))
	}
	if len(returns) < 2 {
		return 0
	}
	return stat.StdDev(returns, nil)
}
