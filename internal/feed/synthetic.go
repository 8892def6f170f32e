package feed

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/quantfold/tradecost/internal/domain"
)

// ObservationSink receives the synthesized training observations so the
// online models can exercise their retrain path without live fills.
type ObservationSink interface {
	RecordSlippage(obs domain.SlippageObservation)
	RecordFill(obs domain.MakerTakerObservation, notional float64)
}

// Synthetic generates a random-walk L2 stream through the same update path
// the live feed uses, plus synthetic realized-slippage and fill observations.
type Synthetic struct {
	symbols  []string
	startMid float64
	interval time.Duration
	feeder   *Feeder
	sink     ObservationSink // optional
	logger   *slog.Logger
	rng      *rand.Rand

	state map[string]*synthBook
}

// synthBook tracks the walk per symbol, including the previous ladder so
// deltas can retract levels the walk left behind.
type synthBook struct {
	mid      float64
	seq      uint64
	tick     int
	prevBids []float64
	prevAsks []float64
}

// NewSynthetic creates a generator. sink may be nil.
func NewSynthetic(symbols []string, startMid float64, interval time.Duration, feeder *Feeder, sink ObservationSink, logger *slog.Logger) *Synthetic {
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	state := make(map[string]*synthBook, len(symbols))
	for _, sym := range symbols {
		state[sym] = &synthBook{mid: startMid}
	}
	return &Synthetic{
		symbols:  symbols,
		startMid: startMid,
		interval: interval,
		feeder:   feeder,
		sink:     sink,
		logger:   logger.With(slog.String("component", "synthetic_feed")),
		rng:      rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())),
	}
}

// Run emits ticks until ctx is canceled.
func (s *Synthetic) Run(ctx context.Context) error {
	s.logger.Info("synthetic feed started",
		slog.Int("symbols", len(s.symbols)),
		slog.Duration("interval", s.interval),
	)

	for _, sym := range s.symbols {
		if err := s.emitSnapshot(ctx, sym); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("synthetic feed stopped")
			return ctx.Err()
		case <-ticker.C:
			for _, sym := range s.symbols {
				s.step(ctx, sym)
			}
		}
	}
}

// step advances one symbol: walks the mid, emits an update, and every so
// often fabricates a training observation consistent with the walk.
func (s *Synthetic) step(ctx context.Context, symbol string) {
	sb := s.state[symbol]
	sb.tick++

	// Geometric random walk, about 10 bps per tick.
	sb.mid *= math.Exp((s.rng.Float64() - 0.5) * 0.002)

	// Periodic full snapshots keep the books from accumulating walk debris.
	var err error
	if sb.tick%50 == 0 {
		err = s.emitSnapshot(ctx, symbol)
	} else {
		err = s.emitDelta(ctx, symbol)
	}
	if err != nil {
		s.logger.Warn("synthetic update rejected",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}

	if s.sink != nil && sb.tick%5 == 0 {
		s.observe(symbol, sb)
	}
}

func (s *Synthetic) emitSnapshot(ctx context.Context, symbol string) error {
	sb := s.state[symbol]
	sb.seq++
	bids, asks := s.ladder(sb.mid)
	sb.remember(bids, asks)
	return s.feeder.HandleUpdate(ctx, domain.BookUpdate{
		Kind:       domain.BookUpdateSnapshot,
		Symbol:     symbol,
		Sequence:   sb.seq,
		Bids:       bids,
		Asks:       asks,
		ObservedAt: time.Now(),
	})
}

func (s *Synthetic) emitDelta(ctx context.Context, symbol string) error {
	sb := s.state[symbol]
	sb.seq++
	bids, asks := s.ladder(sb.mid)
	// Retract the previous ladder first so the moved book can never cross
	// its own stale levels.
	deltaBids := withRemovals(bids, sb.prevBids)
	deltaAsks := withRemovals(asks, sb.prevAsks)
	sb.remember(bids, asks)
	return s.feeder.HandleUpdate(ctx, domain.BookUpdate{
		Kind:       domain.BookUpdateDelta,
		Symbol:     symbol,
		Sequence:   sb.seq,
		Bids:       deltaBids,
		Asks:       deltaAsks,
		ObservedAt: time.Now(),
	})
}

// remember stores the ladder prices for the next delta's retractions.
func (sb *synthBook) remember(bids, asks []domain.PriceLevel) {
	sb.prevBids = sb.prevBids[:0]
	sb.prevAsks = sb.prevAsks[:0]
	for _, lvl := range bids {
		sb.prevBids = append(sb.prevBids, lvl.Price)
	}
	for _, lvl := range asks {
		sb.prevAsks = append(sb.prevAsks, lvl.Price)
	}
}

// withRemovals prefixes size-0 retractions for previous prices absent from
// the new ladder.
func withRemovals(levels []domain.PriceLevel, prev []float64) []domain.PriceLevel {
	current := make(map[float64]bool, len(levels))
	for _, lvl := range levels {
		current[lvl.Price] = true
	}
	var out []domain.PriceLevel
	for _, price := range prev {
		if !current[price] {
			out = append(out, domain.PriceLevel{Price: price, Size: 0})
		}
	}
	return append(out, levels...)
}

// ladder builds a five-level book around the mid with a 2 bp spread.
func (s *Synthetic) ladder(mid float64) (bids, asks []domain.PriceLevel) {
	spread := mid * 2e-4
	tick := spread
	for i := 0; i < 5; i++ {
		size := 5 + s.rng.Float64()*45
		bids = append(bids, domain.PriceLevel{Price: mid - spread/2 - float64(i)*tick, Size: size})
		size = 5 + s.rng.Float64()*45
		asks = append(asks, domain.PriceLevel{Price: mid + spread/2 + float64(i)*tick, Size: size})
	}
	return bids, asks
}

// observe fabricates one slippage sample and one fill outcome roughly
// consistent with the generated book, so retraining has signal to find.
func (s *Synthetic) observe(symbol string, sb *synthBook) {
	snap, ok := s.feeder.registry.Snapshot(symbol)
	if !ok || snap.MidPrice <= 0 {
		return
	}

	size := 1 + s.rng.Float64()*20
	depth := snap.TotalDepth(10) / 2
	notional := size * snap.MidPrice

	// Realized slippage: half spread plus a size/depth term with noise.
	slip := notional * snap.SpreadBps / 2 / 1e4
	if depth > 0 {
		slip *= 1 + size/depth
	}
	slip *= 0.8 + s.rng.Float64()*0.4

	s.sink.RecordSlippage(domain.SlippageObservation{
		Symbol:     symbol,
		TradeSize:  size,
		SpreadBps:  snap.SpreadBps,
		Depth:      depth,
		Volatility: snap.Volatility,
		HourOfDay:  float64(time.Now().UTC().Hour()),
		Slippage:   slip,
		ObservedAt: time.Now(),
	})

	// Fill outcome: the further behind the touch, the likelier a maker fill.
	pvt := s.rng.Float64() * 2
	maker := s.rng.Float64() < 0.3+0.3*math.Min(pvt, 1)
	s.sink.RecordFill(domain.MakerTakerObservation{
		Symbol:        symbol,
		IsLimit:       true,
		PriceVsTouch:  pvt,
		SpreadBps:     snap.SpreadBps,
		Depth:         depth,
		FilledAsMaker: maker,
		ObservedAt:    time.Now(),
	}, notional)
}
