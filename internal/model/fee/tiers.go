// Package fee computes expected exchange fees from a volume-tiered rate
// table blended by a learned maker/taker fill classifier.
package fee

import (
	"sort"

	"github.com/quantfold/tradecost/internal/config"
)

// rateTable is the volume-tiered fee schedule, sorted ascending by threshold.
type rateTable struct {
	baseMaker float64
	baseTaker float64
	tiers     []config.FeeTier
}

func newRateTable(cfg config.FeeConfig) rateTable {
	tiers := append([]config.FeeTier(nil), cfg.Tiers...)
	sort.Slice(tiers, func(i, j int) bool {
		return tiers[i].VolumeThreshold < tiers[j].VolumeThreshold
	})
	return rateTable{
		baseMaker: cfg.MakerRate,
		baseTaker: cfg.TakerRate,
		tiers:     tiers,
	}
}

// ratesFor returns the maker and taker rates for a rolling 30-day volume,
// plus the 0-based tier index (0 is the base tier).
func (t rateTable) ratesFor(volume float64) (maker, taker float64, tier int) {
	maker, taker = t.baseMaker, t.baseTaker
	for i, row := range t.tiers {
		if volume < row.VolumeThreshold {
			break
		}
		maker, taker = row.MakerRate, row.TakerRate
		tier = i + 1
	}
	return maker, taker, tier
}
