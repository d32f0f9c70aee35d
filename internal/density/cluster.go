package density

import (
	"sort"

	"github.com/rewired-gh/densityscope/internal/models"
)

// Params controls clustering and baseline calibration.
type Params struct {
	// CalibrationGapPct is the maximum gap between neighbouring levels of a
	// calibration cluster.
	CalibrationGapPct float64
	// DisplayGapPct is the maximum gap between neighbouring levels merged into
	// one density. It is also the relocation tolerance of tracked densities.
	DisplayGapPct      float64
	MinClusterNotional float64
	MinClusterLevels   int
	// DefaultBase is used when a side has no levels to measure.
	DefaultBase float64
}

func DefaultParams() Params {
	return Params{
		CalibrationGapPct:  0.2,
		DisplayGapPct:      0.5,
		MinClusterNotional: 20000,
		MinClusterLevels:   2,
		DefaultBase:        50000,
	}
}

// Cluster is a price-contiguous run of levels.
type Cluster struct {
	Levels   []models.Level
	Notional float64
}

// Len returns the number of member levels.
func (c Cluster) Len() int { return len(c.Levels) }

// Front returns the member nearest to the mark: the highest bid or the lowest ask.
func (c Cluster) Front() models.Level {
	front := c.Levels[0]
	for _, l := range c.Levels[1:] {
		if l.DistancePct < front.DistancePct {
			front = l
		}
	}
	return front
}

// Partition splits levels into maximal runs where consecutive levels, sorted
// by ascending price, are at most maxGapPct apart. Every level lands in
// exactly one run; runs are returned in ascending price order.
func Partition(levels []models.Level, maxGapPct float64) []Cluster {
	if len(levels) == 0 {
		return nil
	}
	sorted := make([]models.Level, len(levels))
	copy(sorted, levels)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Price < sorted[j].Price })

	var runs []Cluster
	current := Cluster{Levels: []models.Level{sorted[0]}, Notional: sorted[0].Notional}
	for i := 1; i < len(sorted); i++ {
		prev, lvl := sorted[i-1], sorted[i]
		if gapPct(prev.Price, lvl.Price) <= maxGapPct {
			current.Levels = append(current.Levels, lvl)
			current.Notional += lvl.Notional
			continue
		}
		runs = append(runs, current)
		current = Cluster{Levels: []models.Level{lvl}, Notional: lvl.Notional}
	}
	return append(runs, current)
}

// Clusters returns the runs of Partition that have at least two members.
func Clusters(levels []models.Level, maxGapPct float64) []Cluster {
	var out []Cluster
	for _, c := range Partition(levels, maxGapPct) {
		if c.Len() >= 2 {
			out = append(out, c)
		}
	}
	return out
}

// MarketMakerBase derives the cluster baseline (mmBase) of one side: the
// median aggregate notional of the calibration clusters that meet the
// configured minimums, or baseline when there are none.
func MarketMakerBase(levels []models.Level, p Params, baseline float64) float64 {
	var notionals []float64
	for _, c := range Clusters(levels, p.CalibrationGapPct) {
		if c.Notional >= p.MinClusterNotional && c.Len() >= p.MinClusterLevels {
			notionals = append(notionals, c.Notional)
		}
	}
	if median, ok := Percentile(notionals, 50); ok {
		return median
	}
	if baseline > 0 {
		return baseline
	}
	return p.DefaultBase
}

// Densities collapses every display run of levels into one density. The
// density takes the price and distance of the run member nearest to the mark.
func Densities(symbol string, side models.Side, levels []models.Level, displayGapPct, mmBase float64) []models.Density {
	runs := Partition(levels, displayGapPct)
	out := make([]models.Density, 0, len(runs))
	for _, run := range runs {
		front := run.Front()
		x := 0.0
		if mmBase > 0 {
			x = run.Notional / mmBase
		}
		out = append(out, models.Density{
			Symbol:      symbol,
			Side:        side,
			Price:       front.Price,
			PriceKey:    front.PriceKey,
			Notional:    run.Notional,
			DistancePct: front.DistancePct,
			X:           x,
			MMCount:     run.Len(),
			MMBase:      mmBase,
			IsCluster:   run.Len() > 1,
		})
	}
	return out
}

func gapPct(prev, next float64) float64 {
	if prev == 0 {
		return 0
	}
	d := next - prev
	if d < 0 {
		d = -d
	}
	return d / prev * 100
}
