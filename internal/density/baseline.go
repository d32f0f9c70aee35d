package density

import (
	"math"
	"sort"
)

const (
	baselinePercentile = 70
	outlierFactor      = 2.0
)

// Percentile returns the nearest-rank p-th percentile of values: the values
// are sorted ascending and the element at floor(p/100*n), clamped to the valid
// range, is returned. ok is false for an empty input.
func Percentile(values []float64, p float64) (v float64, ok bool) {
	if len(values) == 0 {
		return 0, false
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	idx := int(math.Floor(p / 100 * float64(len(sorted))))
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx], true
}

// Baseline estimates the typical level size of one book side: the 70th
// percentile after discarding values above twice the untrimmed 70th
// percentile. fallback is used when there is nothing to measure.
func Baseline(notionals []float64, fallback float64) float64 {
	p70, ok := Percentile(notionals, baselinePercentile)
	if !ok {
		return fallback
	}

	trimmed := make([]float64, 0, len(notionals))
	for _, n := range notionals {
		if n <= p70*outlierFactor {
			trimmed = append(trimmed, n)
		}
	}

	base, ok := Percentile(trimmed, baselinePercentile)
	if !ok || base == 0 {
		base = p70
	}
	if base == 0 {
		base = fallback
	}
	return base
}

// SeedCandidates counts the levels at least seedMultiplier times the baseline.
func SeedCandidates(notionals []float64, baseline, seedMultiplier float64) (mm0 float64, count int) {
	mm0 = baseline * seedMultiplier
	for _, n := range notionals {
		if n >= mm0 {
			count++
		}
	}
	return mm0, count
}
