package monitor

import (
	"math"

	"github.com/rewired-gh/densityscope/internal/models"
)

const (
	natrPeriod     = 14
	minStatCandles = 5
	volumeBuckets  = 5
)

// MarketStats summarises recent trading activity of one instrument.
type MarketStats struct {
	NATR float64
	// Volumes holds the quote volume of the newest candles, newest first.
	Volumes []float64
	// VolumePerMinute is the average quote volume traded per minute over Volumes.
	VolumePerMinute float64
}

// ComputeMarketStats derives NATR and recent volumes from candles ordered
// oldest first. Too few candles yield zero stats.
func ComputeMarketStats(candles []models.Candle, intervalMinutes float64) MarketStats {
	if len(candles) < minStatCandles {
		return MarketStats{}
	}

	stats := MarketStats{NATR: NATR(candles)}

	stats.Volumes = make([]float64, 0, volumeBuckets)
	var total float64
	for i := len(candles) - 1; i >= 0 && len(stats.Volumes) < volumeBuckets; i-- {
		v := candles[i].QuoteVolume
		stats.Volumes = append(stats.Volumes, v)
		total += v
	}
	if intervalMinutes > 0 {
		stats.VolumePerMinute = total / (volumeBuckets * intervalMinutes)
	}
	return stats
}

// NATR is the average true range of the newest candles as a percentage of
// the latest close.
func NATR(candles []models.Candle) float64 {
	n := len(candles)
	if n < 2 {
		return 0
	}
	period := natrPeriod
	if n-1 < period {
		period = n - 1
	}

	var sum float64
	for i := n - period; i < n; i++ {
		sum += trueRange(candles[i], candles[i-1].Close)
	}
	last := candles[n-1].Close
	if last <= 0 {
		return 0
	}
	return sum / float64(period) / last * 100
}

func trueRange(c models.Candle, prevClose float64) float64 {
	return math.Max(c.High-c.Low, math.Max(math.Abs(c.High-prevClose), math.Abs(c.Low-prevClose)))
}
