package density

import (
	"math"
)

const (
	slowEatMinutes     = 60
	slowEatBoost       = 1.5
	volatileNATR       = 1.0
	volatileBoost      = 1.2
	provenLifetimeSec  = 300
	provenBoost        = 1.2
	clusterBoost       = 1.5
	minEatLifetimeSec  = 3
	scoreDecimalPlaces = 4
)

// ScoreInput carries everything the composite score depends on.
type ScoreInput struct {
	Notional         float64
	DistancePct      float64
	IsCluster        bool
	TimeToEatMinutes float64
	NATR             float64
	LifetimeSec      int64
}

// Score is notional in millions, discounted by distance and boosted for slow
// consumption, volatile instruments, long-lived walls and clusters.
// Boosts compound.
func Score(in ScoreInput) float64 {
	score := in.Notional / 1_000_000
	score /= 1 + in.DistancePct

	if in.TimeToEatMinutes > slowEatMinutes {
		score *= slowEatBoost
	}
	if in.NATR > volatileNATR {
		score *= volatileBoost
	}
	if in.LifetimeSec > provenLifetimeSec {
		score *= provenBoost
	}
	if in.IsCluster {
		score *= clusterBoost
	}
	return score
}

// RoundScore rounds a score to four decimal places for output.
func RoundScore(score float64) float64 {
	pow := math.Pow10(scoreDecimalPlaces)
	return math.Round(score*pow) / pow
}

// TimeToEat estimates the minutes recent traded volume needs to consume
// notional. It is +Inf when there is no volume.
func TimeToEat(notional, volumePerMinute float64) float64 {
	if volumePerMinute <= 0 {
		return math.Inf(1)
	}
	return notional / volumePerMinute
}

// EatSpeed is the average notional consumed per second since the wall was
// first seen, floored. It is zero for walls younger than a few seconds.
func EatSpeed(maxNotional, notional float64, lifetimeSec int64) float64 {
	if lifetimeSec <= minEatLifetimeSec {
		return 0
	}
	speed := (maxNotional - notional) / float64(lifetimeSec)
	if speed < 0 {
		return 0
	}
	return math.Floor(speed)
}
