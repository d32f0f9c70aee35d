// Package models defines the core domain entities: order-book levels, densities, and scan queries.
package models

import (
	"encoding/json"
	"math"
)

// Side is one side of an order book.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// State is the lifecycle state of a tracked density.
type State string

const (
	// StateAppeared marks a new or reaffirmed density.
	StateAppeared State = "APPEARED"
	// StateUpdated marks a density whose notional dropped below 95% of its maximum.
	StateUpdated State = "UPDATED"
	// StateMoved marks a density re-identified at a new price. It is sticky.
	StateMoved State = "MOVED"
)

// Level is a single filtered order-book price level.
type Level struct {
	Side        Side    `json:"side"`
	Price       float64 `json:"price"`
	PriceKey    string  `json:"-"`
	Quantity    float64 `json:"qty"`
	Notional    float64 `json:"notional"`
	DistancePct float64 `json:"distancePct"`
}

// Density is one display cluster of levels treated as a single wall,
// annotated with tracking and scoring data.
type Density struct {
	ID          string  `json:"id"`
	Symbol      string  `json:"symbol"`
	Side        Side    `json:"side"`
	Price       float64 `json:"price"`
	PriceKey    string  `json:"-"`
	Notional    float64 `json:"notional"`
	DistancePct float64 `json:"distancePct"`
	X           float64 `json:"x"`
	MMCount     int     `json:"mmCount"`
	MMBase      float64 `json:"mmBase"`
	IsCluster   bool    `json:"isCluster"`

	Score            float64 `json:"score"`
	LifetimeSec      int64   `json:"lifetimeSec"`
	Touches          int     `json:"touches"`
	State            State   `json:"state"`
	MaxNotional      float64 `json:"maxNotional"`
	TimeToEatMinutes float64 `json:"timeToEatMinutes"`
	EatSpeed         float64 `json:"eatSpeed"`

	NATR    float64   `json:"natr"`
	Volumes []float64 `json:"volumes"`
}

// MarshalJSON encodes an infinite time-to-eat as null.
func (d Density) MarshalJSON() ([]byte, error) {
	type plain Density
	out := struct {
		plain
		TimeToEatMinutes *float64 `json:"timeToEatMinutes"`
	}{plain: plain(d)}
	if !math.IsInf(d.TimeToEatMinutes, 0) && !math.IsNaN(d.TimeToEatMinutes) {
		tte := d.TimeToEatMinutes
		out.TimeToEatMinutes = &tte
	}
	return json.Marshal(out)
}
