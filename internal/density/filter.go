// Package density turns order-book snapshots into scored liquidity densities:
// snapshot filtering, robust baselines, price clustering and scoring.
package density

import (
	"errors"
	"math"

	"github.com/rewired-gh/densityscope/internal/models"
)

// ErrNoMarkPrice is returned when an instrument has no usable mark price.
var ErrNoMarkPrice = errors.New("mark price unavailable")

// FilterSnapshot converts a raw snapshot into candidate levels whose notional
// is at least minNotional and whose distance from mark is within windowPct.
// Levels keep book order, nearest to the mark first.
func FilterSnapshot(mark float64, book models.OrderBook, minNotional, windowPct float64) (bids, asks []models.Level, err error) {
	if mark <= 0 || math.IsNaN(mark) || math.IsInf(mark, 0) {
		return nil, nil, ErrNoMarkPrice
	}
	bids = filterSide(models.SideBid, mark, book.Bids, minNotional, windowPct)
	asks = filterSide(models.SideAsk, mark, book.Asks, minNotional, windowPct)
	return bids, asks, nil
}

func filterSide(side models.Side, mark float64, entries []models.BookEntry, minNotional, windowPct float64) []models.Level {
	var levels []models.Level
	for _, e := range entries {
		if !e.Price.IsPositive() || !e.Quantity.IsPositive() {
			continue
		}
		price := e.Price.InexactFloat64()
		notional := e.Price.Mul(e.Quantity).InexactFloat64()
		if notional < minNotional {
			continue
		}
		dist := DistancePct(side, mark, price)
		if dist > windowPct {
			continue
		}
		levels = append(levels, models.Level{
			Side:        side,
			Price:       price,
			PriceKey:    e.Price.String(),
			Quantity:    e.Quantity.InexactFloat64(),
			Notional:    notional,
			DistancePct: dist,
		})
	}
	return levels
}

// DistancePct is the absolute distance of price from mark, in percent of mark.
func DistancePct(side models.Side, mark, price float64) float64 {
	if side == models.SideBid {
		return math.Abs((mark-price)/mark) * 100
	}
	return math.Abs((price-mark)/mark) * 100
}
