package models

import (
	"github.com/shopspring/decimal"
)

// BookEntry is a raw price/quantity pair as published by the exchange.
type BookEntry struct {
	Price    decimal.Decimal `json:"price"`
	Quantity decimal.Decimal `json:"qty"`
}

// OrderBook is a top-N order-book snapshot. Bids are best (highest) first,
// asks are best (lowest) first.
type OrderBook struct {
	Symbol       string      `json:"symbol"`
	LastUpdateID int64       `json:"lastUpdateId"`
	Bids         []BookEntry `json:"bids"`
	Asks         []BookEntry `json:"asks"`
}

// Candle is one fixed-interval OHLCV bar. QuoteVolume is in the quote asset (USDT).
type Candle struct {
	OpenTime    int64   `json:"openTime"`
	Open        float64 `json:"open"`
	High        float64 `json:"high"`
	Low         float64 `json:"low"`
	Close       float64 `json:"close"`
	Volume      float64 `json:"volume"`
	QuoteVolume float64 `json:"quoteVolume"`
}
