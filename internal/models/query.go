package models

import (
	"encoding/json"
	"math"
	"sort"
	"strings"
	"time"
)

// MaxConcurrency bounds the number of instrument workers a caller may request.
const MaxConcurrency = 20

// Query holds the caller-supplied parameters of one density scan.
type Query struct {
	MinNotional    float64  `json:"minNotional"`
	WindowPct      float64  `json:"windowPct"`
	DepthLimit     int      `json:"depthLimit"`
	XFilter        float64  `json:"xFilter"`
	NATRFilter     float64  `json:"natrFilter"`
	MinScore       float64  `json:"minScore"`
	Concurrency    int      `json:"concurrency"`
	Symbols        []string `json:"symbols,omitempty"`
	LimitSymbols   int      `json:"limitSymbols"`
	Limit          int      `json:"limit"`
	SeedMultiplier float64  `json:"mmMultiplier"`
	TopPerSide     int      `json:"topPerSide"`
}

// DefaultQuery returns the built-in scan defaults.
func DefaultQuery() Query {
	return Query{
		MinNotional:    0,
		WindowPct:      5.0,
		DepthLimit:     100,
		Concurrency:    5,
		LimitSymbols:   30,
		SeedMultiplier: 2.0,
		TopPerSide:     1,
	}
}

// Normalize returns a copy of q where every invalid field is replaced by the
// corresponding field of def. Invalid input is defaulted, never rejected.
func (q Query) Normalize(def Query) Query {
	if bad(q.MinNotional) || q.MinNotional < 0 {
		q.MinNotional = def.MinNotional
	}
	if bad(q.WindowPct) || q.WindowPct <= 0 {
		q.WindowPct = def.WindowPct
	}
	if q.DepthLimit <= 0 {
		q.DepthLimit = def.DepthLimit
	}
	if bad(q.XFilter) || q.XFilter < 0 {
		q.XFilter = 0
	}
	if bad(q.NATRFilter) || q.NATRFilter < 0 {
		q.NATRFilter = 0
	}
	if bad(q.MinScore) || q.MinScore < 0 {
		q.MinScore = 0
	}
	if q.Concurrency <= 0 {
		q.Concurrency = def.Concurrency
	}
	if q.Concurrency > MaxConcurrency {
		q.Concurrency = MaxConcurrency
	}
	if q.LimitSymbols < 0 {
		q.LimitSymbols = def.LimitSymbols
	}
	if q.Limit < 0 {
		q.Limit = 0
	}
	if bad(q.SeedMultiplier) || q.SeedMultiplier <= 0 {
		q.SeedMultiplier = def.SeedMultiplier
	}
	if q.TopPerSide <= 0 {
		q.TopPerSide = def.TopPerSide
	}
	q.Symbols = normalizeSymbols(q.Symbols)
	return q
}

// CacheKey returns a stable key covering every query parameter. Symbol order
// only matters when LimitSymbols cuts the list.
func (q Query) CacheKey() string {
	if len(q.Symbols) > 1 && (q.LimitSymbols <= 0 || q.LimitSymbols >= len(q.Symbols)) {
		q.Symbols = append([]string(nil), q.Symbols...)
		sort.Strings(q.Symbols)
	}
	b, err := json.Marshal(q)
	if err != nil {
		return ""
	}
	return string(b)
}

func normalizeSymbols(symbols []string) []string {
	if len(symbols) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		s = strings.ToUpper(strings.TrimSpace(s))
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func bad(f float64) bool {
	return math.IsNaN(f) || math.IsInf(f, 0)
}

// ScanResult is the flattened, filtered output of one scan.
type ScanResult struct {
	Count       int       `json:"count"`
	Query       Query     `json:"query"`
	Data        []Density `json:"data"`
	GeneratedAt time.Time `json:"generatedAt"`
}
