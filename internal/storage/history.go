// Package storage provides the in-memory history of tracked densities.
package storage

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/densityscope/internal/logger"
	"github.com/rewired-gh/densityscope/internal/models"
)

// Key identifies a tracked density: instrument, side and canonical display price.
type Key struct {
	Symbol string
	Side   models.Side
	Price  string
}

type series struct {
	Symbol string
	Side   models.Side
}

// Entry is the tracked history of one density.
type Entry struct {
	ID          string
	Key         Key
	Price       float64
	FirstSeen   time.Time
	LastUpdated time.Time
	MaxNotional float64
	State       models.State
	Touches     int
	Touching    bool
	LastAlert   time.Time
}

// Options configures a History.
type Options struct {
	// TTL evicts entries not updated for this long.
	TTL time.Duration
	// RelocateTolerancePct is the maximum price distance at which an unseen
	// density is recognised as a relocated tracked one.
	RelocateTolerancePct float64
	// RelocateMinAge is how stale a tracked entry must be to be relocated.
	RelocateMinAge time.Duration
	// TouchThresholdPct is the distance from mark under which a density is touched.
	TouchThresholdPct float64
	// Now is the clock. Defaults to time.Now.
	Now func() time.Time
}

func DefaultOptions() Options {
	return Options{
		TTL:                  60 * time.Second,
		RelocateTolerancePct: 0.5,
		RelocateMinAge:       time.Second,
		TouchThresholdPct:    0.15,
	}
}

// shrinkRatio is the fraction of the maximum notional under which a density
// is considered to be eaten.
const shrinkRatio = 0.95

// History is a TTL-evicted map of tracked densities. It is safe for
// concurrent use.
type History struct {
	mu      sync.Mutex
	entries map[Key]*Entry
	bySide  map[series]map[Key]struct{}
	opts    Options
}

// NewHistory creates an empty history.
func NewHistory(opts Options) *History {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &History{
		entries: make(map[Key]*Entry),
		bySide:  make(map[series]map[Key]struct{}),
		opts:    opts,
	}
}

// Observe records one density seen in the current poll and returns a copy of
// its updated history. An exact key match updates the entry in place; a
// stale entry of the same instrument and side within the relocation tolerance
// is re-keyed and marked MOVED; otherwise a new entry is created.
func (h *History) Observe(d models.Density) Entry {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.opts.Now()
	key := Key{Symbol: d.Symbol, Side: d.Side, Price: d.PriceKey}

	if e, ok := h.entries[key]; ok {
		e.LastUpdated = now
		if d.Notional > e.MaxNotional {
			e.MaxNotional = d.Notional
		}
		if d.DistancePct <= h.opts.TouchThresholdPct {
			e.Touching = true
		} else if e.Touching {
			e.Touches++
			e.Touching = false
		}
		if e.State != models.StateMoved {
			if d.Notional < e.MaxNotional*shrinkRatio {
				e.State = models.StateUpdated
			} else {
				e.State = models.StateAppeared
			}
		}
		return *e
	}

	if old := h.findRelocated(key, d.Price, now); old != nil {
		h.remove(old.Key)
		old.Key = key
		old.Price = d.Price
		old.LastUpdated = now
		old.State = models.StateMoved
		h.insert(old)
		logger.Debug("Density %s %s relocated to %s (id %s)", key.Symbol, key.Side, key.Price, old.ID)
		return *old
	}

	e := &Entry{
		ID:          uuid.NewString(),
		Key:         key,
		Price:       d.Price,
		FirstSeen:   now,
		LastUpdated: now,
		MaxNotional: d.Notional,
		State:       models.StateAppeared,
	}
	h.insert(e)
	return *e
}

// findRelocated returns the nearest-priced stale entry of the same series
// strictly inside the relocation tolerance, or nil.
func (h *History) findRelocated(key Key, price float64, now time.Time) *Entry {
	var best *Entry
	bestDist := math.Inf(1)
	for k := range h.bySide[series{Symbol: key.Symbol, Side: key.Side}] {
		e := h.entries[k]
		if e.Price <= 0 || now.Sub(e.LastUpdated) <= h.opts.RelocateMinAge {
			continue
		}
		dist := math.Abs(price-e.Price) / e.Price * 100
		if dist < h.opts.RelocateTolerancePct && dist < bestDist {
			best, bestDist = e, dist
		}
	}
	return best
}

// MarkAlerted stamps the entry's alert time unless it already alerted within
// cooldown. It reports whether the caller should send the alert.
func (h *History) MarkAlerted(key Key, cooldown time.Duration) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	e, ok := h.entries[key]
	if !ok {
		return false
	}
	now := h.opts.Now()
	if !e.LastAlert.IsZero() && now.Sub(e.LastAlert) <= cooldown {
		return false
	}
	e.LastAlert = now
	return true
}

// Get returns a copy of the entry stored under key.
func (h *History) Get(key Key) (Entry, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	e, ok := h.entries[key]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Len returns the number of tracked entries.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.entries)
}

// Sweep evicts entries not updated within the TTL and returns how many were removed.
func (h *History) Sweep() int {
	h.mu.Lock()
	defer h.mu.Unlock()

	now := h.opts.Now()
	removed := 0
	for k, e := range h.entries {
		if now.Sub(e.LastUpdated) > h.opts.TTL {
			h.remove(k)
			removed++
		}
	}
	return removed
}

// Run sweeps expired entries every interval until ctx is cancelled.
func (h *History) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := h.Sweep(); n > 0 {
				logger.Debug("Evicted %d expired densities (%d tracked)", n, h.Len())
			}
		}
	}
}

func (h *History) insert(e *Entry) {
	h.entries[e.Key] = e
	s := series{Symbol: e.Key.Symbol, Side: e.Key.Side}
	if h.bySide[s] == nil {
		h.bySide[s] = make(map[Key]struct{})
	}
	h.bySide[s][e.Key] = struct{}{}
}

func (h *History) remove(k Key) {
	delete(h.entries, k)
	s := series{Symbol: k.Symbol, Side: k.Side}
	if keys, ok := h.bySide[s]; ok {
		delete(keys, k)
		if len(keys) == 0 {
			delete(h.bySide, s)
		}
	}
}
