// Package monitor orchestrates density scans across instruments and raises
// alerts for large walls close to the mark.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/rewired-gh/densityscope/internal/density"
	"github.com/rewired-gh/densityscope/internal/logger"
	"github.com/rewired-gh/densityscope/internal/models"
	"github.com/rewired-gh/densityscope/internal/retry"
	"github.com/rewired-gh/densityscope/internal/storage"
	"github.com/rewired-gh/densityscope/internal/workpool"
)

// MarketData is the upstream the monitor reads from.
type MarketData interface {
	TradableSymbols(ctx context.Context) ([]string, error)
	MarkPrices(ctx context.Context) (map[string]float64, error)
	OrderBook(ctx context.Context, symbol string, limit int) (*models.OrderBook, error)
	Candles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error)
}

// Notifier delivers density alerts.
type Notifier interface {
	SendDensityAlert(d models.Density) error
}

type Config struct {
	density.Params

	KlineInterval string
	KlineLimit    int
	Retry         retry.Policy

	AlertMinScore       float64
	AlertMaxDistancePct float64
	AlertCooldown       time.Duration

	CacheTTL     time.Duration
	PollTimeout  time.Duration
	Excluded     []string
	DefaultQuery models.Query

	Now func() time.Time
}

// DefaultExcluded lists the large caps left out of the scan universe.
var DefaultExcluded = []string{
	"BTCUSDT", "ETHUSDT", "SOLUSDT", "XRPUSDT", "DOGEUSDT",
	"ADAUSDT", "REPEUSDT", "AVAXUSDT", "TRXUSDT", "NEARUSDT",
	"DOTUSDT", "LINKUSDT", "MATICUSDT", "LTCUSDT", "BCHUSDT",
	"ETCUSDT", "FILUSDT", "AAVEUSDT", "UNIUSDT", "COMPUSDT",
}

func DefaultConfig() Config {
	return Config{
		Params:              density.DefaultParams(),
		KlineInterval:       "5m",
		KlineLimit:          20,
		Retry:               retry.DefaultPolicy(),
		AlertMinScore:       5.0,
		AlertMaxDistancePct: 0.3,
		AlertCooldown:       5 * time.Minute,
		CacheTTL:            3 * time.Second,
		PollTimeout:         2 * time.Minute,
		Excluded:            DefaultExcluded,
		DefaultQuery:        models.DefaultQuery(),
	}
}

// CacheStats reports response cache usage.
type CacheStats struct {
	Entries int      `json:"entries"`
	Keys    []string `json:"keys"`
	Hits    uint64   `json:"hits"`
	Misses  uint64   `json:"misses"`
}

type cachedResult struct {
	result  *models.ScanResult
	expires time.Time
}

type Monitor struct {
	history  *storage.History
	upstream MarketData
	notifier Notifier
	config   Config

	excluded        map[string]bool
	intervalMinutes float64

	flight singleflight.Group
	mu     sync.Mutex
	cache  map[string]cachedResult
	latest *models.ScanResult
	hits   atomic.Uint64
	misses atomic.Uint64

	alerts sync.WaitGroup
}

// New creates a monitor. notifier may be nil, which disables alerts.
func New(h *storage.History, upstream MarketData, notifier Notifier, config Config) *Monitor {
	if config.Now == nil {
		config.Now = time.Now
	}
	excluded := make(map[string]bool, len(config.Excluded))
	for _, s := range config.Excluded {
		excluded[strings.ToUpper(s)] = true
	}
	return &Monitor{
		history:         h,
		upstream:        upstream,
		notifier:        notifier,
		config:          config,
		excluded:        excluded,
		intervalMinutes: intervalMinutes(config.KlineInterval),
		cache:           make(map[string]cachedResult),
	}
}

// Scan returns the densities matching q. Identical queries within the cache
// TTL are served from cache, and concurrent identical queries share a poll.
func (m *Monitor) Scan(ctx context.Context, q models.Query) (*models.ScanResult, error) {
	q = q.Normalize(m.config.DefaultQuery)
	key := q.CacheKey()

	if res, ok := m.cached(key); ok {
		m.hits.Add(1)
		return res, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// The shared poll outlives any single caller; each caller only stops
	// waiting for it.
	ch := m.flight.DoChan(key, func() (any, error) {
		if res, ok := m.cached(key); ok {
			return res, nil
		}
		m.misses.Add(1)
		pollCtx := context.WithoutCancel(ctx)
		if m.config.PollTimeout > 0 {
			var cancel context.CancelFunc
			pollCtx, cancel = context.WithTimeout(pollCtx, m.config.PollTimeout)
			defer cancel()
		}
		res, err := m.poll(pollCtx, q)
		if err != nil {
			return nil, err
		}
		m.store(key, res)
		return res, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*models.ScanResult), nil
	}
}

// Latest returns the result of the most recent completed poll, or nil.
func (m *Monitor) Latest() *models.ScanResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.latest
}

func (m *Monitor) CacheStats() CacheStats {
	m.mu.Lock()
	keys := make([]string, 0, len(m.cache))
	for k := range m.cache {
		keys = append(keys, k)
	}
	m.mu.Unlock()
	sort.Strings(keys)
	return CacheStats{Entries: len(keys), Keys: keys, Hits: m.hits.Load(), Misses: m.misses.Load()}
}

// Symbols returns the scan universe before any cap is applied.
func (m *Monitor) Symbols(ctx context.Context) ([]string, error) {
	all, err := retry.Do(ctx, m.config.Retry, m.upstream.TradableSymbols)
	if err != nil {
		return nil, fmt.Errorf("failed to list symbols: %w", err)
	}
	symbols := make([]string, 0, len(all))
	for _, s := range all {
		if !m.excluded[s] {
			symbols = append(symbols, s)
		}
	}
	return symbols, nil
}

// OrderBook fetches a raw snapshot with the monitor's retry policy.
func (m *Monitor) OrderBook(ctx context.Context, symbol string, limit int) (*models.OrderBook, error) {
	return retry.Do(ctx, m.config.Retry, func(ctx context.Context) (*models.OrderBook, error) {
		return m.upstream.OrderBook(ctx, symbol, limit)
	})
}

// Shutdown waits for alert deliveries still in flight.
func (m *Monitor) Shutdown() {
	logger.Info("Waiting for pending alerts")
	m.alerts.Wait()
}

func (m *Monitor) cached(key string) (*models.ScanResult, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.cache[key]
	if !ok || !m.config.Now().Before(c.expires) {
		return nil, false
	}
	return c.result, true
}

func (m *Monitor) store(key string, res *models.ScanResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.config.Now()
	for k, c := range m.cache {
		if !now.Before(c.expires) {
			delete(m.cache, k)
		}
	}
	if m.config.CacheTTL > 0 {
		m.cache[key] = cachedResult{result: res, expires: now.Add(m.config.CacheTTL)}
	}
	m.latest = res
}

func (m *Monitor) universe(ctx context.Context, q models.Query) ([]string, error) {
	symbols := q.Symbols
	if len(symbols) == 0 {
		var err error
		if symbols, err = m.Symbols(ctx); err != nil {
			return nil, err
		}
	}
	if q.LimitSymbols > 0 && len(symbols) > q.LimitSymbols {
		symbols = symbols[:q.LimitSymbols]
	}
	return symbols, nil
}

func (m *Monitor) poll(ctx context.Context, q models.Query) (*models.ScanResult, error) {
	start := time.Now()

	symbols, err := m.universe(ctx, q)
	if err != nil {
		return nil, err
	}
	marks, err := retry.Do(ctx, m.config.Retry, m.upstream.MarkPrices)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch mark prices: %w", err)
	}

	perSymbol := workpool.Map(ctx, symbols, q.Concurrency, func(ctx context.Context, symbol string) []models.Density {
		return m.scanSymbol(ctx, symbol, marks[symbol], q)
	})
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("scan interrupted: %w", err)
	}

	var data []models.Density
	for _, ds := range perSymbol {
		for _, d := range ds {
			if q.XFilter > 0 && d.X < q.XFilter {
				continue
			}
			if q.NATRFilter > 0 && d.NATR < q.NATRFilter {
				continue
			}
			if q.MinScore > 0 && d.Score < q.MinScore {
				continue
			}
			data = append(data, d)
		}
	}
	sort.SliceStable(data, func(i, j int) bool { return data[i].Score > data[j].Score })
	if q.Limit > 0 && len(data) > q.Limit {
		data = data[:q.Limit]
	}
	if data == nil {
		data = []models.Density{}
	}

	logger.Debug("Scanned %d symbols in %v: %d densities", len(symbols), time.Since(start), len(data))

	return &models.ScanResult{
		Count:       len(data),
		Query:       q,
		Data:        data,
		GeneratedAt: m.config.Now(),
	}, nil
}

// scanSymbol fetches candles and depth for one instrument in parallel and
// returns its best densities per side. Failures are logged and yield nothing.
func (m *Monitor) scanSymbol(ctx context.Context, symbol string, mark float64, q models.Query) []models.Density {
	if mark <= 0 {
		logger.Debug("Skipping %s: %v", symbol, density.ErrNoMarkPrice)
		return nil
	}

	var (
		book  *models.OrderBook
		stats MarketStats
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		candles, err := retry.Do(gctx, m.config.Retry, func(ctx context.Context) ([]models.Candle, error) {
			return m.upstream.Candles(ctx, symbol, m.config.KlineInterval, m.config.KlineLimit)
		})
		if err != nil {
			logger.Warn("Candles for %s unavailable: %v", symbol, err)
			return nil
		}
		stats = ComputeMarketStats(candles, m.intervalMinutes)
		return nil
	})
	g.Go(func() error {
		var err error
		book, err = m.OrderBook(gctx, symbol, q.DepthLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		logger.Warn("Skipping %s: %v", symbol, err)
		return nil
	}

	bids, asks, err := density.FilterSnapshot(mark, *book, q.MinNotional, q.WindowPct)
	if err != nil {
		if !errors.Is(err, density.ErrNoMarkPrice) {
			logger.Warn("Skipping %s: %v", symbol, err)
		}
		return nil
	}

	out := m.processSide(symbol, models.SideBid, bids, stats, q)
	return append(out, m.processSide(symbol, models.SideAsk, asks, stats, q)...)
}

func (m *Monitor) processSide(symbol string, side models.Side, levels []models.Level, stats MarketStats, q models.Query) []models.Density {
	if len(levels) == 0 {
		return nil
	}

	notionals := make([]float64, len(levels))
	for i, l := range levels {
		notionals[i] = l.Notional
	}
	baseline := density.Baseline(notionals, m.config.DefaultBase)
	mm0, seeds := density.SeedCandidates(notionals, baseline, q.SeedMultiplier)
	mmBase := density.MarketMakerBase(levels, m.config.Params, baseline)
	logger.Debug("%s %s: baseline=%.0f mm0=%.0f seeds=%d mmBase=%.0f", symbol, side, baseline, mm0, seeds, mmBase)

	densities := density.Densities(symbol, side, levels, m.config.DisplayGapPct, mmBase)
	now := m.config.Now()
	for i := range densities {
		d := &densities[i]
		entry := m.history.Observe(*d)
		raw := annotate(d, entry, stats, now)
		m.maybeAlert(*d, raw, entry.Key)
	}

	sort.SliceStable(densities, func(i, j int) bool {
		a, b := densities[i], densities[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.DistancePct != b.DistancePct {
			return a.DistancePct < b.DistancePct
		}
		return a.Notional > b.Notional
	})
	if len(densities) > q.TopPerSide {
		densities = densities[:q.TopPerSide]
	}
	return densities
}

// annotate fills the tracked fields of d and returns its unrounded score.
func annotate(d *models.Density, e storage.Entry, stats MarketStats, now time.Time) float64 {
	d.ID = e.ID
	d.State = e.State
	d.Touches = e.Touches
	d.MaxNotional = max(e.MaxNotional, d.Notional)

	lifetime := int64(now.Sub(e.FirstSeen) / time.Second)
	if lifetime < 0 {
		lifetime = 0
	}
	d.LifetimeSec = lifetime
	d.TimeToEatMinutes = density.TimeToEat(d.Notional, stats.VolumePerMinute)
	d.EatSpeed = density.EatSpeed(d.MaxNotional, d.Notional, lifetime)
	d.NATR = stats.NATR
	d.Volumes = stats.Volumes
	if d.Volumes == nil {
		d.Volumes = []float64{}
	}

	score := density.Score(density.ScoreInput{
		Notional:         d.Notional,
		DistancePct:      d.DistancePct,
		IsCluster:        d.IsCluster,
		TimeToEatMinutes: d.TimeToEatMinutes,
		NATR:             d.NATR,
		LifetimeSec:      lifetime,
	})
	d.Score = density.RoundScore(score)
	return score
}

func (m *Monitor) maybeAlert(d models.Density, score float64, key storage.Key) {
	if m.notifier == nil {
		return
	}
	if score < m.config.AlertMinScore || d.DistancePct > m.config.AlertMaxDistancePct || d.State == models.StateMoved {
		return
	}
	if !m.history.MarkAlerted(key, m.config.AlertCooldown) {
		return
	}

	logger.Info("Alert: %s %s %.0f at %s (score %.2f, dist %.2f%%)", d.Symbol, d.Side, d.Notional, d.PriceKey, d.Score, d.DistancePct)
	m.alerts.Add(1)
	go func() {
		defer m.alerts.Done()
		if err := m.notifier.SendDensityAlert(d); err != nil {
			logger.Warn("Failed to send alert for %s: %v", d.Symbol, err)
		}
	}()
}

// intervalMinutes converts a kline interval such as "5m" or "1h" to minutes.
func intervalMinutes(interval string) float64 {
	if d, err := time.ParseDuration(interval); err == nil && d > 0 {
		return d.Minutes()
	}
	if strings.HasSuffix(interval, "d") {
		if d, err := time.ParseDuration(strings.TrimSuffix(interval, "d") + "h"); err == nil && d > 0 {
			return d.Minutes() * 24
		}
	}
	return 5
}
