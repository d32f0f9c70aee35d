// Package binance provides read-only access to Binance USDT-M futures market data.
package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/rewired-gh/densityscope/internal/models"
)

// DefaultBaseURL is the public USDT-M futures REST endpoint.
const DefaultBaseURL = "https://fapi.binance.com"

// depthLimits are the snapshot sizes the depth endpoint accepts.
var depthLimits = []int{5, 10, 20, 50, 100, 500, 1000}

// ClientConfig holds transport tuning for the Binance client.
type ClientConfig struct {
	BaseURL             string
	Timeout             time.Duration
	RequestsPerSecond   float64
	Burst               int
	MaxIdleConns        int
	MaxIdleConnsPerHost int
	IdleConnTimeout     time.Duration
}

// Client fetches exchange metadata, mark prices, order books and candles.
// Every request waits on a shared rate limiter.
type Client struct {
	api     *futures.Client
	limiter *rate.Limiter
}

// NewClient creates a Binance futures client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	if cfg.Burst < 1 {
		cfg.Burst = 1
	}

	api := futures.NewClient("", "")
	api.BaseURL = cfg.BaseURL
	api.HTTPClient = &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:     cfg.IdleConnTimeout,
		},
	}

	return &Client{
		api:     api,
		limiter: rate.NewLimiter(limit, cfg.Burst),
	}
}

// TradableSymbols lists perpetual USDT-quoted contracts currently trading.
func (c *Client) TradableSymbols(ctx context.Context) ([]string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	info, err := c.api.NewExchangeInfoService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch exchange info: %w", err)
	}

	symbols := make([]string, 0, len(info.Symbols))
	for _, s := range info.Symbols {
		if string(s.ContractType) == "PERPETUAL" && s.QuoteAsset == "USDT" && s.Status == "TRADING" {
			symbols = append(symbols, s.Symbol)
		}
	}
	return symbols, nil
}

// MarkPrices returns the mark price of every instrument in a single call.
// Instruments with an unparseable mark price are omitted.
func (c *Client) MarkPrices(ctx context.Context) (map[string]float64, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	indexes, err := c.api.NewPremiumIndexService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch mark prices: %w", err)
	}

	marks := make(map[string]float64, len(indexes))
	for _, idx := range indexes {
		price, err := strconv.ParseFloat(idx.MarkPrice, 64)
		if err != nil || price <= 0 {
			continue
		}
		marks[idx.Symbol] = price
	}
	return marks, nil
}

// OrderBook fetches a top-N snapshot. limit is rounded up to the nearest
// depth the exchange accepts.
func (c *Client) OrderBook(ctx context.Context, symbol string, limit int) (*models.OrderBook, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	res, err := c.api.NewDepthService().Symbol(symbol).Limit(NormalizeDepthLimit(limit)).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order book for %s: %w", symbol, err)
	}

	book := &models.OrderBook{
		Symbol:       symbol,
		LastUpdateID: res.LastUpdateID,
		Bids:         make([]models.BookEntry, 0, len(res.Bids)),
		Asks:         make([]models.BookEntry, 0, len(res.Asks)),
	}
	for _, b := range res.Bids {
		if e, ok := parseEntry(b.Price, b.Quantity); ok {
			book.Bids = append(book.Bids, e)
		}
	}
	for _, a := range res.Asks {
		if e, ok := parseEntry(a.Price, a.Quantity); ok {
			book.Asks = append(book.Asks, e)
		}
	}
	return book, nil
}

// Candles fetches the most recent klines, oldest first.
func (c *Client) Candles(ctx context.Context, symbol, interval string, limit int) ([]models.Candle, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	klines, err := c.api.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch klines for %s: %w", symbol, err)
	}

	candles := make([]models.Candle, 0, len(klines))
	for _, k := range klines {
		candles = append(candles, models.Candle{
			OpenTime:    k.OpenTime,
			Open:        parseFloat(k.Open),
			High:        parseFloat(k.High),
			Low:         parseFloat(k.Low),
			Close:       parseFloat(k.Close),
			Volume:      parseFloat(k.Volume),
			QuoteVolume: parseFloat(k.QuoteAssetVolume),
		})
	}
	return candles, nil
}

// IsRetryable reports whether a failed request may succeed when repeated.
// Binance request-validation errors (such as an unknown symbol) are permanent;
// transport failures, server errors and rate limiting are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == 0:
			return true
		case apiErr.Code <= -1100 && apiErr.Code > -1200:
			return false
		}
	}
	return true
}

// NormalizeDepthLimit maps limit to the smallest accepted depth not below it.
func NormalizeDepthLimit(limit int) int {
	for _, l := range depthLimits {
		if limit <= l {
			return l
		}
	}
	return depthLimits[len(depthLimits)-1]
}

func parseEntry(price, qty string) (models.BookEntry, bool) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return models.BookEntry{}, false
	}
	q, err := decimal.NewFromString(qty)
	if err != nil {
		return models.BookEntry{}, false
	}
	return models.BookEntry{Price: p, Quantity: q}, true
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
