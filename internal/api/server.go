// Package api exposes scan results over HTTP and websocket.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rewired-gh/densityscope/internal/logger"
	"github.com/rewired-gh/densityscope/internal/models"
	"github.com/rewired-gh/densityscope/internal/monitor"
)

const defaultRawDepth = 100

// Scanner is the query surface the server exposes.
type Scanner interface {
	Scan(ctx context.Context, q models.Query) (*models.ScanResult, error)
	Symbols(ctx context.Context) ([]string, error)
	OrderBook(ctx context.Context, symbol string, limit int) (*models.OrderBook, error)
	CacheStats() monitor.CacheStats
}

type Server struct {
	scanner   Scanner
	hub       *Hub
	staticDir string
	mux       *http.ServeMux
	started   time.Time
}

// NewServer wires the routes. hub may be nil to disable /ws; an empty
// staticDir disables the dashboard.
func NewServer(scanner Scanner, hub *Hub, staticDir string) *Server {
	s := &Server{
		scanner:   scanner,
		hub:       hub,
		staticDir: staticDir,
		mux:       http.NewServeMux(),
		started:   time.Now(),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /symbols", s.handleSymbols)
	s.mux.HandleFunc("GET /depth/{symbol}", s.handleDepth)
	s.mux.HandleFunc("GET /densities/simple", s.handleDensities)
	s.mux.HandleFunc("GET /_cache/stats", s.handleCacheStats)
	if s.hub != nil {
		s.mux.HandleFunc("GET /ws", s.hub.ServeWS)
	}
	if s.staticDir != "" {
		s.mux.Handle("GET /", http.FileServer(http.Dir(s.staticDir)))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":        true,
		"uptimeSec": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleSymbols(w http.ResponseWriter, r *http.Request) {
	symbols, err := s.scanner.Symbols(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": len(symbols), "symbols": symbols})
}

func (s *Server) handleDepth(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(strings.TrimSpace(r.PathValue("symbol")))
	limit := intParam(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = defaultRawDepth
	}
	book, err := s.scanner.OrderBook(r.Context(), symbol, limit)
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, book)
}

func (s *Server) handleDensities(w http.ResponseWriter, r *http.Request) {
	res, err := s.scanner.Scan(r.Context(), ParseQuery(r))
	if err != nil {
		writeError(w, http.StatusBadGateway, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.scanner.CacheStats())
}

// ParseQuery reads scan parameters from the request. Malformed values are
// left unset so that normalization applies the defaults.
func ParseQuery(r *http.Request) models.Query {
	v := r.URL.Query()
	q := models.Query{
		MinNotional:    floatParam(v.Get("minNotional")),
		WindowPct:      floatParam(v.Get("windowPct")),
		DepthLimit:     intParam(v.Get("depthLimit")),
		XFilter:        floatParam(v.Get("xFilter")),
		NATRFilter:     floatParam(v.Get("natrFilter")),
		MinScore:       floatParam(v.Get("minScore")),
		Concurrency:    intParam(v.Get("concurrency")),
		Limit:          intParam(v.Get("limit")),
		SeedMultiplier: floatParam(v.Get("mmMultiplier")),
		TopPerSide:     intParam(v.Get("topPerSide")),
		LimitSymbols:   -1,
	}
	if raw := v.Get("limitSymbols"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			q.LimitSymbols = n
		}
	}
	if raw := v.Get("symbols"); raw != "" {
		q.Symbols = strings.Split(raw, ",")
	}
	return q
}

func floatParam(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func intParam(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	logger.Warn("Request failed: %v", err)
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
