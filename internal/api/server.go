package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/kjannette/trahn-ticker/internal/ledger"
	"github.com/kjannette/trahn-ticker/internal/market"
	"github.com/kjannette/trahn-ticker/internal/models"
	"github.com/shopspring/decimal"
)

const maxQueryLimit = 1000

// QuoteReader is satisfied by market.QuoteCache.
type QuoteReader interface {
	Read() (models.Quote, bool)
}

// Portfolio is satisfied by ledger.Ledger.
type Portfolio interface {
	ApplyTrade(ctx context.Context, side models.Side, quantity decimal.Decimal, priceHint *decimal.Decimal) (models.Trade, error)
	Summary() ledger.Summary
	Trades(limit int) []models.Trade
}

// PollStatser is satisfied by market.Poller.
type PollStatser interface {
	Stats() market.PollStats
}

// DropCounter is satisfied by notifications.Sender.
type DropCounter interface {
	Dropped() int64
}

// PriceHistory is satisfied by repository.PriceRepo.
type PriceHistory interface {
	GetRecent(ctx context.Context, limit int) ([]models.PricePoint, error)
}

type Options struct {
	Port          int
	CORSOrigin    string
	Quotes        QuoteReader
	Portfolio     Portfolio    // nil disables /v1/portfolio and /v1/trades
	Prices        PriceHistory // nil when the journal is disabled
	Hub           *Hub         // nil disables /ws
	Poller        PollStatser  // optional, adds poll counters to /health
	Notifications DropCounter  // optional, adds dropped webhook count to /health
	Now           func() time.Time
}

type Server struct {
	quotes     QuoteReader
	portfolio  Portfolio
	prices     PriceHistory
	hub        *Hub
	poller     PollStatser
	notify     DropCounter
	now        func() time.Time
	handler    http.Handler
	httpServer *http.Server
}

func NewServer(opts Options) *Server {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Server{
		quotes:    opts.Quotes,
		portfolio: opts.Portfolio,
		prices:    opts.Prices,
		hub:       opts.Hub,
		poller:    opts.Poller,
		notify:    opts.Notifications,
		now:       opts.Now,
	}

	mux := http.NewServeMux()

	// Market data
	mux.HandleFunc("GET /ticker", s.handleTicker)
	mux.HandleFunc("GET /api/ticker", s.handleTicker)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /v1/prices/recent", s.handleRecentPrices)

	// Paper portfolio
	if s.portfolio != nil {
		mux.HandleFunc("GET /v1/portfolio", s.handlePortfolio)
		mux.HandleFunc("GET /v1/trades", s.handleListTrades)
		mux.HandleFunc("POST /v1/trades", s.handleCreateTrade)
	}

	if s.hub != nil {
		mux.Handle("GET /ws", s.hub)
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})

	s.handler = corsMiddleware(mux, opts.CORSOrigin)
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.Port),
		Handler:      s.handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return s
}

// Handler exposes the routed handler, mainly for httptest.
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) Start() error {
	fmt.Printf("[API] Ticker server started on http://localhost%s\n", s.httpServer.Addr)
	fmt.Printf("[API] Ticker:       http://localhost%s/ticker\n", s.httpServer.Addr)
	fmt.Printf("[API] Health check: http://localhost%s/health\n", s.httpServer.Addr)
	if s.hub != nil {
		fmt.Printf("[API] Live feed:    ws://localhost%s/ws\n", s.httpServer.Addr)
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown closes websocket clients first; http.Server.Shutdown does not
// track hijacked connections.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.hub != nil {
		s.hub.Close()
	}
	return s.httpServer.Shutdown(ctx)
}

// --- middleware ---

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", allowOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// --- validation helpers ---

func parseLimit(r *http.Request, defaultLimit int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxQueryLimit {
		return maxQueryLimit
	}
	return n
}

// --- response helpers ---

type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, envelope{Success: false, Error: msg})
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
