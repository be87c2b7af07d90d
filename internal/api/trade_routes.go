package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/kjannette/trahn-ticker/internal/ledger"
	"github.com/kjannette/trahn-ticker/internal/models"
	"github.com/shopspring/decimal"
)

const maxTradeBody = 1 << 14

// tradeJSON is the single wire shape for a trade; timestamp is unix millis.
type tradeJSON struct {
	ID          string `json:"id"`
	Timestamp   int64  `json:"timestamp"`
	Side        string `json:"side"`
	Price       string `json:"price"`
	Quantity    string `json:"quantity"`
	Notional    string `json:"notional"`
	Status      string `json:"status"`
	RealizedPnL string `json:"realizedPnl"`
}

func toTradeJSON(t models.Trade) tradeJSON {
	return tradeJSON{
		ID:          t.ID.String(),
		Timestamp:   t.Timestamp.UnixMilli(),
		Side:        string(t.Side),
		Price:       money(t.Price),
		Quantity:    t.Quantity.String(),
		Notional:    money(t.Notional),
		Status:      string(t.Status),
		RealizedPnL: money(t.RealizedPnL),
	}
}

type tradeRequest struct {
	Side      string           `json:"side"`
	Quantity  *decimal.Decimal `json:"quantity"`
	PriceHint *decimal.Decimal `json:"priceHint,omitempty"`
}

func (s *Server) handleListTrades(w http.ResponseWriter, r *http.Request) {
	limit := parseLimit(r, 100)
	trades := s.portfolio.Trades(limit)

	out := make([]tradeJSON, len(trades))
	for i, t := range trades {
		out[i] = toTradeJSON(t)
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: out})
}

func (s *Server) handleCreateTrade(w http.ResponseWriter, r *http.Request) {
	var req tradeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTradeBody)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	side, err := models.ParseSide(req.Side)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Quantity == nil {
		writeError(w, http.StatusBadRequest, "quantity is required")
		return
	}

	trade, err := s.portfolio.ApplyTrade(r.Context(), side, *req.Quantity, req.PriceHint)
	if err != nil {
		writeError(w, tradeErrorStatus(err), err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, envelope{Success: true, Data: toTradeJSON(trade)})
}

func tradeErrorStatus(err error) int {
	switch {
	case errors.Is(err, ledger.ErrInvalidQuantity),
		errors.Is(err, ledger.ErrInvalidSide),
		errors.Is(err, ledger.ErrInvalidPriceHint):
		return http.StatusBadRequest
	case errors.Is(err, ledger.ErrPriceMoved):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, ledger.ErrInsufficientAsset),
		errors.Is(err, ledger.ErrRiskLimit):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ledger.ErrQuoteUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
