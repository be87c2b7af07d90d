package api

import (
	"net/http"

	"github.com/kjannette/trahn-ticker/internal/models"
)

type tickerJSON struct {
	Symbol             string `json:"symbol"`
	Price              string `json:"price"`
	PriceChange        string `json:"priceChange"`
	PriceChangePercent string `json:"priceChangePercent"`
	Volume             string `json:"volume"`
	High               string `json:"high"`
	Low                string `json:"low"`
	Timestamp          int64  `json:"timestamp"`
	Source             string `json:"source"`
}

func toTickerJSON(q models.Quote) tickerJSON {
	return tickerJSON{
		Symbol:             q.Symbol,
		Price:              money(q.Price),
		PriceChange:        money(q.Change24h),
		PriceChangePercent: money(q.ChangePercent24h),
		Volume:             money(q.Volume24h),
		High:               money(q.High24h),
		Low:                money(q.Low24h),
		Timestamp:          q.ObservedAt.UnixMilli(),
		Source:             string(q.Source),
	}
}

// handleTicker serves the cached quote only, so two calls between poll
// cycles return identical bytes.
func (s *Server) handleTicker(w http.ResponseWriter, r *http.Request) {
	q, ok := s.quotes.Read()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "market data not yet available")
		return
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: toTickerJSON(q)})
}
