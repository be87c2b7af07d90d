package api

import (
	"fmt"
	"net/http"
)

type pricePointJSON struct {
	T      int64  `json:"t"`
	P      string `json:"p"`
	Source string `json:"source"`
}

func (s *Server) handleRecentPrices(w http.ResponseWriter, r *http.Request) {
	if s.prices == nil {
		writeError(w, http.StatusNotFound, "price journal disabled (DATABASE_URL not set)")
		return
	}

	limit := parseLimit(r, 100)
	points, err := s.prices.GetRecent(r.Context(), limit)
	if err != nil {
		fmt.Printf("[API] Error fetching recent prices: %v\n", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch prices")
		return
	}

	out := make([]pricePointJSON, len(points))
	for i, p := range points {
		out[i] = pricePointJSON{T: p.ObservedAt.UnixMilli(), P: p.Price, Source: p.Source}
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: out})
}
