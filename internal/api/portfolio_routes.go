package api

import (
	"net/http"

	"github.com/kjannette/trahn-ticker/internal/models"
)

type portfolioJSON struct {
	Available      bool              `json:"available"`
	Price          string            `json:"price,omitempty"`
	Source         string            `json:"source,omitempty"`
	CashBalance    string            `json:"cashBalance"`
	AssetQuantity  string            `json:"assetQuantity"`
	CostBasis      string            `json:"costBasis"`
	RealizedPnL    string            `json:"realizedPnl"`
	UnrealizedPnL  string            `json:"unrealizedPnl,omitempty"`
	MarketValue    string            `json:"marketValue,omitempty"`
	TotalValue     string            `json:"totalValue,omitempty"`
	InitialBalance string            `json:"initialBalance"`
	TotalPnL       string            `json:"totalPnl,omitempty"`
	ReturnPercent  float64           `json:"returnPercent"`
	Stats          models.TradeStats `json:"stats"`
	Performance    performanceJSON   `json:"performance"`
}

type performanceJSON struct {
	Samples            int64   `json:"samples"`
	PeakValue          string  `json:"peakValue"`
	CurrentDrawdownPct float64 `json:"currentDrawdownPct"`
	MaxDrawdownPct     float64 `json:"maxDrawdownPct"`
	VolatilityPct      float64 `json:"volatilityPct"`
}

func (s *Server) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	sum := s.portfolio.Summary()
	acct := sum.Account

	out := portfolioJSON{
		Available:      sum.Available,
		CashBalance:    money(acct.CashBalance),
		AssetQuantity:  acct.AssetQuantity.String(),
		CostBasis:      money(acct.CostBasis),
		RealizedPnL:    money(acct.RealizedPnL),
		InitialBalance: money(sum.InitialBalance),
		ReturnPercent:  sum.ReturnPercent,
		Stats:          sum.Stats,
		Performance: performanceJSON{
			Samples:            sum.Performance.Samples,
			PeakValue:          money(sum.Performance.Peak),
			CurrentDrawdownPct: sum.Performance.CurrentDrawdownPct,
			MaxDrawdownPct:     sum.Performance.MaxDrawdownPct,
			VolatilityPct:      sum.Performance.VolatilityPct,
		},
	}
	if sum.Available {
		out.Price = money(sum.Price)
		out.Source = string(sum.Source)
		out.UnrealizedPnL = money(sum.UnrealizedPnL)
		out.MarketValue = money(sum.MarketValue)
		out.TotalValue = money(sum.TotalValue)
		out.TotalPnL = money(sum.TotalPnL)
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: out})
}
