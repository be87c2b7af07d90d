package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Provenance records where a Quote came from.
type Provenance string

const (
	SourceUpstream Provenance = "upstream"
	SourceFallback Provenance = "fallback"
)

// Quote is a point-in-time 24h ticker snapshot for one trading pair.
// Price-like fields are normalized to two decimals.
type Quote struct {
	Symbol           string
	Price            decimal.Decimal
	Change24h        decimal.Decimal
	ChangePercent24h decimal.Decimal
	Volume24h        decimal.Decimal
	High24h          decimal.Decimal
	Low24h           decimal.Decimal
	ObservedAt       time.Time
	Source           Provenance
}

// IsFallback reports whether the quote was synthesized locally.
func (q Quote) IsFallback() bool {
	return q.Source == SourceFallback
}

// Age returns how old the quote is relative to now.
func (q Quote) Age(now time.Time) time.Duration {
	return now.Sub(q.ObservedAt)
}

// PricePoint is a journaled quote row.
type PricePoint struct {
	ID         int64
	Symbol     string
	Price      string
	Change     string
	ChangePct  string
	Source     string
	ObservedAt time.Time
	TradingDay string
	CreatedAt  time.Time
}
