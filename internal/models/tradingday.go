package models

import "time"

// TradingDay returns the trading day (YYYY-MM-DD) for a given timestamp.
// Crypto markets never close, so the day rolls at 00:00 UTC.
func TradingDay(ts time.Time) string {
	return ts.UTC().Format("2006-01-02")
}

