package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case SideBuy:
		return SideBuy, nil
	case SideSell:
		return SideSell, nil
	default:
		return "", fmt.Errorf("invalid side %q, expected BUY|SELL", s)
	}
}

type TradeStatus string

const StatusExecuted TradeStatus = "EXECUTED"

// Trade is an executed paper trade. Values are never modified after the
// ledger appends them.
type Trade struct {
	ID          uuid.UUID
	Timestamp   time.Time
	Side        Side
	Price       decimal.Decimal
	Quantity    decimal.Decimal
	Notional    decimal.Decimal
	Status      TradeStatus
	RealizedPnL decimal.Decimal // zero for BUY
}

// Account holds the paper balances for the single traded asset.
type Account struct {
	CashBalance   decimal.Decimal
	AssetQuantity decimal.Decimal
	RealizedPnL   decimal.Decimal
	CostBasis     decimal.Decimal
}

// UnrealizedPnL is derived from the account and a mark price; it is never stored.
func (a Account) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	return a.AssetQuantity.Mul(price.Sub(a.CostBasis))
}

// MarketValue is cash plus the asset marked at price.
func (a Account) MarketValue(price decimal.Decimal) decimal.Decimal {
	return a.CashBalance.Add(a.AssetQuantity.Mul(price))
}

type TradeStats struct {
	TotalTrades int     `json:"totalTrades"`
	BuyCount    int     `json:"buyCount"`
	SellCount   int     `json:"sellCount"`
	WinningSell int     `json:"winningSells"`
	WinRate     float64 `json:"winRate"`
}
