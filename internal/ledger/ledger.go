package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kjannette/trahn-ticker/internal/models"
	"github.com/kjannette/trahn-ticker/internal/risk"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidQuantity   = errors.New("quantity must be greater than zero")
	ErrInvalidSide       = errors.New("side must be BUY or SELL")
	ErrInvalidPriceHint  = errors.New("price hint must be greater than zero")
	ErrQuoteUnavailable  = errors.New("market data not yet available")
	ErrPriceMoved        = errors.New("price moved beyond slippage tolerance")
	ErrRiskLimit         = errors.New("trade blocked by risk limits")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInsufficientAsset = errors.New("insufficient asset")
)

var hundred = decimal.NewFromInt(100)

// QuoteSource is satisfied by market.QuoteCache.
type QuoteSource interface {
	Read() (models.Quote, bool)
}

// TradeJournal receives every executed trade after it is committed.
type TradeJournal interface {
	Record(ctx context.Context, t models.Trade) error
}

type Notifier interface {
	Send(msg string)
}

type Options struct {
	InitialBalance     decimal.Decimal
	MaxSlippagePercent float64 // 0 disables the price hint check
	Limits             risk.Limits
	Journal            TradeJournal
	Notify             Notifier
	Now                func() time.Time
}

// Ledger owns the paper account and the trade history. All mutations go
// through ApplyTrade and are serialized on mu.
type Ledger struct {
	quotes   QuoteSource
	guardian *risk.Guardian
	journal  TradeJournal
	notify   Notifier
	now      func() time.Time

	initial     decimal.Decimal
	maxSlippage decimal.Decimal

	mu      sync.Mutex
	account models.Account
	trades  []models.Trade

	dayMu    sync.Mutex
	day      string
	dayCount int

	perf perfTracker
}

func New(quotes QuoteSource, opts Options) *Ledger {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	l := &Ledger{
		quotes:      quotes,
		journal:     opts.Journal,
		notify:      opts.Notify,
		now:         opts.Now,
		initial:     opts.InitialBalance,
		maxSlippage: decimal.NewFromFloat(opts.MaxSlippagePercent),
		account: models.Account{
			CashBalance:   opts.InitialBalance,
			AssetQuantity: decimal.Zero,
			RealizedPnL:   decimal.Zero,
			CostBasis:     decimal.Zero,
		},
	}
	l.guardian = risk.NewGuardian(opts.Limits, l)
	return l
}

// ApplyTrade executes side/quantity at the current cached price. It either
// commits the trade and the account update together or changes nothing.
func (l *Ledger) ApplyTrade(ctx context.Context, side models.Side, quantity decimal.Decimal, priceHint *decimal.Decimal) (models.Trade, error) {
	if !quantity.IsPositive() {
		return models.Trade{}, fmt.Errorf("%w: got %s", ErrInvalidQuantity, quantity)
	}
	if side != models.SideBuy && side != models.SideSell {
		return models.Trade{}, fmt.Errorf("%w: got %q", ErrInvalidSide, side)
	}
	if priceHint != nil && !priceHint.IsPositive() {
		return models.Trade{}, fmt.Errorf("%w: got %s", ErrInvalidPriceHint, priceHint)
	}

	q, ok := l.quotes.Read()
	if !ok {
		return models.Trade{}, ErrQuoteUnavailable
	}
	price := q.Price

	if priceHint != nil && l.maxSlippage.IsPositive() {
		dev := price.Sub(*priceHint).Abs().Div(*priceHint).Mul(hundred)
		if dev.GreaterThan(l.maxSlippage) {
			return models.Trade{}, fmt.Errorf("%w: quote $%s vs hint $%s (%s%% > %s%%)",
				ErrPriceMoved, price.StringFixed(2), priceHint.StringFixed(2), dev.StringFixed(2), l.maxSlippage)
		}
	}

	notional := price.Mul(quantity)

	l.mu.Lock()
	if err := l.guardian.PreTradeCheck(ctx, side, notional); err != nil {
		l.mu.Unlock()
		return models.Trade{}, fmt.Errorf("%w: %w", ErrRiskLimit, err)
	}

	acct := l.account
	realized := decimal.Zero

	switch side {
	case models.SideBuy:
		if notional.GreaterThan(acct.CashBalance) {
			l.mu.Unlock()
			return models.Trade{}, fmt.Errorf("%w: need $%s, have $%s",
				ErrInsufficientFunds, notional.StringFixed(2), acct.CashBalance.StringFixed(2))
		}
		newQty := acct.AssetQuantity.Add(quantity)
		acct.CostBasis = acct.CostBasis.Mul(acct.AssetQuantity).Add(notional).Div(newQty)
		acct.CashBalance = acct.CashBalance.Sub(notional)
		acct.AssetQuantity = newQty

	case models.SideSell:
		if quantity.GreaterThan(acct.AssetQuantity) {
			l.mu.Unlock()
			return models.Trade{}, fmt.Errorf("%w: need %s, have %s",
				ErrInsufficientAsset, quantity, acct.AssetQuantity)
		}
		realized = price.Sub(acct.CostBasis).Mul(quantity)
		acct.CashBalance = acct.CashBalance.Add(notional)
		acct.AssetQuantity = acct.AssetQuantity.Sub(quantity)
		acct.RealizedPnL = acct.RealizedPnL.Add(realized)
	}

	trade := models.Trade{
		ID:          uuid.New(),
		Timestamp:   l.now(),
		Side:        side,
		Price:       price,
		Quantity:    quantity,
		Notional:    notional,
		Status:      models.StatusExecuted,
		RealizedPnL: realized,
	}
	l.account = acct
	l.trades = append(l.trades, trade)
	// Counted under mu so the next PreTradeCheck sees this trade.
	l.countTrade(trade.Timestamp)
	l.mu.Unlock()

	l.afterCommit(ctx, trade, q.Source)
	return trade, nil
}

func (l *Ledger) afterCommit(ctx context.Context, t models.Trade, src models.Provenance) {
	fmt.Printf("[LEDGER] %s %s @ $%s = $%s (source=%s)\n",
		t.Side, t.Quantity, t.Price.StringFixed(2), t.Notional.StringFixed(2), src)

	if l.journal != nil {
		if err := l.journal.Record(ctx, t); err != nil {
			fmt.Printf("[LEDGER] Failed to journal trade %s: %v\n", t.ID, err)
		}
	}
	if l.notify != nil {
		msg := fmt.Sprintf("[PAPER] %s %s @ $%s ($%s)", t.Side, t.Quantity, t.Price.StringFixed(2), t.Notional.StringFixed(2))
		if t.Side == models.SideSell {
			msg += fmt.Sprintf(" | realized P&L $%s", t.RealizedPnL.StringFixed(2))
		}
		l.notify.Send(msg)
	}
}

// countTrade tracks executions per UTC trading day for the guardian. Callers
// hold mu.
func (l *Ledger) countTrade(ts time.Time) {
	day := models.TradingDay(ts)
	l.dayMu.Lock()
	defer l.dayMu.Unlock()
	if l.day != day {
		l.day = day
		l.dayCount = 0
	}
	l.dayCount++
}

// CountToday implements risk.DailyTradeCounter.
func (l *Ledger) CountToday(_ context.Context) (int, error) {
	today := models.TradingDay(l.now())
	l.dayMu.Lock()
	defer l.dayMu.Unlock()
	if l.day != today {
		return 0, nil
	}
	return l.dayCount, nil
}

func (l *Ledger) Guardian() *risk.Guardian {
	return l.guardian
}

func (l *Ledger) Account() models.Account {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.account
}

// Trades returns up to limit of the most recent trades, oldest first.
// limit <= 0 returns all of them.
func (l *Ledger) Trades(limit int) []models.Trade {
	l.mu.Lock()
	defer l.mu.Unlock()
	start := 0
	if limit > 0 && len(l.trades) > limit {
		start = len(l.trades) - limit
	}
	out := make([]models.Trade, len(l.trades)-start)
	copy(out, l.trades[start:])
	return out
}

type Valuation struct {
	Available     bool
	Price         decimal.Decimal
	Source        models.Provenance
	ObservedAt    time.Time
	Account       models.Account
	MarketValue   decimal.Decimal
	TotalValue    decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// Valuate marks the account to the latest quote. Available is false until
// the first quote arrives.
func (l *Ledger) Valuate() Valuation {
	acct := l.Account()
	q, ok := l.quotes.Read()
	if !ok {
		return Valuation{Account: acct}
	}
	return Valuation{
		Available:     true,
		Price:         q.Price,
		Source:        q.Source,
		ObservedAt:    q.ObservedAt,
		Account:       acct,
		MarketValue:   acct.AssetQuantity.Mul(q.Price),
		TotalValue:    acct.MarketValue(q.Price),
		UnrealizedPnL: acct.UnrealizedPnL(q.Price),
	}
}

type Summary struct {
	Valuation
	InitialBalance decimal.Decimal
	TotalPnL       decimal.Decimal
	ReturnPercent  float64
	Stats          models.TradeStats
	Performance    Performance
}

// Summary combines the valuation with trade statistics. TotalPnL and
// ReturnPercent stay zero while no quote is available.
func (l *Ledger) Summary() Summary {
	v := l.Valuate()
	s := Summary{
		Valuation:      v,
		InitialBalance: l.initial,
		Stats:          l.stats(),
		Performance:    l.perf.snapshot(),
	}
	if v.Available {
		s.TotalPnL = v.TotalValue.Sub(l.initial)
		if l.initial.IsPositive() {
			s.ReturnPercent = s.TotalPnL.Div(l.initial).Mul(hundred).Round(4).InexactFloat64()
		}
	}
	return s
}

func (l *Ledger) stats() models.TradeStats {
	l.mu.Lock()
	defer l.mu.Unlock()
	var st models.TradeStats
	for _, t := range l.trades {
		st.TotalTrades++
		if t.Side == models.SideBuy {
			st.BuyCount++
			continue
		}
		st.SellCount++
		if t.RealizedPnL.IsPositive() {
			st.WinningSell++
		}
	}
	if st.SellCount > 0 {
		st.WinRate = float64(st.WinningSell) / float64(st.SellCount) * 100
	}
	return st
}
