package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kjannette/trahn-ticker/internal/models"
	"github.com/kjannette/trahn-ticker/internal/risk"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubQuotes is a settable QuoteSource.
type stubQuotes struct {
	mu  sync.Mutex
	q   models.Quote
	set bool
}

func (s *stubQuotes) Read() (models.Quote, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q, s.set
}

func (s *stubQuotes) setPrice(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.q = models.Quote{Symbol: "BTCUSDT", Price: d(p), ObservedAt: time.Now(), Source: models.SourceUpstream}
	s.set = true
}

type memJournal struct {
	mu     sync.Mutex
	trades []models.Trade
	err    error
}

func (j *memJournal) Record(_ context.Context, t models.Trade) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.trades = append(j.trades, t)
	return j.err
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func ptr(v decimal.Decimal) *decimal.Decimal {
	return &v
}

func newLedger(quotes *stubQuotes, opts Options) *Ledger {
	if opts.InitialBalance.IsZero() {
		opts.InitialBalance = d("10000")
	}
	return New(quotes, opts)
}

func assertDec(t *testing.T, want string, got decimal.Decimal, field string) {
	t.Helper()
	assert.True(t, d(want).Equal(got), "%s: want %s, got %s", field, want, got)
}

func TestScenario_BuyThenSell(t *testing.T) {
	quotes := &stubQuotes{}
	l := newLedger(quotes, Options{})

	quotes.setPrice("43000")
	buy, err := l.ApplyTrade(context.Background(), models.SideBuy, d("0.1"), nil)
	require.NoError(t, err)
	assert.Equal(t, models.StatusExecuted, buy.Status)
	assertDec(t, "4300", buy.Notional, "buy notional")

	acct := l.Account()
	assertDec(t, "5700", acct.CashBalance, "cash after buy")
	assertDec(t, "0.1", acct.AssetQuantity, "asset after buy")
	assertDec(t, "43000", acct.CostBasis, "cost basis after buy")

	quotes.setPrice("45000")
	sell, err := l.ApplyTrade(context.Background(), models.SideSell, d("0.05"), nil)
	require.NoError(t, err)
	assertDec(t, "100", sell.RealizedPnL, "trade realized pnl")

	acct = l.Account()
	assertDec(t, "7950", acct.CashBalance, "cash after sell")
	assertDec(t, "0.05", acct.AssetQuantity, "asset after sell")
	assertDec(t, "100", acct.RealizedPnL, "realized pnl")
	assertDec(t, "43000", acct.CostBasis, "cost basis unchanged by sell")

	trades := l.Trades(0)
	require.Len(t, trades, 2)
	assert.Equal(t, models.SideBuy, trades[0].Side)
	assert.Equal(t, models.SideSell, trades[1].Side)
}

func TestBuy_WeightedCostBasis(t *testing.T) {
	quotes := &stubQuotes{}
	l := newLedger(quotes, Options{})

	quotes.setPrice("40000")
	_, err := l.ApplyTrade(context.Background(), models.SideBuy, d("0.1"), nil)
	require.NoError(t, err)

	quotes.setPrice("46000")
	_, err = l.ApplyTrade(context.Background(), models.SideBuy, d("0.1"), nil)
	require.NoError(t, err)

	acct := l.Account()
	assertDec(t, "43000", acct.CostBasis, "weighted cost basis")
	assertDec(t, "0.2", acct.AssetQuantity, "asset")
	assertDec(t, "1400", acct.CashBalance, "cash")
}

func TestSell_InsufficientAssetLeavesStateUnchanged(t *testing.T) {
	quotes := &stubQuotes{}
	l := newLedger(quotes, Options{})
	quotes.setPrice("43000")
	_, err := l.ApplyTrade(context.Background(), models.SideBuy, d("0.05"), nil)
	require.NoError(t, err)

	before := l.Account()
	_, err = l.ApplyTrade(context.Background(), models.SideSell, d("0.06"), nil)
	require.ErrorIs(t, err, ErrInsufficientAsset)

	assert.Equal(t, before, l.Account())
	assert.Len(t, l.Trades(0), 1, "rejected sell must not append a trade")
}

func TestBuy_InsufficientFunds(t *testing.T) {
	quotes := &stubQuotes{}
	l := newLedger(quotes, Options{})
	quotes.setPrice("43000")

	_, err := l.ApplyTrade(context.Background(), models.SideBuy, d("1"), nil)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assertDec(t, "10000", l.Account().CashBalance, "cash")
	assert.Empty(t, l.Trades(0))
}

func TestApplyTrade_Validation(t *testing.T) {
	quotes := &stubQuotes{}
	l := newLedger(quotes, Options{})

	_, err := l.ApplyTrade(context.Background(), models.SideBuy, d("0.1"), nil)
	assert.ErrorIs(t, err, ErrQuoteUnavailable, "no quote yet")

	quotes.setPrice("43000")
	_, err = l.ApplyTrade(context.Background(), models.SideBuy, d("0"), nil)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = l.ApplyTrade(context.Background(), models.SideSell, d("-1"), nil)
	assert.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = l.ApplyTrade(context.Background(), models.Side("HOLD"), d("1"), nil)
	assert.ErrorIs(t, err, ErrInvalidSide)
	_, err = l.ApplyTrade(context.Background(), models.SideBuy, d("0.1"), ptr(d("0")))
	assert.ErrorIs(t, err, ErrInvalidPriceHint)

	assert.Empty(t, l.Trades(0))
}

func TestApplyTrade_PriceHint(t *testing.T) {
	quotes := &stubQuotes{}
	l := newLedger(quotes, Options{MaxSlippagePercent: 1})
	quotes.setPrice("43000")

	_, err := l.ApplyTrade(context.Background(), models.SideBuy, d("0.01"), ptr(d("40000")))
	require.ErrorIs(t, err, ErrPriceMoved)

	tr, err := l.ApplyTrade(context.Background(), models.SideBuy, d("0.01"), ptr(d("42800")))
	require.NoError(t, err)
	assertDec(t, "43000", tr.Price, "execution price is always the quote")
}

func TestApplyTrade_RiskLimits(t *testing.T) {
	quotes := &stubQuotes{}
	l := newLedger(quotes, Options{Limits: risk.Limits{MaxPositionSizeUSD: 1000, MaxDailyTrades: 2}})
	quotes.setPrice("43000")

	_, err := l.ApplyTrade(context.Background(), models.SideBuy, d("0.1"), nil)
	require.ErrorIs(t, err, ErrRiskLimit)
	assert.ErrorIs(t, err, risk.ErrPositionSize)

	for i := 0; i < 2; i++ {
		_, err = l.ApplyTrade(context.Background(), models.SideBuy, d("0.01"), nil)
		require.NoError(t, err)
	}
	n, _ := l.CountToday(context.Background())
	assert.Equal(t, 2, n)

	_, err = l.ApplyTrade(context.Background(), models.SideBuy, d("0.01"), nil)
	require.ErrorIs(t, err, ErrRiskLimit)
	assert.ErrorIs(t, err, risk.ErrDailyTrades)
}

func TestCountToday_RollsOver(t *testing.T) {
	now := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	quotes := &stubQuotes{}
	l := newLedger(quotes, Options{Now: func() time.Time { return now }})
	quotes.setPrice("100")

	_, err := l.ApplyTrade(context.Background(), models.SideBuy, d("1"), nil)
	require.NoError(t, err)
	n, _ := l.CountToday(context.Background())
	assert.Equal(t, 1, n)

	now = now.Add(2 * time.Minute)
	n, _ = l.CountToday(context.Background())
	assert.Equal(t, 0, n, "counter resets at 00:00 UTC")
}

func TestValuate(t *testing.T) {
	quotes := &stubQuotes{}
	l := newLedger(quotes, Options{})

	v := l.Valuate()
	assert.False(t, v.Available, "no quote yet is not an error")

	quotes.setPrice("43000")
	_, err := l.ApplyTrade(context.Background(), models.SideBuy, d("0.1"), nil)
	require.NoError(t, err)

	v = l.Valuate()
	require.True(t, v.Available)
	assert.True(t, v.UnrealizedPnL.IsZero(), "unrealized is zero right after the first buy")
	assertDec(t, "10000", v.TotalValue, "total value")

	quotes.setPrice("44000")
	v = l.Valuate()
	assertDec(t, "100", v.UnrealizedPnL, "unrealized after move")
	assertDec(t, "10100", v.TotalValue, "total value after move")
}

func TestSummary(t *testing.T) {
	quotes := &stubQuotes{}
	l := newLedger(quotes, Options{})
	ctx := context.Background()

	quotes.setPrice("43000")
	_, err := l.ApplyTrade(ctx, models.SideBuy, d("0.1"), nil)
	require.NoError(t, err)
	quotes.setPrice("45000")
	_, err = l.ApplyTrade(ctx, models.SideSell, d("0.05"), nil)
	require.NoError(t, err)
	quotes.setPrice("42000")
	_, err = l.ApplyTrade(ctx, models.SideSell, d("0.05"), nil)
	require.NoError(t, err)

	s := l.Summary()
	assert.Equal(t, 3, s.Stats.TotalTrades)
	assert.Equal(t, 1, s.Stats.BuyCount)
	assert.Equal(t, 2, s.Stats.SellCount)
	assert.Equal(t, 1, s.Stats.WinningSell)
	assert.InDelta(t, 50.0, s.Stats.WinRate, 1e-9)
	// 100 on the first sell, -50 on the second
	assertDec(t, "50", s.Account.RealizedPnL, "realized")
	assertDec(t, "50", s.TotalPnL, "total pnl")
	assert.InDelta(t, 0.5, s.ReturnPercent, 1e-9)
}

func TestApplyTrade_JournalAndNotifyAfterCommit(t *testing.T) {
	quotes := &stubQuotes{}
	journal := &memJournal{err: errors.New("db down")}
	l := newLedger(quotes, Options{Journal: journal})
	quotes.setPrice("43000")

	tr, err := l.ApplyTrade(context.Background(), models.SideBuy, d("0.1"), nil)
	require.NoError(t, err, "journal failure is logged, not returned")
	require.Len(t, journal.trades, 1)
	assert.Equal(t, tr.ID, journal.trades[0].ID)
}

func TestApplyTrade_ConcurrentTradesStayConsistent(t *testing.T) {
	quotes := &stubQuotes{}
	l := newLedger(quotes, Options{})
	quotes.setPrice("100")

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = l.ApplyTrade(context.Background(), models.SideBuy, d("1"), nil)
		}()
	}
	wg.Wait()

	acct := l.Account()
	assertDec(t, "0", acct.CashBalance, "cash")
	assertDec(t, "100", acct.AssetQuantity, "asset")
	assert.Len(t, l.Trades(0), 100, "only affordable buys succeed")
	assert.False(t, acct.CashBalance.IsNegative())
}

func TestTrades_LimitReturnsMostRecent(t *testing.T) {
	quotes := &stubQuotes{}
	l := newLedger(quotes, Options{})
	quotes.setPrice("10")
	for i := 1; i <= 5; i++ {
		_, err := l.ApplyTrade(context.Background(), models.SideBuy, decimal.NewFromInt(int64(i)), nil)
		require.NoError(t, err)
	}

	got := l.Trades(2)
	require.Len(t, got, 2)
	assertDec(t, "4", got[0].Quantity, "first of last two")
	assertDec(t, "5", got[1].Quantity, "last")

	got[0].Quantity = d("999")
	assertDec(t, "4", l.Trades(2)[0].Quantity, "callers get copies")
}

func TestApplyTrade_DailyCapHoldsUnderConcurrency(t *testing.T) {
	for round := 0; round < 50; round++ {
		quotes := &stubQuotes{}
		quotes.setPrice("100")
		l := newLedger(quotes, Options{Limits: risk.Limits{MaxDailyTrades: 5}})

		var wg sync.WaitGroup
		start := make(chan struct{})
		for i := 0; i < 64; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				_, _ = l.ApplyTrade(context.Background(), models.SideBuy, d("0.01"), nil)
			}()
		}
		close(start)
		wg.Wait()

		require.Len(t, l.Trades(0), 5, "round %d", round)
		n, err := l.CountToday(context.Background())
		require.NoError(t, err)
		require.Equal(t, 5, n)
	}
}

func TestObserve_TracksDrawdown(t *testing.T) {
	quotes := &stubQuotes{}
	l := newLedger(quotes, Options{})

	quotes.setPrice("43000")
	_, err := l.ApplyTrade(context.Background(), models.SideBuy, d("0.2"), nil)
	require.NoError(t, err)

	// cash 1400 + 0.2 BTC: totals 10000, 10400, 9400, 10200
	for _, p := range []string{"43000", "45000", "40000", "44000"} {
		quotes.setPrice(p)
		q, _ := quotes.Read()
		l.Observe(q)
	}

	perf := l.Performance()
	assert.Equal(t, int64(4), perf.Samples)
	assertDec(t, "10400", perf.Peak, "peak")
	assert.InDelta(t, 9.6154, perf.MaxDrawdownPct, 1e-9)
	assert.InDelta(t, 1.9231, perf.CurrentDrawdownPct, 1e-9)
	assert.InDelta(t, 9.4364, perf.VolatilityPct, 1e-3)

	sum := l.Summary()
	assert.Equal(t, perf, sum.Performance)
}

func TestObserve_NewPeakResetsCurrentDrawdown(t *testing.T) {
	quotes := &stubQuotes{}
	l := newLedger(quotes, Options{})
	quotes.setPrice("43000")
	_, err := l.ApplyTrade(context.Background(), models.SideBuy, d("0.2"), nil)
	require.NoError(t, err)

	for _, p := range []string{"43000", "40000", "50000"} {
		quotes.setPrice(p)
		q, _ := quotes.Read()
		l.Observe(q)
	}

	perf := l.Performance()
	assertDec(t, "11400", perf.Peak, "peak")
	assert.Zero(t, perf.CurrentDrawdownPct)
	assert.InDelta(t, 6.0, perf.MaxDrawdownPct, 1e-9)
}

func TestPerformance_EmptyBeforeFirstQuote(t *testing.T) {
	l := newLedger(&stubQuotes{}, Options{})
	perf := l.Performance()
	assert.Zero(t, perf.Samples)
	assert.Zero(t, perf.MaxDrawdownPct)
	assert.Zero(t, perf.VolatilityPct)
}
