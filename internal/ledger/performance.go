package ledger

import (
	"math"
	"sync"

	"github.com/kjannette/trahn-ticker/internal/models"
	"github.com/shopspring/decimal"
)

// Performance describes the account value history sampled on every quote.
// Drawdowns are positive percentages below the running peak.
type Performance struct {
	Samples            int64
	Peak               decimal.Decimal
	CurrentDrawdownPct float64
	MaxDrawdownPct     float64
	VolatilityPct      float64 // sample std dev of per-sample returns, not annualized
}

type perfTracker struct {
	mu      sync.Mutex
	samples int64
	peak    decimal.Decimal
	last    decimal.Decimal
	curDD   decimal.Decimal
	maxDD   decimal.Decimal

	// running mean/variance of returns (Welford)
	n    int64
	mean float64
	m2   float64
}

func (p *perfTracker) observe(total decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.samples > 0 && p.last.IsPositive() {
		r := total.Sub(p.last).Div(p.last).Mul(hundred).InexactFloat64()
		p.n++
		delta := r - p.mean
		p.mean += delta / float64(p.n)
		p.m2 += delta * (r - p.mean)
	}
	p.samples++
	p.last = total

	if total.GreaterThan(p.peak) {
		p.peak = total
	}
	p.curDD = decimal.Zero
	if p.peak.IsPositive() {
		p.curDD = p.peak.Sub(total).Div(p.peak).Mul(hundred)
	}
	if p.curDD.GreaterThan(p.maxDD) {
		p.maxDD = p.curDD
	}
}

func (p *perfTracker) snapshot() Performance {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := Performance{
		Samples:            p.samples,
		Peak:               p.peak,
		CurrentDrawdownPct: p.curDD.Round(4).InexactFloat64(),
		MaxDrawdownPct:     p.maxDD.Round(4).InexactFloat64(),
	}
	if p.n > 1 {
		out.VolatilityPct = math.Round(math.Sqrt(p.m2/float64(p.n-1))*1e4) / 1e4
	}
	return out
}

// Observe marks the account to q and records the total value. It is meant
// to run as a poller update hook, once per cycle.
func (l *Ledger) Observe(q models.Quote) {
	if !q.Price.IsPositive() {
		return
	}
	l.perf.observe(l.Account().MarketValue(q.Price))
}

func (l *Ledger) Performance() Performance {
	return l.perf.snapshot()
}
