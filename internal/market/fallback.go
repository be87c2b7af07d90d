package market

import (
	"math/rand/v2"
	"sync"
	"time"

	"github.com/kjannette/trahn-ticker/internal/models"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

type FallbackOptions struct {
	Symbol         string
	BasePrice      float64 // anchor when there is no previous quote
	MaxStepPercent float64 // max move per cycle, in percent of the previous price
	Rand           *rand.Rand
	Now            func() time.Time
}

// Fallback synthesizes plausible quotes while the upstream is failing.
type Fallback struct {
	mu      sync.Mutex
	rng     *rand.Rand
	symbol  string
	base    decimal.Decimal
	maxStep float64
	now     func() time.Time
}

func NewFallback(opts FallbackOptions) *Fallback {
	if opts.BasePrice <= 0 {
		opts.BasePrice = 43000
	}
	if opts.MaxStepPercent <= 0 || opts.MaxStepPercent >= 100 {
		opts.MaxStepPercent = 2
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x7472616864))
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Fallback{
		rng:     opts.Rand,
		symbol:  opts.Symbol,
		base:    decimal.NewFromFloat(opts.BasePrice).Round(2),
		maxStep: opts.MaxStepPercent / 100,
		now:     opts.Now,
	}
}

// Synthesize returns a fallback quote. With no previous quote it anchors on
// the base price; otherwise it random-walks from last within ±maxStep.
func (f *Fallback) Synthesize(last *models.Quote) models.Quote {
	if last == nil || !last.Price.IsPositive() {
		return models.Quote{
			Symbol:           f.symbol,
			Price:            f.base,
			Change24h:        decimal.Zero,
			ChangePercent24h: decimal.Zero,
			Volume24h:        decimal.Zero,
			High24h:          f.base,
			Low24h:           f.base,
			ObservedAt:       f.now(),
			Source:           models.SourceFallback,
		}
	}

	f.mu.Lock()
	u := (f.rng.Float64()*2 - 1) * f.maxStep
	f.mu.Unlock()

	prev := last.Price
	step := decimal.NewFromFloat(f.maxStep)
	hi := prev.Mul(decimal.NewFromInt(1).Add(step)).RoundFloor(2)
	lo := prev.Mul(decimal.NewFromInt(1).Sub(step)).RoundCeil(2)

	price := prev.Mul(decimal.NewFromFloat(1 + u)).Round(2)
	if price.GreaterThan(hi) {
		price = hi
	}
	if price.LessThan(lo) {
		price = lo
	}

	change := price.Sub(prev)
	high := decimal.Max(last.High24h, price)
	low := last.Low24h
	if !low.IsPositive() || price.LessThan(low) {
		low = price
	}

	symbol := last.Symbol
	if symbol == "" {
		symbol = f.symbol
	}

	return models.Quote{
		Symbol:           symbol,
		Price:            price,
		Change24h:        change.Round(2),
		ChangePercent24h: change.Div(prev).Mul(hundred).Round(2),
		Volume24h:        last.Volume24h,
		High24h:          high,
		Low24h:           low,
		ObservedAt:       f.now(),
		Source:           models.SourceFallback,
	}
}
