package signals

import (
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/kjannette/trahn-ticker/internal/models"
	"github.com/shopspring/decimal"
)

// Intent is a proposed trade. It carries no price: the ledger always
// executes at the cached quote.
type Intent struct {
	Side     models.Side
	Quantity decimal.Decimal
	Reason   string
}

// Strategy proposes at most one intent per evaluation.
type Strategy interface {
	Name() string
	ProposeIntent(q models.Quote, acct models.Account) (Intent, bool)
}

type RandomOptions struct {
	Threshold     float64 // probability of proposing anything, split evenly between BUY and SELL
	TradeFraction float64 // share of cash (BUY) or asset (SELL) per trade
	MinNotional   float64 // proposals below this USD value are dropped
	Rand          *rand.Rand
}

// RandomStrategy stands in for a real signal source.
type RandomStrategy struct {
	mu   sync.Mutex
	rng  *rand.Rand
	opts RandomOptions

	fraction    decimal.Decimal
	minNotional decimal.Decimal
}

func NewRandomStrategy(opts RandomOptions) *RandomStrategy {
	if opts.Threshold <= 0 || opts.Threshold > 1 {
		opts.Threshold = 0.2
	}
	if opts.TradeFraction <= 0 || opts.TradeFraction > 1 {
		opts.TradeFraction = 0.1
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x7369676e))
	}
	return &RandomStrategy{
		rng:         opts.Rand,
		opts:        opts,
		fraction:    decimal.NewFromFloat(opts.TradeFraction),
		minNotional: decimal.NewFromFloat(opts.MinNotional),
	}
}

func (s *RandomStrategy) Name() string {
	return "random"
}

func (s *RandomStrategy) ProposeIntent(q models.Quote, acct models.Account) (Intent, bool) {
	if !q.Price.IsPositive() {
		return Intent{}, false
	}

	s.mu.Lock()
	r := s.rng.Float64()
	s.mu.Unlock()

	half := s.opts.Threshold / 2
	var in Intent
	switch {
	case r < half:
		budget := acct.CashBalance.Mul(s.fraction)
		in = Intent{
			Side:     models.SideBuy,
			Quantity: budget.Div(q.Price).RoundFloor(6),
			Reason:   fmt.Sprintf("random draw %.3f < %.3f", r, half),
		}
	case r > 1-half:
		in = Intent{
			Side:     models.SideSell,
			Quantity: acct.AssetQuantity.Mul(s.fraction).RoundFloor(6),
			Reason:   fmt.Sprintf("random draw %.3f > %.3f", r, 1-half),
		}
	default:
		return Intent{}, false
	}

	if !in.Quantity.IsPositive() {
		return Intent{}, false
	}
	if in.Quantity.Mul(q.Price).LessThan(s.minNotional) {
		return Intent{}, false
	}
	return in, true
}
