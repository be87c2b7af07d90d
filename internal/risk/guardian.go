package risk

import (
	"context"
	"errors"
	"fmt"

	"github.com/kjannette/trahn-ticker/internal/models"
	"github.com/shopspring/decimal"
)

var (
	ErrPositionSize = errors.New("trade exceeds max position size")
	ErrDailyTrades  = errors.New("daily trade limit reached")
	ErrStopLoss     = errors.New("stop-loss triggered")
	ErrTakeProfit   = errors.New("take-profit triggered")
)

// DailyTradeCounter reports how many trades were executed in the current
// UTC trading day.
type DailyTradeCounter interface {
	CountToday(ctx context.Context) (int, error)
}

// Limits holds the risk thresholds from config.
// A zero value for any field means that check is disabled.
type Limits struct {
	MaxDailyTrades     int
	MaxPositionSizeUSD float64
	StopLossPercent    float64
	TakeProfitPercent  float64
}

type Guardian struct {
	limits  Limits
	maxSize decimal.Decimal
	counter DailyTradeCounter
}

func NewGuardian(limits Limits, counter DailyTradeCounter) *Guardian {
	return &Guardian{
		limits:  limits,
		maxSize: decimal.NewFromFloat(limits.MaxPositionSizeUSD),
		counter: counter,
	}
}

// PreTradeCheck validates a single trade before the ledger applies it.
// Errors wrap ErrPositionSize or ErrDailyTrades.
func (g *Guardian) PreTradeCheck(ctx context.Context, side models.Side, notional decimal.Decimal) error {
	if g.limits.MaxPositionSizeUSD > 0 && notional.GreaterThan(g.maxSize) {
		return fmt.Errorf("%w: %s $%s over limit $%s",
			ErrPositionSize, side, notional.StringFixed(2), g.maxSize.StringFixed(2))
	}

	if g.limits.MaxDailyTrades > 0 && g.counter != nil {
		count, err := g.counter.CountToday(ctx)
		if err != nil {
			return fmt.Errorf("%w: unable to verify daily trade count: %v", ErrDailyTrades, err)
		}
		if count >= g.limits.MaxDailyTrades {
			return fmt.Errorf("%w: %d of %d trades executed today",
				ErrDailyTrades, count, g.limits.MaxDailyTrades)
		}
	}

	return nil
}

// PortfolioCheck evaluates the portfolio stop-loss and take-profit on total
// return. returnPercent is e.g. -8.5 for a portfolio down 8.5%.
func (g *Guardian) PortfolioCheck(returnPercent float64) error {
	if g.limits.StopLossPercent > 0 && returnPercent <= -g.limits.StopLossPercent {
		return fmt.Errorf("%w: portfolio down %.2f%% (threshold -%.2f%%)",
			ErrStopLoss, returnPercent, g.limits.StopLossPercent)
	}

	if g.limits.TakeProfitPercent > 0 && returnPercent >= g.limits.TakeProfitPercent {
		return fmt.Errorf("%w: portfolio up %.2f%% (threshold +%.2f%%)",
			ErrTakeProfit, returnPercent, g.limits.TakeProfitPercent)
	}

	return nil
}
