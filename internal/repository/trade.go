package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/trahn-ticker/internal/models"
)

// TradeRepo is the optional write-only trade journal behind
// ledger.TradeJournal. Nothing is read back at startup.
type TradeRepo struct {
	pool *pgxpool.Pool
}

func NewTradeRepo(pool *pgxpool.Pool) *TradeRepo {
	return &TradeRepo{pool: pool}
}

func (r *TradeRepo) Record(ctx context.Context, t models.Trade) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO trade_journal
		 (id, executed_at, trading_day, side, price, quantity, notional, status, realized_pnl)
		 VALUES ($1::uuid, $2, $3::date, $4, $5::text::numeric, $6::text::numeric,
		         $7::text::numeric, $8, $9::text::numeric)`,
		t.ID.String(), t.Timestamp, models.TradingDay(t.Timestamp), string(t.Side),
		t.Price.String(), t.Quantity.String(), t.Notional.String(),
		string(t.Status), t.RealizedPnL.String(),
	)
	if err != nil {
		return fmt.Errorf("record trade %s: %w", t.ID, err)
	}
	return nil
}
