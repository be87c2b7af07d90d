package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// The journal is write-only from the service's point of view: nothing is
// read back into the ledger or the cache at startup.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS quote_history (
		id             BIGSERIAL PRIMARY KEY,
		observed_at    TIMESTAMPTZ NOT NULL,
		symbol         TEXT NOT NULL,
		price          NUMERIC(20, 2) NOT NULL,
		price_change   NUMERIC(20, 2) NOT NULL,
		change_percent NUMERIC(10, 2) NOT NULL,
		source         TEXT NOT NULL,
		trading_day    DATE NOT NULL,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS quote_history_observed_at_idx ON quote_history (observed_at DESC)`,
	`CREATE TABLE IF NOT EXISTS trade_journal (
		id           UUID PRIMARY KEY,
		executed_at  TIMESTAMPTZ NOT NULL,
		trading_day  DATE NOT NULL,
		side         TEXT NOT NULL CHECK (side IN ('BUY', 'SELL')),
		price        NUMERIC(20, 2) NOT NULL,
		quantity     NUMERIC(30, 12) NOT NULL,
		notional     NUMERIC(30, 12) NOT NULL,
		status       TEXT NOT NULL,
		realized_pnl NUMERIC(30, 12) NOT NULL DEFAULT 0,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS trade_journal_trading_day_idx ON trade_journal (trading_day)`,
}

// EnsureSchema creates the journal tables if they do not exist.
func EnsureSchema(ctx context.Context, p *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := p.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
