package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/trahn-ticker/internal/models"
)

const priceColumns = `id, observed_at, symbol, price::text, price_change::text,
	change_percent::text, source, trading_day, created_at`

// PriceRepo journals every quote written to the cache.
type PriceRepo struct {
	pool *pgxpool.Pool
}

func NewPriceRepo(pool *pgxpool.Pool) *PriceRepo {
	return &PriceRepo{pool: pool}
}

func (r *PriceRepo) Record(ctx context.Context, q models.Quote) (*models.PricePoint, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO quote_history
		 (observed_at, symbol, price, price_change, change_percent, source, trading_day)
		 VALUES ($1, $2, $3::text::numeric, $4::text::numeric, $5::text::numeric, $6, $7::date)
		 RETURNING `+priceColumns,
		q.ObservedAt, q.Symbol,
		q.Price.StringFixed(2), q.Change24h.StringFixed(2), q.ChangePercent24h.StringFixed(2),
		string(q.Source), models.TradingDay(q.ObservedAt),
	)
	return scanPrice(row)
}

// GetRecent returns the newest limit quotes, oldest first.
func (r *PriceRepo) GetRecent(ctx context.Context, limit int) ([]models.PricePoint, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT * FROM (
			SELECT `+priceColumns+` FROM quote_history ORDER BY observed_at DESC LIMIT $1
		 ) recent ORDER BY observed_at ASC`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPrices(rows)
}

// --- scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

type rowsIter interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func scanPrice(row scannable) (*models.PricePoint, error) {
	var p models.PricePoint
	var td time.Time
	err := row.Scan(&p.ID, &p.ObservedAt, &p.Symbol, &p.Price, &p.Change, &p.ChangePct,
		&p.Source, &td, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.TradingDay = td.Format("2006-01-02")
	return &p, nil
}

func collectPrices(rows rowsIter) ([]models.PricePoint, error) {
	out := []models.PricePoint{}
	for rows.Next() {
		p, err := scanPrice(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}
