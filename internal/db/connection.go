package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// JournalOptions sizes the pool behind the quote/trade journal.
type JournalOptions struct {
	MaxConns       int32
	ConnectTimeout time.Duration
}

func (o JournalOptions) withDefaults() JournalOptions {
	if o.MaxConns <= 0 {
		o.MaxConns = 5
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 5 * time.Second
	}
	return o
}

// Connect opens a small pool for the journal. ConnectTimeout bounds both the
// dial of each connection and the initial ping.
func Connect(dsn string, opts JournalOptions) (*pgxpool.Pool, error) {
	opts = opts.withDefaults()

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}

	// Writes are one row per poll cycle or trade.
	cfg.MaxConns = opts.MaxConns
	cfg.MinConns = 1
	cfg.MaxConnIdleTime = 30 * time.Second
	cfg.MaxConnLifetime = 5 * time.Minute
	cfg.ConnConfig.ConnectTimeout = opts.ConnectTimeout
	cfg.ConnConfig.RuntimeParams["application_name"] = "trahn-ticker-journal"

	ctx, cancel := context.WithTimeout(context.Background(), opts.ConnectTimeout)
	defer cancel()

	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	return p, nil
}

// OpenJournal connects, logs the server it reached and makes sure the journal
// tables exist. The pool is closed on any failure.
func OpenJournal(ctx context.Context, dsn string, opts JournalOptions) (*pgxpool.Pool, error) {
	p, err := Connect(dsn, opts)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := verifyServer(ctx, p); err != nil {
		p.Close()
		return nil, err
	}
	if err := EnsureSchema(ctx, p); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func verifyServer(ctx context.Context, p *pgxpool.Pool) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var now time.Time
	var version string
	err := p.QueryRow(ctx, "SELECT NOW(), current_setting('server_version')").Scan(&now, &version)
	if err != nil {
		return fmt.Errorf("test query: %w", err)
	}
	fmt.Printf("[DB] Journal connected (postgres %s) at %s\n", version, now.Format(time.RFC3339))
	return nil
}
