package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kjannette/trahn-ticker/internal/api"
	"github.com/kjannette/trahn-ticker/internal/config"
	"github.com/kjannette/trahn-ticker/internal/db"
	"github.com/kjannette/trahn-ticker/internal/external"
	"github.com/kjannette/trahn-ticker/internal/ledger"
	"github.com/kjannette/trahn-ticker/internal/market"
	"github.com/kjannette/trahn-ticker/internal/models"
	"github.com/kjannette/trahn-ticker/internal/notifications"
	"github.com/kjannette/trahn-ticker/internal/repository"
	"github.com/kjannette/trahn-ticker/internal/risk"
	"github.com/kjannette/trahn-ticker/internal/signals"
	"github.com/shopspring/decimal"
)

const banner = `
╔══════════════════════════════════════╗
║       TRAHN Ticker Service v0.3      ║
║                                      ║
╚══════════════════════════════════════╝
`

const journalTimeout = 2 * time.Second

func main() {
	fmt.Print(banner)

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	cfg.Print()

	// Database (optional)
	var (
		pool      *pgxpool.Pool
		priceRepo *repository.PriceRepo
		tradeRepo *repository.TradeRepo
	)
	if cfg.DatabaseURL != "" {
		fmt.Println("\n[DB] Connecting to quote/trade journal ...")
		pool, err = db.OpenJournal(context.Background(), cfg.DatabaseURL, db.JournalOptions{
			MaxConns:       int32(cfg.JournalMaxConns),
			ConnectTimeout: cfg.JournalConnectTimeout(),
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "[DB] %v\n", err)
			os.Exit(1)
		}
		priceRepo = repository.NewPriceRepo(pool)
		tradeRepo = repository.NewTradeRepo(pool)
	}

	notify := notifications.NewSender(cfg.WebhookURL, cfg.BotName)

	// Market data
	cache := market.NewQuoteCache()
	fallback := market.NewFallback(market.FallbackOptions{
		Symbol:         cfg.TradingPair,
		BasePrice:      cfg.FallbackBasePrice,
		MaxStepPercent: cfg.FallbackMaxStepPct,
	})
	breaker := market.NewBreaker(cfg.BreakerThreshold, cfg.BreakerReset())
	client := external.NewBinanceClient(external.BinanceOptions{
		BaseURL:       cfg.UpstreamBaseURL,
		Timeout:       cfg.FetchTimeout(),
		RatePerMinute: cfg.UpstreamRatePerMinute,
	})
	poller := market.NewPoller(client, cache, fallback, breaker, notify, market.PollerConfig{
		Pair:         cfg.TradingPair,
		Interval:     cfg.PollInterval(),
		FetchTimeout: cfg.FetchTimeout(),
	})

	hub := api.NewHub(cfg.CORSAllowOrigin)
	poller.OnUpdate(hub.Broadcast)
	if priceRepo != nil {
		poller.OnUpdate(func(q models.Quote) {
			ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
			defer cancel()
			if _, err := priceRepo.Record(ctx, q); err != nil {
				fmt.Printf("[DB] Failed to journal quote: %v\n", err)
			}
		})
	}

	// Paper account
	ledgerOpts := ledger.Options{
		InitialBalance:     decimal.NewFromFloat(cfg.InitialBalance),
		MaxSlippagePercent: cfg.MaxSlippagePercent,
		Limits: risk.Limits{
			MaxDailyTrades:     cfg.MaxDailyTrades,
			MaxPositionSizeUSD: cfg.MaxPositionSizeUSD,
			StopLossPercent:    cfg.StopLossPercent,
			TakeProfitPercent:  cfg.TakeProfitPercent,
		},
		Notify: notify,
	}
	if tradeRepo != nil {
		ledgerOpts.Journal = tradeRepo
	}
	book := ledger.New(cache, ledgerOpts)
	poller.OnUpdate(book.Observe)

	// Graceful shutdown context
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 1. Poller
	poller.Start()

	// 2. API server
	srvOpts := api.Options{
		Port:          cfg.Port,
		CORSOrigin:    cfg.CORSAllowOrigin,
		Quotes:        cache,
		Portfolio:     book,
		Hub:           hub,
		Poller:        poller,
		Notifications: notify,
	}
	if priceRepo != nil {
		srvOpts.Prices = priceRepo
	}
	srv := api.NewServer(srvOpts)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(os.Stderr, "[API] Server error: %v\n", err)
			os.Exit(1)
		}
	}()

	// 3. Signal simulator
	var sim *signals.Simulator
	if cfg.AutoTradingEnabled {
		strategy := signals.NewRandomStrategy(signals.RandomOptions{
			Threshold:     cfg.SignalThreshold,
			TradeFraction: cfg.SignalTradeFraction,
			MinNotional:   cfg.MinTradeAmount,
		})
		sim = signals.NewSimulator(cache, book, strategy, notify, cfg.SignalInterval())
		sim.Start(ctx)
	} else {
		fmt.Println("[SIM] Skipped - auto trading disabled")
	}

	fmt.Println("\nAll services started successfully")

	<-ctx.Done()
	fmt.Println("\nShutting down gracefully...")

	if sim != nil {
		sim.Stop()
	}
	poller.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "[API] Shutdown error: %v\n", err)
	}
	fmt.Println("[API] Server closed")

	if err := notify.Close(shutdownCtx); err != nil {
		fmt.Fprintf(os.Stderr, "[CHAT] %v\n", err)
	}

	if pool != nil {
		pool.Close()
		fmt.Println("[DB] Connection pool closed")
	}
	fmt.Println("Shutdown complete")
}

