package signals

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/kjannette/trahn-ticker/internal/ledger"
	"github.com/kjannette/trahn-ticker/internal/models"
	"github.com/kjannette/trahn-ticker/internal/risk"
	"github.com/shopspring/decimal"
)

type QuoteSource interface {
	Read() (models.Quote, bool)
}

// Book is the slice of ledger.Ledger the simulator needs.
type Book interface {
	ApplyTrade(ctx context.Context, side models.Side, quantity decimal.Decimal, priceHint *decimal.Decimal) (models.Trade, error)
	Account() models.Account
	Summary() ledger.Summary
	Guardian() *risk.Guardian
}

type Notifier interface {
	Send(msg string)
}

// Simulator periodically asks a Strategy for an intent and submits it to the
// ledger like any other caller.
type Simulator struct {
	quotes   QuoteSource
	book     Book
	strategy Strategy
	notify   Notifier
	interval time.Duration

	mu      sync.Mutex
	running bool
	halted  bool
	stopCh  chan struct{}
	done    chan struct{}
	cancel  context.CancelFunc
}

func NewSimulator(quotes QuoteSource, book Book, strategy Strategy, notify Notifier, interval time.Duration) *Simulator {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Simulator{
		quotes:   quotes,
		book:     book,
		strategy: strategy,
		notify:   notify,
		interval: interval,
	}
}

func (s *Simulator) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		fmt.Println("[SIM] Already running")
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.running = true
	s.halted = false
	s.stopCh = make(chan struct{})
	s.done = make(chan struct{})
	s.cancel = cancel
	stopCh, done := s.stopCh, s.done
	s.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-stopCh:
				return
			case <-ctx.Done():
				s.finish(done)
				return
			case <-ticker.C:
				if !s.Step(ctx) {
					s.finish(done)
					return
				}
			}
		}
	}()

	fmt.Printf("[SIM] Started %s strategy (every %s)\n", s.strategy.Name(), s.interval)
}

func (s *Simulator) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.cancel()
	s.running = false
	done := s.done
	s.mu.Unlock()

	<-done
	fmt.Println("[SIM] Stopped")
}

// finish marks the run that owns done as over when its loop exits without
// Stop, so a halted simulator can be started again.
func (s *Simulator) finish(done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running && s.done == done {
		s.running = false
		s.cancel()
	}
}

func (s *Simulator) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running && !s.halted
}

// Step runs one evaluation. It returns false once the portfolio breaker has
// tripped and the simulator should stop proposing trades.
func (s *Simulator) Step(ctx context.Context) bool {
	q, ok := s.quotes.Read()
	if !ok {
		return true
	}

	if g := s.book.Guardian(); g != nil {
		sum := s.book.Summary()
		if sum.Available {
			if err := g.PortfolioCheck(sum.ReturnPercent); err != nil {
				s.halt(err)
				return false
			}
		}
	}

	in, ok := s.strategy.ProposeIntent(q, s.book.Account())
	if !ok {
		return true
	}

	hint := q.Price
	t, err := s.book.ApplyTrade(ctx, in.Side, in.Quantity, &hint)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false
		}
		fmt.Printf("[SIM] %s %s rejected: %v\n", in.Side, in.Quantity, err)
		return true
	}
	fmt.Printf("[SIM] %s %s @ $%s (%s)\n", t.Side, t.Quantity, t.Price.StringFixed(2), in.Reason)
	return true
}

func (s *Simulator) halt(err error) {
	s.mu.Lock()
	s.halted = true
	s.mu.Unlock()
	fmt.Printf("[SIM] Halted: %v\n", err)
	if s.notify != nil {
		s.notify.Send(fmt.Sprintf("CIRCUIT BREAKER: %v, halting simulated trading", err))
	}
}
