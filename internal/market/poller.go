package market

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kjannette/trahn-ticker/internal/models"
)

// QuoteFetcher is satisfied by external.BinanceClient.
type QuoteFetcher interface {
	FetchQuote(ctx context.Context, pair string) (models.Quote, error)
}

type Notifier interface {
	Send(msg string)
}

// UpdateHook runs after every cache write, on the polling goroutine.
type UpdateHook func(q models.Quote)

type PollerConfig struct {
	Pair         string
	Interval     time.Duration
	FetchTimeout time.Duration
}

type PollStats struct {
	Cycles    int64 `json:"cycles"`
	Skipped   int64 `json:"skipped"`
	Fallbacks int64 `json:"fallbacks"`
}

// Poller refreshes the QuoteCache on a fixed interval. At most one poll is in
// flight; ticks that land while a poll is running are dropped.
type Poller struct {
	fetcher  QuoteFetcher
	cache    *QuoteCache
	fallback *Fallback
	breaker  *Breaker
	notify   Notifier
	cfg      PollerConfig
	hooks    []UpdateHook

	inFlight   atomic.Bool
	cycles     atomic.Int64
	skipped    atomic.Int64
	fallbacks  atomic.Int64
	lastSource models.Provenance // only touched while inFlight is held

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewPoller(fetcher QuoteFetcher, cache *QuoteCache, fallback *Fallback, breaker *Breaker, notify Notifier, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.FetchTimeout <= 0 || cfg.FetchTimeout > 30*time.Second {
		cfg.FetchTimeout = 30 * time.Second
	}
	return &Poller{
		fetcher:  fetcher,
		cache:    cache,
		fallback: fallback,
		breaker:  breaker,
		notify:   notify,
		cfg:      cfg,
	}
}

// OnUpdate registers a hook. Call before Start.
func (p *Poller) OnUpdate(h UpdateHook) {
	p.hooks = append(p.hooks, h)
}

func (p *Poller) Start() {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		fmt.Println("[POLL] Already running")
		return
	}
	p.running = true
	p.stopCh = make(chan struct{})
	stopCh := p.stopCh
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		p.tick()

		ticker := time.NewTicker(p.cfg.Interval)
		defer ticker.Stop()
		p.loop(stopCh, ticker.C)
	}()

	fmt.Printf("[POLL] Started for %s (every %s, timeout %s)\n", p.cfg.Pair, p.cfg.Interval, p.cfg.FetchTimeout)
}

// Stop halts the ticker and waits for an in-flight poll to finish. The fetch
// itself is bounded by FetchTimeout.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopCh)
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	s := p.Stats()
	fmt.Printf("[POLL] Stopped (cycles=%d skipped=%d fallbacks=%d)\n", s.Cycles, s.Skipped, s.Fallbacks)
}

func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *Poller) Stats() PollStats {
	return PollStats{
		Cycles:    p.cycles.Load(),
		Skipped:   p.skipped.Load(),
		Fallbacks: p.fallbacks.Load(),
	}
}

// loop ticks on every value from tickC until stopCh is closed. Once Stop has
// begun no new poll starts, even when a tick is already pending.
func (p *Poller) loop(stopCh <-chan struct{}, tickC <-chan time.Time) {
	for {
		select {
		case <-stopCh:
			return
		case <-tickC:
			select {
			case <-stopCh:
				return
			default:
			}
			p.tick()
		}
	}
}

// tick launches a poll in the background unless one is still running.
func (p *Poller) tick() {
	if !p.inFlight.CompareAndSwap(false, true) {
		n := p.skipped.Add(1)
		fmt.Printf("[POLL] Skipped cycle, previous poll still in flight (%d skipped)\n", n)
		return
	}
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inFlight.Store(false)
		p.poll()
	}()
}

// PollOnce runs one cycle synchronously. It returns false if another poll was
// already in flight.
func (p *Poller) PollOnce() bool {
	if !p.inFlight.CompareAndSwap(false, true) {
		p.skipped.Add(1)
		return false
	}
	defer p.inFlight.Store(false)
	p.poll()
	return true
}

func (p *Poller) poll() {
	// Not derived from stopCh: Stop waits for the fetch rather than aborting it.
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.FetchTimeout)
	defer cancel()

	q, err := p.fetch(ctx)
	if err != nil {
		var last *models.Quote
		if prev, ok := p.cache.Read(); ok {
			last = &prev
		}
		q = p.fallback.Synthesize(last)
		p.fallbacks.Add(1)
		fmt.Printf("[POLL] %s fetch failed, serving fallback $%s: %v\n", p.cfg.Pair, q.Price.StringFixed(2), err)
	}

	p.cache.Replace(q)
	p.cycles.Add(1)
	p.announce(q.Source)

	for _, h := range p.hooks {
		h(q)
	}
}

func (p *Poller) fetch(ctx context.Context) (models.Quote, error) {
	if p.breaker != nil && !p.breaker.Allow() {
		return models.Quote{}, ErrBreakerOpen
	}
	q, err := p.fetcher.FetchQuote(ctx, p.cfg.Pair)
	if p.breaker != nil {
		p.breaker.Record(err)
	}
	return q, err
}

func (p *Poller) announce(src models.Provenance) {
	prev := p.lastSource
	p.lastSource = src
	if p.notify == nil || prev == src {
		return
	}
	switch {
	case src == models.SourceFallback:
		p.notify.Send(fmt.Sprintf("Market data for %s degraded: serving fallback quotes", p.cfg.Pair))
	case prev == models.SourceFallback:
		p.notify.Send(fmt.Sprintf("Market data for %s restored from upstream", p.cfg.Pair))
	}
}
