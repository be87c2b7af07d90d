package market

import (
	"context"
	"errors"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kjannette/trahn-ticker/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	mu      sync.Mutex
	quote   models.Quote
	err     error
	delay   time.Duration
	entered chan struct{}

	calls     atomic.Int32
	active    atomic.Int32
	maxActive atomic.Int32
}

func (f *fakeFetcher) FetchQuote(ctx context.Context, pair string) (models.Quote, error) {
	f.calls.Add(1)
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		m := f.maxActive.Load()
		if n <= m || f.maxActive.CompareAndSwap(m, n) {
			break
		}
	}

	if f.entered != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	return f.quote, f.err
}

func (f *fakeFetcher) set(q models.Quote, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quote, f.err = q, err
}

type recordingNotifier struct {
	mu   sync.Mutex
	msgs []string
}

func (n *recordingNotifier) Send(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
}

func (n *recordingNotifier) messages() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.msgs...)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func upstreamQuote(price string) models.Quote {
	p := dec(price)
	return models.Quote{
		Symbol:     "BTCUSDT",
		Price:      p,
		Volume24h:  dec("1234.50"),
		High24h:    p,
		Low24h:     p,
		ObservedAt: time.Now(),
		Source:     models.SourceUpstream,
	}
}

func seededFallback() *Fallback {
	return NewFallback(FallbackOptions{
		Symbol:         "BTCUSDT",
		BasePrice:      43000,
		MaxStepPercent: 2,
		Rand:           rand.New(rand.NewPCG(1, 2)),
	})
}

// --- QuoteCache ---

func TestQuoteCache_UnsetThenReplace(t *testing.T) {
	c := NewQuoteCache()
	_, ok := c.Read()
	assert.False(t, ok, "new cache should be unset")

	c.Replace(upstreamQuote("43000.00"))
	q, ok := c.Read()
	require.True(t, ok)
	assert.Equal(t, "43000.00", q.Price.StringFixed(2))

	c.Replace(upstreamQuote("43100.50"))
	q, _ = c.Read()
	assert.Equal(t, "43100.50", q.Price.StringFixed(2))
}

// --- Fallback ---

func TestFallback_NoPreviousQuoteUsesBase(t *testing.T) {
	q := seededFallback().Synthesize(nil)
	assert.Equal(t, "43000.00", q.Price.StringFixed(2))
	assert.True(t, q.Change24h.IsZero())
	assert.True(t, q.ChangePercent24h.IsZero())
	assert.Equal(t, models.SourceFallback, q.Source)
	assert.Equal(t, "BTCUSDT", q.Symbol)
}

func TestFallback_Continuity(t *testing.T) {
	f := seededFallback()
	last := upstreamQuote("95000.00")
	lo, hi := dec("93100"), dec("96900")

	for i := 0; i < 500; i++ {
		q := f.Synthesize(&last)
		require.True(t, q.Price.GreaterThanOrEqual(lo) && q.Price.LessThanOrEqual(hi),
			"iteration %d: price %s outside [%s, %s]", i, q.Price, lo, hi)
		assert.True(t, q.Change24h.Equal(q.Price.Sub(last.Price)), "change is relative to the previous price")
		assert.True(t, q.High24h.GreaterThanOrEqual(q.Price))
		assert.True(t, q.Low24h.LessThanOrEqual(q.Price))
		assert.Equal(t, "1234.50", q.Volume24h.StringFixed(2))
		assert.True(t, q.IsFallback())
	}
}

func TestFallback_RandomWalkStaysPositive(t *testing.T) {
	f := seededFallback()
	q := f.Synthesize(nil)
	for i := 0; i < 1000; i++ {
		prev := q
		q = f.Synthesize(&prev)
		require.True(t, q.Price.IsPositive())
		step := q.Price.Sub(prev.Price).Abs().Div(prev.Price)
		require.True(t, step.LessThanOrEqual(dec("0.0201")), "step %s too large", step)
	}
}

// --- Breaker ---

func TestBreaker_OpensAndRecovers(t *testing.T) {
	now := time.Now()
	b := NewBreaker(2, time.Minute)
	b.now = func() time.Time { return now }

	fail := errors.New("boom")
	assert.True(t, b.Allow())
	b.Record(fail)
	assert.Equal(t, BreakerClosed, b.State())
	b.Record(fail)
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.Allow())

	now = now.Add(2 * time.Minute)
	assert.True(t, b.Allow())
	assert.Equal(t, BreakerHalfOpen, b.State())

	b.Record(fail)
	assert.Equal(t, BreakerOpen, b.State(), "failed probe reopens")

	now = now.Add(2 * time.Minute)
	require.True(t, b.Allow())
	b.Record(nil)
	assert.Equal(t, BreakerClosed, b.State())
}

// --- Poller ---

func newTestPoller(f QuoteFetcher, n Notifier, interval time.Duration) (*Poller, *QuoteCache) {
	cache := NewQuoteCache()
	p := NewPoller(f, cache, seededFallback(), nil, n, PollerConfig{
		Pair:         "BTCUSDT",
		Interval:     interval,
		FetchTimeout: time.Second,
	})
	return p, cache
}

func TestPollOnce_Success(t *testing.T) {
	f := &fakeFetcher{quote: upstreamQuote("43250.10")}
	p, cache := newTestPoller(f, nil, time.Hour)

	var updates []models.Quote
	p.OnUpdate(func(q models.Quote) { updates = append(updates, q) })

	require.True(t, p.PollOnce())
	q, ok := cache.Read()
	require.True(t, ok)
	assert.Equal(t, "43250.10", q.Price.StringFixed(2))
	assert.Equal(t, models.SourceUpstream, q.Source)
	require.Len(t, updates, 1)
	assert.Equal(t, q, updates[0])
	assert.Equal(t, int64(1), p.Stats().Cycles)
}

func TestPollOnce_FailureFallsBack(t *testing.T) {
	f := &fakeFetcher{quote: upstreamQuote("95000.00")}
	p, cache := newTestPoller(f, nil, time.Hour)
	require.True(t, p.PollOnce())

	f.set(models.Quote{}, errors.New("connection reset"))
	writes := 0
	p.OnUpdate(func(models.Quote) { writes++ })
	require.True(t, p.PollOnce())

	q, ok := cache.Read()
	require.True(t, ok)
	assert.Equal(t, models.SourceFallback, q.Source)
	assert.True(t, q.Price.GreaterThanOrEqual(dec("93100")) && q.Price.LessThanOrEqual(dec("96900")))
	assert.Equal(t, 1, writes, "cache is written exactly once per cycle")
	assert.Equal(t, int64(1), p.Stats().Fallbacks)
}

func TestPollOnce_FirstCycleFailureUsesBase(t *testing.T) {
	f := &fakeFetcher{err: errors.New("timeout")}
	p, cache := newTestPoller(f, nil, time.Hour)
	require.True(t, p.PollOnce())

	q, ok := cache.Read()
	require.True(t, ok)
	assert.Equal(t, "43000.00", q.Price.StringFixed(2))
	assert.Equal(t, models.SourceFallback, q.Source)
}

func TestPollOnce_BreakerSkipsUpstream(t *testing.T) {
	f := &fakeFetcher{err: errors.New("503")}
	cache := NewQuoteCache()
	p := NewPoller(f, cache, seededFallback(), NewBreaker(1, time.Hour), nil, PollerConfig{Pair: "BTCUSDT"})

	p.PollOnce()
	p.PollOnce()
	p.PollOnce()

	assert.Equal(t, int32(1), f.calls.Load(), "open breaker should not call upstream")
	assert.Equal(t, int64(3), p.Stats().Fallbacks)
}

func TestPoller_NotifiesOnProvenanceChange(t *testing.T) {
	n := &recordingNotifier{}
	f := &fakeFetcher{quote: upstreamQuote("43000.00")}
	p, _ := newTestPoller(f, n, time.Hour)

	p.PollOnce()
	f.set(models.Quote{}, errors.New("down"))
	p.PollOnce()
	p.PollOnce()
	f.set(upstreamQuote("43010.00"), nil)
	p.PollOnce()

	msgs := n.messages()
	require.Len(t, msgs, 2)
	assert.Contains(t, msgs[0], "degraded")
	assert.Contains(t, msgs[1], "restored")
}

func TestPoller_NoOverlappingPolls(t *testing.T) {
	f := &fakeFetcher{quote: upstreamQuote("43000.00"), delay: 200 * time.Millisecond}
	p, _ := newTestPoller(f, nil, 20*time.Millisecond)

	p.Start()
	time.Sleep(150 * time.Millisecond)
	p.Stop()

	assert.Equal(t, int32(1), f.maxActive.Load(), "polls must never overlap")
	assert.Greater(t, p.Stats().Skipped, int64(0), "ticks during a slow poll are dropped")
}

func TestPoller_StopWaitsForInFlightPoll(t *testing.T) {
	f := &fakeFetcher{
		quote:   upstreamQuote("43000.00"),
		delay:   100 * time.Millisecond,
		entered: make(chan struct{}, 1),
	}
	p, cache := newTestPoller(f, nil, time.Hour)

	p.Start()
	select {
	case <-f.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("poll never started")
	}
	p.Stop()

	assert.False(t, p.Running())
	assert.Equal(t, int32(0), f.active.Load())
	q, ok := cache.Read()
	require.True(t, ok, "in-flight poll should complete before Stop returns")
	assert.Equal(t, models.SourceUpstream, q.Source)
}

func TestPoller_NoPollAfterStopWithPendingTick(t *testing.T) {
	f := &fakeFetcher{quote: upstreamQuote("43000.00")}
	p, cache := newTestPoller(f, nil, time.Hour)

	stopCh := make(chan struct{})
	close(stopCh)
	tickC := make(chan time.Time, 1)

	for i := 0; i < 200; i++ {
		select {
		case tickC <- time.Now():
		default:
		}
		p.loop(stopCh, tickC)
	}
	p.wg.Wait()

	assert.Equal(t, int32(0), f.calls.Load())
	assert.Equal(t, int64(0), p.Stats().Cycles)
	_, ok := cache.Read()
	assert.False(t, ok)
}
