package market

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrBreakerOpen = errors.New("upstream circuit breaker is open")

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Breaker stops hammering a failing upstream. After threshold consecutive
// failures it opens; once resetTimeout has passed one probe is let through.
type Breaker struct {
	mu           sync.Mutex
	state        BreakerState
	failureCount int
	threshold    int
	resetTimeout time.Duration
	lastFailure  time.Time
	now          func() time.Time
}

func NewBreaker(threshold int, resetTimeout time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 3
	}
	if resetTimeout <= 0 {
		resetTimeout = 30 * time.Second
	}
	return &Breaker{
		state:        BreakerClosed,
		threshold:    threshold,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// Allow reports whether a request may go upstream.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerOpen {
		return true
	}
	if b.now().Sub(b.lastFailure) > b.resetTimeout {
		fmt.Println("[CB] Upstream breaker HALF-OPEN, probing")
		b.state = BreakerHalfOpen
		return true
	}
	return false
}

// Record feeds the outcome of an upstream request back into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err == nil {
		if b.state != BreakerClosed {
			fmt.Println("[CB] Upstream recovered, breaker CLOSED")
		}
		b.state = BreakerClosed
		b.failureCount = 0
		return
	}

	b.failureCount++
	b.lastFailure = b.now()
	if b.state == BreakerHalfOpen || (b.state == BreakerClosed && b.failureCount >= b.threshold) {
		fmt.Printf("[CB] Upstream failures %d/%d, breaker OPEN for %s\n", b.failureCount, b.threshold, b.resetTimeout)
		b.state = BreakerOpen
	}
}

func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
