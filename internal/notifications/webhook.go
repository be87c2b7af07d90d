package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kjannette/trahn-ticker/internal/httputil"
)

const queueSize = 64

// Sender echoes every message to stdout and, when a webhook is configured,
// delivers it from a background worker. Send never blocks the caller.
type Sender struct {
	webhookURL string
	botName    string
	httpClient *http.Client
	retry      httputil.RetryConfig

	mu      sync.RWMutex
	closed  bool
	queue   chan string
	done    chan struct{}
	dropped atomic.Int64
}

func NewSender(webhookURL, botName string) *Sender {
	if botName == "" {
		botName = "TrahnTicker"
	}
	s := &Sender{
		webhookURL: webhookURL,
		botName:    botName,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		retry: httputil.RetryConfig{
			MaxAttempts: 3,
			BaseDelay:   1 * time.Second,
			MaxDelay:    5 * time.Second,
		},
		done: make(chan struct{}),
	}
	if webhookURL != "" {
		s.queue = make(chan string, queueSize)
		go s.worker()
	} else {
		close(s.done)
	}
	return s
}

func (s *Sender) Send(msg string) {
	formatted := fmt.Sprintf("[%s] %s", s.botName, msg)
	fmt.Printf("[%s] %s\n", time.Now().UTC().Format(time.RFC3339), formatted)

	if s.webhookURL == "" {
		return
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.queue <- formatted:
	default:
		n := s.dropped.Add(1)
		fmt.Printf("[CHAT ERROR] Queue full, dropped notification (%d dropped)\n", n)
	}
}

// Close stops accepting messages and waits for queued ones to be delivered
// or for ctx to expire.
func (s *Sender) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		if s.queue != nil {
			close(s.queue)
		}
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("notification drain: %w", ctx.Err())
	}
}

func (s *Sender) worker() {
	defer close(s.done)
	for msg := range s.queue {
		s.post(msg)
	}
}

func (s *Sender) post(msg string) {
	body, err := json.Marshal(s.formatPayload(msg))
	if err != nil {
		fmt.Printf("[CHAT ERROR] marshal: %v\n", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := httputil.Do(ctx, s.httpClient, s.retry, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		fmt.Printf("[CHAT ERROR] Failed to send notification after retries: %v\n", err)
		return
	}
	resp.Body.Close()
}

func (s *Sender) formatPayload(msg string) map[string]string {
	if strings.Contains(s.webhookURL, "discord") {
		return map[string]string{
			"content":  msg,
			"username": s.botName,
		}
	}
	return map[string]string{
		"text":     fmt.Sprintf("`%s`", msg),
		"username": s.botName,
	}
}

func (s *Sender) Enabled() bool {
	return s.webhookURL != ""
}

func (s *Sender) Dropped() int64 {
	return s.dropped.Load()
}
