package external

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrorKind classifies upstream failures.
type ErrorKind string

const (
	KindTimeout     ErrorKind = "timeout"
	KindHTTPStatus  ErrorKind = "http_status"
	KindParse       ErrorKind = "parse"
	KindUnreachable ErrorKind = "unreachable"
)

// UpstreamError is the only error type FetchQuote returns. Transport errors
// are kept as the wrapped cause.
type UpstreamError struct {
	Kind       ErrorKind
	Pair       string
	StatusCode int
	Err        error
}

func (e *UpstreamError) Error() string {
	switch e.Kind {
	case KindHTTPStatus:
		return fmt.Sprintf("upstream %s: HTTP %d", e.Pair, e.StatusCode)
	default:
		if e.Err != nil {
			return fmt.Sprintf("upstream %s: %s: %v", e.Pair, e.Kind, e.Err)
		}
		return fmt.Sprintf("upstream %s: %s", e.Pair, e.Kind)
	}
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func timeoutError(pair string, err error) *UpstreamError {
	return &UpstreamError{Kind: KindTimeout, Pair: pair, Err: err}
}

func statusError(pair string, code int, body string) *UpstreamError {
	var err error
	if body != "" {
		err = errors.New(body)
	}
	return &UpstreamError{Kind: KindHTTPStatus, Pair: pair, StatusCode: code, Err: err}
}

func parseError(pair string, err error) *UpstreamError {
	return &UpstreamError{Kind: KindParse, Pair: pair, Err: err}
}

// transportError maps a client.Do failure onto Timeout or Unreachable.
func transportError(pair string, err error) *UpstreamError {
	if errors.Is(err, context.DeadlineExceeded) {
		return timeoutError(pair, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return timeoutError(pair, err)
	}
	return &UpstreamError{Kind: KindUnreachable, Pair: pair, Err: err}
}
