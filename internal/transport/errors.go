package transport

import (
	"errors"
	"fmt"
)

// ErrCircuitOpen is returned without any network attempt while the circuit
// breaker is open.
var ErrCircuitOpen = errors.New("circuit open")

// HTTPError carries a status-coded failure. Whether it is retryable depends
// on the status.
type HTTPError struct {
	StatusCode int
	URL        string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("http status %d for %s", e.StatusCode, e.URL)
}

// Retryable reports whether the status is in the retryable subset.
func (e *HTTPError) Retryable() bool {
	return retryableStatus(e.StatusCode)
}

// RateLimitError is the distinguished 429 failure. RetryAfter is the raw
// advisory header value; it is logged but never slept on in addition to the
// retry backoff.
type RateLimitError struct {
	URL        string
	RetryAfter string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (429) for %s", e.URL)
}

func retryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	}
	return false
}

// retryable classifies an attempt error. Network-level failures retry; HTTP
// errors retry only for the fixed status subset; an open circuit is handled
// before any attempt and never reaches here.
func retryable(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	var rlErr *RateLimitError
	if errors.As(err, &rlErr) {
		return true
	}
	return true // network-class
}

// networkClass reports whether err qualifies for the rendering fallback:
// anything except an open circuit and a non-retryable 4xx.
func networkClass(err error) bool {
	if errors.Is(err, ErrCircuitOpen) {
		return false
	}
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Retryable()
	}
	return true
}
