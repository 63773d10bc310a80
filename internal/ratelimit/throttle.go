// Package ratelimit serializes request initiation across every network
// path of the scraper, browser fallback included.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// Throttle enforces a minimum interval between request starts. It throttles
// start time, not throughput: response handling overlaps freely.
type Throttle struct {
	limiter *rate.Limiter
}

// New builds a Throttle with the given minimum interval between requests.
// A non-positive interval disables throttling.
func New(minInterval time.Duration) *Throttle {
	limit := rate.Inf
	if minInterval > 0 {
		limit = rate.Every(minInterval)
	}
	return &Throttle{limiter: rate.NewLimiter(limit, 1)}
}

// Wait blocks until the next request may start or ctx is done.
func (t *Throttle) Wait(ctx context.Context) error {
	if err := t.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("throttle wait: %w", err)
	}
	return nil
}
