package transport

import (
	"sync"
	"time"
)

// BreakerState enumerates the circuit breaker states.
type BreakerState int

const (
	// StateClosed passes requests through while counting consecutive failures.
	StateClosed BreakerState = iota
	// StateOpen fails every request immediately without a network attempt.
	StateOpen
	// StateHalfOpen lets exactly one trial request through.
	StateHalfOpen
)

// Breaker is a consecutive-failure circuit breaker. It wraps the entire
// retrying fetch, so an open circuit preempts even the first attempt.
type Breaker struct {
	mu           sync.Mutex
	failMax      int
	resetTimeout time.Duration
	now          func() time.Time

	state    BreakerState
	failures int
	openedAt time.Time
	trialing bool
}

// NewBreaker builds a closed Breaker tripping after failMax consecutive
// failures and probing again after resetTimeout.
func NewBreaker(failMax int, resetTimeout time.Duration) *Breaker {
	if failMax <= 0 {
		failMax = 3
	}
	if resetTimeout <= 0 {
		resetTimeout = time.Minute
	}
	return &Breaker{
		failMax:      failMax,
		resetTimeout: resetTimeout,
		now:          time.Now,
	}
}

// Allow reports whether a call may proceed. While open it returns
// ErrCircuitOpen until resetTimeout has elapsed, then admits a single trial.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return nil
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.resetTimeout {
			return ErrCircuitOpen
		}
		b.state = StateHalfOpen
		b.trialing = true
		return nil
	default: // StateHalfOpen
		if b.trialing {
			return ErrCircuitOpen
		}
		b.trialing = true
		return nil
	}
}

// Success records a successful call, closing the circuit.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
	b.trialing = false
}

// Failure records a failed call. A failed half-open trial reopens the
// circuit immediately; in the closed state the circuit opens once failMax
// consecutive failures accumulate.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		b.open()
		return
	}
	b.failures++
	if b.failures >= b.failMax {
		b.open()
	}
}

// State returns the current state, accounting for reset-timeout expiry.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == StateOpen && b.now().Sub(b.openedAt) >= b.resetTimeout {
		return StateHalfOpen
	}
	return b.state
}

func (b *Breaker) open() {
	b.state = StateOpen
	b.openedAt = b.now()
	b.trialing = false
	b.failures = 0
}
