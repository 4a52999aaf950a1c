package concurrency

import (
	"sync"
	"time"
)

// BreakerState is the position of a CircuitBreaker.
type BreakerState int

const (
	// BreakerClosed lets every call through.
	BreakerClosed BreakerState = iota

	// BreakerOpen rejects calls until the reset timeout elapses.
	BreakerOpen

	// BreakerHalfOpen lets calls through on probation.
	BreakerHalfOpen
)

// halfOpenSuccesses closes a half-open breaker.
const halfOpenSuccesses = 3

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// CircuitBreaker stops calling an endpoint after repeated consecutive
// failures and tries it again once the reset timeout has passed.
type CircuitBreaker struct {
	mu        sync.Mutex
	state     BreakerState
	failures  int64
	successes int
	threshold int64
	reset     time.Duration
	openedAt  time.Time
	now       func() time.Time
}

// NewCircuitBreaker opens after threshold consecutive failures and stays
// open for reset. Non-positive values fall back to 10 failures and 30s.
func NewCircuitBreaker(threshold int64, reset time.Duration) *CircuitBreaker {
	if threshold <= 0 {
		threshold = 10
	}
	if reset <= 0 {
		reset = 30 * time.Second
	}
	return &CircuitBreaker{threshold: threshold, reset: reset, now: time.Now}
}

// IsOpen reports whether calls should be rejected. An open breaker whose
// reset timeout has elapsed moves to half-open and admits the call.
func (cb *CircuitBreaker) IsOpen() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != BreakerOpen {
		return false
	}
	if cb.now().Sub(cb.openedAt) >= cb.reset {
		cb.state = BreakerHalfOpen
		cb.successes = 0
		return false
	}
	return true
}

// RecordSuccess notes a successful call.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	if cb.state == BreakerHalfOpen {
		cb.successes++
		if cb.successes >= halfOpenSuccesses {
			cb.state = BreakerClosed
			cb.successes = 0
		}
	}
}

// RecordFailure notes a failed call. Any failure while half-open reopens
// the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.successes = 0
	switch {
	case cb.state == BreakerHalfOpen,
		cb.state == BreakerClosed && cb.failures >= cb.threshold:
		cb.state = BreakerOpen
		cb.openedAt = cb.now()
	}
}

// State returns the current state without advancing it.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
