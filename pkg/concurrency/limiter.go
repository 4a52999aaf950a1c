// Package concurrency bounds how many jobs run at once, guards remote
// endpoints with a circuit breaker, and loads the host's concurrency
// settings from the environment.
package concurrency

import (
	"context"
	"sync/atomic"
	"time"
)

// Metrics is a snapshot of limiter activity.
type Metrics struct {
	Acquired  int64
	Released  int64
	Peak      int64
	WaitTotal time.Duration
}

// Limiter is a counting semaphore that records how it is used.
type Limiter struct {
	slots    chan struct{}
	active   atomic.Int64
	acquired atomic.Int64
	released atomic.Int64
	peak     atomic.Int64
	waitNs   atomic.Int64
}

// NewLimiter returns a limiter admitting at most size holders. A size below
// one is treated as one.
func NewLimiter(size int) *Limiter {
	if size < 1 {
		size = 1
	}
	return &Limiter{slots: make(chan struct{}, size)}
}

// Size returns the number of slots.
func (l *Limiter) Size() int {
	return cap(l.slots)
}

// Acquire blocks until a slot is free or ctx is done.
func (l *Limiter) Acquire(ctx context.Context) error {
	start := time.Now()
	select {
	case l.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}

	l.waitNs.Add(int64(time.Since(start)))
	l.acquired.Add(1)
	current := l.active.Add(1)
	for {
		peak := l.peak.Load()
		if current <= peak || l.peak.CompareAndSwap(peak, current) {
			break
		}
	}
	return nil
}

// Release frees a slot taken by Acquire.
func (l *Limiter) Release() {
	select {
	case <-l.slots:
		l.active.Add(-1)
		l.released.Add(1)
	default:
	}
}

// Metrics returns a snapshot of the counters.
func (l *Limiter) Metrics() Metrics {
	return Metrics{
		Acquired:  l.acquired.Load(),
		Released:  l.released.Load(),
		Peak:      l.peak.Load(),
		WaitTotal: time.Duration(l.waitNs.Load()),
	}
}

// AverageWait returns the mean time Acquire spent blocked.
func (l *Limiter) AverageWait() time.Duration {
	m := l.Metrics()
	if m.Acquired == 0 {
		return 0
	}
	return m.WaitTotal / time.Duration(m.Acquired)
}
