// Package ratelimit provides the windowed action budgets the dispatch router
// enforces: one global, one per subscriber.
package ratelimit

import (
	"sync"
	"time"
)

// Budget caps the number of actions per fixed time window per key. The
// check-and-increment is atomic so concurrent dispatchers cannot overshoot.
type Budget struct {
	mu      sync.Mutex
	limit   int
	window  time.Duration
	now     func() time.Time
	buckets map[string]*bucket
}

type bucket struct {
	windowStart time.Time
	count       int
}

// Option configures a Budget.
type Option func(*Budget)

// WithClock replaces the wall clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(b *Budget) { b.now = now }
}

// NewBudget creates a budget allowing limit actions per window for each key.
// A non-positive limit means unlimited.
func NewBudget(limit int, window time.Duration, opts ...Option) *Budget {
	b := &Budget{
		limit:   limit,
		window:  window,
		now:     time.Now,
		buckets: make(map[string]*bucket),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// TryAcquire consumes one unit of budget for key if capacity remains and
// returns the start of the window the unit was charged to. Returns false
// without consuming anything when the window is exhausted.
func (b *Budget) TryAcquire(key string) (bool, time.Time) {
	if b.limit <= 0 {
		return true, time.Time{}
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	bk := b.bucketFor(key)
	if bk.count >= b.limit {
		return false, time.Time{}
	}
	bk.count++
	return true, bk.windowStart
}

// Refund returns one unit acquired in the window starting at window, so a
// caller that must acquire from two budgets can undo the first when the
// second refuses. A refund whose window has already rolled is dropped:
// decrementing the fresh window would under-count it.
func (b *Budget) Refund(key string, window time.Time) {
	if b.limit <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	bk, ok := b.buckets[key]
	if !ok || bk.count == 0 || !bk.windowStart.Equal(window) {
		return
	}
	bk.count--
}

// Remaining returns the capacity left in the current window for key.
func (b *Budget) Remaining(key string) int {
	if b.limit <= 0 {
		return int(^uint(0) >> 1)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	bk := b.bucketFor(key)
	return b.limit - bk.count
}

// bucketFor returns the live bucket for key, rolling the window if stale.
// Caller holds b.mu.
func (b *Budget) bucketFor(key string) *bucket {
	now := b.now()
	bk, ok := b.buckets[key]
	if !ok || now.Sub(bk.windowStart) >= b.window {
		bk = &bucket{windowStart: now}
		b.buckets[key] = bk
	}
	return bk
}
