// Package limiter provides token-bucket backpressure for signing requests,
// keyed by application or caller.
package limiter

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Policy defines the allowed rate.
type Policy struct {
	RPM   int
	Burst int
}

// ratePerSec converts RPM to a refill rate, falling back to one token per
// second for a zero policy.
func (p Policy) ratePerSec() float64 {
	rate := float64(p.RPM) / 60.0
	if rate <= 0 {
		return 1
	}
	return rate
}

func (p Policy) capacity() int {
	if p.Burst <= 0 {
		return 1
	}
	return p.Burst
}

// RetryAfter suggests how long a rejected caller should wait, in whole seconds.
func (p Policy) RetryAfter() int {
	if p.RPM <= 0 {
		return 1
	}
	secs := 60 / p.RPM
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Store abstracts the storage for rate limiting buckets.
type Store interface {
	// Allow reports whether key may spend cost tokens under policy.
	Allow(ctx context.Context, key string, policy Policy, cost int) (bool, error)
}

// TokenBucket is a thread-safe token bucket.
type TokenBucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	now        func() time.Time
}

// NewTokenBucket creates a full bucket.
func NewTokenBucket(ratePerSec float64, capacity int) *TokenBucket {
	return newTokenBucket(ratePerSec, capacity, time.Now)
}

func newTokenBucket(ratePerSec float64, capacity int, now func() time.Time) *TokenBucket {
	return &TokenBucket{
		tokens:     float64(capacity),
		capacity:   float64(capacity),
		refillRate: ratePerSec,
		lastRefill: now(),
		now:        now,
	}
}

// Allow consumes cost tokens if available.
func (tb *TokenBucket) Allow(cost int) bool {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	elapsed := now.Sub(tb.lastRefill).Seconds()

	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now

	if tb.tokens >= float64(cost) {
		tb.tokens -= float64(cost)
		return true
	}
	return false
}

// InMemoryStore keeps one bucket per key in process memory.
type InMemoryStore struct {
	mu      sync.Mutex
	buckets map[string]*TokenBucket
	now     func() time.Time
}

// NewInMemoryStore creates an empty store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		buckets: make(map[string]*TokenBucket),
		now:     time.Now,
	}
}

// WithClock overrides the time source; used by tests.
func (s *InMemoryStore) WithClock(now func() time.Time) *InMemoryStore {
	s.now = now
	return s
}

func (s *InMemoryStore) Allow(_ context.Context, key string, policy Policy, cost int) (bool, error) {
	s.mu.Lock()
	tb, exists := s.buckets[key]
	if !exists {
		tb = newTokenBucket(policy.ratePerSec(), policy.capacity(), s.now)
		s.buckets[key] = tb
	}
	s.mu.Unlock()

	return tb.Allow(cost), nil
}

// Check fails closed: a nil store or a limiter error rejects the call.
func Check(ctx context.Context, store Store, key string, policy Policy) error {
	if store == nil {
		return fmt.Errorf("backpressure: no limiter store configured")
	}
	allowed, err := store.Allow(ctx, key, policy, 1)
	if err != nil {
		return fmt.Errorf("backpressure check failed: %w", err)
	}
	if !allowed {
		return fmt.Errorf("backpressure: rate limit exceeded for %s", key)
	}
	return nil
}
