package api

import (
	"context"
	"sync"
	"time"
)

// MemoryIdempotencyStore is an in-memory IdempotencyStorer for handler tests.
type MemoryIdempotencyStore struct {
	mu      sync.Mutex
	entries map[string]CachedResponse
	ttl     time.Duration
}

func NewMemoryIdempotencyStore(ttl time.Duration) *MemoryIdempotencyStore {
	return &MemoryIdempotencyStore{entries: make(map[string]CachedResponse), ttl: ttl}
}

func (s *MemoryIdempotencyStore) Check(_ context.Context, key string) (*CachedResponse, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cached, ok := s.entries[key]
	if !ok || time.Since(cached.CachedAt) >= s.ttl {
		return nil, false
	}
	return &cached, true
}

func (s *MemoryIdempotencyStore) Set(_ context.Context, key string, resp CachedResponse) {
	if resp.CachedAt.IsZero() {
		resp.CachedAt = time.Now()
	}
	s.mu.Lock()
	s.entries[key] = resp
	s.mu.Unlock()
}
