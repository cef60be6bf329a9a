// Package memory implements the process-local counter backend on a bounded
// LRU cache. It is the fallback when Redis is unreachable: counts are
// approximate across processes but linearizable within this one.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

const (
	// DefaultCapacity bounds the number of live counters. Under sustained
	// remote-store outage with attack traffic the cache evicts the least
	// recently used key first; an evicted counter restarts at zero, which
	// under-counts rather than over-blocks.
	DefaultCapacity = 10000

	// evictAfter is a janitor backstop only. Correctness comes from the
	// per-entry expiry checked on every access, not from cache-wide TTL.
	evictAfter = 2 * time.Hour
)

type entry struct {
	count     int64
	expiresAt time.Time
}

type MemoryStore struct {
	mu  sync.Mutex
	lru *expirable.LRU[string, *entry]
	now func() time.Time
}

func NewMemoryStore(capacity int) *MemoryStore {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &MemoryStore{
		lru: expirable.NewLRU[string, *entry](capacity, nil, evictAfter),
		now: time.Now,
	}
}

// Increment is a read-modify-write under one lock so two concurrent calls
// for the same key can never both observe the stale count.
func (s *MemoryStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	e, ok := s.lru.Get(key)
	if !ok || !e.expiresAt.After(now) {
		e = &entry{}
	}

	e.count++
	e.expiresAt = now.Add(ttl)
	s.lru.Add(key, e)

	return e.count, e.expiresAt, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.lru.Get(key)
	if !ok || !e.expiresAt.After(s.now()) {
		return 0, nil
	}
	return e.count, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lru.Remove(key)
	return nil
}

// Len reports the number of live entries, expired or not. Used by tests
// and the ops status endpoint.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lru.Len()
}
