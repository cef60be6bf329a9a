// Package ristretto implements the process-local counter backend used for
// violation records. Records are few and long-lived (a rolling 24h horizon),
// so a cost-bounded TTL cache fits better than the window counters' LRU.
package ristretto

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"
)

// DefaultCapacity is the maximum number of tracked records; ristretto's
// admission policy keeps the heaviest hitters when the cache is full.
const DefaultCapacity = 4096

type entry struct {
	count     int64
	expiresAt time.Time
}

type RistrettoStore struct {
	mu    sync.Mutex
	cache *ristretto.Cache
	now   func() time.Time
}

func NewRistrettoStore(capacity int64) (*RistrettoStore, error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters:        capacity * 10,
		MaxCost:            capacity,
		BufferItems:        64,
		IgnoreInternalCost: true,
	})
	if err != nil {
		return nil, fmt.Errorf("ristretto cache: %w", err)
	}

	return &RistrettoStore{
		cache: cache,
		now:   time.Now,
	}, nil
}

func (s *RistrettoStore) Increment(_ context.Context, key string, ttl time.Duration) (int64, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()

	e := s.get(key, now)
	if e == nil {
		e = &entry{}
	}
	e.count++
	e.expiresAt = now.Add(ttl)

	s.cache.SetWithTTL(key, e, 1, ttl)
	// Ristretto applies writes through an async buffer; Wait flushes it so
	// the record is visible to the very next read.
	s.cache.Wait()

	return e.count, e.expiresAt, nil
}

func (s *RistrettoStore) Get(_ context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.get(key, s.now())
	if e == nil {
		return 0, nil
	}
	return e.count, nil
}

func (s *RistrettoStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cache.Del(key)
	s.cache.Wait()
	return nil
}

// Close releases the cache's internal goroutines.
func (s *RistrettoStore) Close() {
	s.cache.Close()
}

// get returns the live entry for key, treating expired entries as absent.
// Expiry is checked against s.now; ristretto's own TTL is only a janitor.
func (s *RistrettoStore) get(key string, now time.Time) *entry {
	v, ok := s.cache.Get(key)
	if !ok {
		return nil
	}
	e, ok := v.(*entry)
	if !ok || !e.expiresAt.After(now) {
		return nil
	}
	return e
}
