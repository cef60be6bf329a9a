// Package storage provides the per-key counter primitive behind the rate
// limiter's window counters and the penalty tracker's violation records.
// The shared Redis backend is the cross-process source of truth; the local
// backends are process-private approximations used when Redis is degraded.
package storage

import (
	"context"
	"time"
)

// Counter is an atomic increment-with-expiry store. Implementations must be
// safe for concurrent use and must apply exactly the TTL given on every
// Increment call: window counters pass the remaining window duration so the
// key dies shortly after the window closes, violation records pass their
// full rolling horizon so every write refreshes it.
type Counter interface {
	// Increment adds one to the counter at key and (re)sets its TTL.
	// It returns the updated count and the time the record expires.
	Increment(ctx context.Context, key string, ttl time.Duration) (int64, time.Time, error)

	// Get returns the current count for key, or 0 when the key is absent
	// or already expired.
	Get(ctx context.Context, key string) (int64, error)

	// Delete removes the counter at key. Deleting a missing key is a no-op.
	Delete(ctx context.Context, key string) error
}
