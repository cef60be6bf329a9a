package storage

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/time/rate"
)

// Failover prefers the shared primary backend and silently falls back to
// the local one on any primary error. The fallback is invisible to callers
// but logged, throttled so a dead Redis does not flood the log at request
// rate. Counts taken on the two backends are never merged; a fallback
// period simply runs an independent process-local count until the primary
// recovers.
type Failover struct {
	primary  Counter // may be nil: local-only deployments
	fallback Counter
	log      *slog.Logger
	br       *breaker
	warnOnce rate.Sometimes
}

func NewFailover(primary, fallback Counter, logger *slog.Logger) *Failover {
	if logger == nil {
		logger = slog.Default()
	}
	return &Failover{
		primary:  primary,
		fallback: fallback,
		log:      logger,
		br:       newBreaker(),
		warnOnce: rate.Sometimes{First: 3, Interval: 30 * time.Second},
	}
}

func (f *Failover) Increment(ctx context.Context, key string, ttl time.Duration) (int64, time.Time, error) {
	if f.tryPrimary() {
		count, expiresAt, err := f.primary.Increment(ctx, key, ttl)
		f.br.record(err == nil)
		if err == nil {
			return count, expiresAt, nil
		}
		f.warn("increment", key, err)
	}
	return f.fallback.Increment(ctx, key, ttl)
}

func (f *Failover) Get(ctx context.Context, key string) (int64, error) {
	if f.tryPrimary() {
		count, err := f.primary.Get(ctx, key)
		f.br.record(err == nil)
		if err == nil {
			return count, nil
		}
		f.warn("get", key, err)
	}
	return f.fallback.Get(ctx, key)
}

// Delete clears both backends: a record may have accumulated locally while
// the primary was away. The fallback is cleared first so a primary error
// cannot leave the local copy behind.
func (f *Failover) Delete(ctx context.Context, key string) error {
	fbErr := f.fallback.Delete(ctx, key)

	if f.tryPrimary() {
		err := f.primary.Delete(ctx, key)
		f.br.record(err == nil)
		if err != nil {
			f.warn("delete", key, err)
			return err
		}
	}
	return fbErr
}

func (f *Failover) tryPrimary() bool {
	return f.primary != nil && f.br.allow()
}

func (f *Failover) warn(op, key string, err error) {
	f.warnOnce.Do(func() {
		f.log.Warn("remote counter store unavailable, using local fallback",
			"op", op,
			"key", key,
			"err", err,
		)
	})
}
