// Package limiter decides, per request and per policy, whether the caller
// still fits inside its fixed window. It owns the window arithmetic and the
// penalty hookup; storage backends and identity resolution are injected.
package limiter

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/Dxstvn/realestatecrypto-sub008/internal/identity"
	"github.com/Dxstvn/realestatecrypto-sub008/internal/penalty"
	"github.com/Dxstvn/realestatecrypto-sub008/internal/storage"
)

// Limiter evaluates requests against policies. One instance serves every
// policy; the policy travels with the call.
type Limiter struct {
	store     storage.Counter
	resolver  *identity.Resolver
	penalties *penalty.Tracker
	log       *slog.Logger
	now       func() time.Time
}

// NewLimiter wires a limiter to its counter store and identity resolver.
// A nil logger falls back to slog.Default.
func NewLimiter(store storage.Counter, resolver *identity.Resolver, logger *slog.Logger, opts ...func(*Limiter)) *Limiter {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Limiter{
		store:    store,
		resolver: resolver,
		log:      logger,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WithPenalties attaches a violation tracker. Without one, every request
// runs at the policy's nominal limit and denials are not remembered.
func WithPenalties(t *penalty.Tracker) func(*Limiter) {
	return func(l *Limiter) { l.penalties = t }
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) func(*Limiter) {
	return func(l *Limiter) { l.now = now }
}

func windowKey(identity string, index int64) string {
	return fmt.Sprintf("rate_limit:%s:%d", identity, index)
}

// Evaluate runs one request through the policy and returns the decision.
// It never fails the request: when the counter store is unreachable the
// request is admitted and the outage is logged.
func (l *Limiter) Evaluate(ctx context.Context, r *http.Request, p *Policy) Decision {
	ip := l.resolver.ClientIP(r)
	id := p.identityFor(r, ip)

	now := l.now()
	windowMs := p.Window.Milliseconds()
	nowMs := now.UnixMilli()
	index := nowMs / windowMs
	resetAt := time.UnixMilli((index + 1) * windowMs)

	if l.resolver.Bypass(ip) || (p.BypassFn != nil && p.BypassFn(r)) {
		return Decision{
			Admitted:  true,
			Limit:     p.MaxRequests,
			Remaining: p.MaxRequests,
			ResetAt:   resetAt,
			Identity:  id,
		}
	}

	limit := p.MaxRequests
	if l.penalties != nil {
		m := l.penalties.MultiplierFor(ctx, id)
		if m < 1 {
			limit = int(math.Floor(float64(p.MaxRequests) * m))
			if limit < 1 {
				limit = 1
			}
		}
	}

	ttl := time.Duration((index+1)*windowMs-nowMs) * time.Millisecond
	count, _, err := l.store.Increment(ctx, windowKey(id, index), ttl)
	if err != nil {
		l.log.Error("counter store unavailable, admitting request",
			"policy", p.Name,
			"identity", id,
			"error", err,
		)
		return Decision{
			Admitted:  true,
			Limit:     limit,
			Remaining: limit,
			ResetAt:   resetAt,
			Identity:  id,
		}
	}

	d := Decision{
		Admitted:      count <= int64(limit),
		Limit:         limit,
		ResetAt:       resetAt,
		ObservedCount: count,
		Identity:      id,
	}
	if remaining := int64(limit) - count; remaining > 0 {
		d.Remaining = int(remaining)
	}

	if !d.Admitted {
		if p.OnDenied != nil {
			p.OnDenied(r, d)
		}
		if l.penalties != nil {
			l.penalties.RecordViolation(ctx, id)
		}
	}
	return d
}

// ClearPenalty wipes the violation record for an identity, restoring the
// full limit on the next evaluation. Missing records are not an error.
func (l *Limiter) ClearPenalty(ctx context.Context, identity string) error {
	if l.penalties == nil {
		return nil
	}
	return l.penalties.Clear(ctx, identity)
}

// ClearPenaltyFor clears the violation record for the identity a request
// resolves to under the given policy. Handlers call this after events that
// prove the caller legitimate, such as a successful login.
func (l *Limiter) ClearPenaltyFor(ctx context.Context, r *http.Request, p *Policy) error {
	return l.ClearPenalty(ctx, p.identityFor(r, l.resolver.ClientIP(r)))
}
