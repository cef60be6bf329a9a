// Package penalty shrinks the request budget of identities that keep
// hitting the rate limit. Violations accumulate on a rolling 24-hour
// horizon and decay to nothing once the identity behaves.
package penalty

import (
	"context"
	"log/slog"
	"time"

	"github.com/Dxstvn/realestatecrypto-sub008/internal/storage"
)

// DefaultHorizon is the rolling window a violation stays on the record.
// Every new violation refreshes it.
const DefaultHorizon = 24 * time.Hour

const keyPrefix = "violations:"

// Multiplier maps a violation count to the budget multiplier applied to a
// policy's max requests. The count never decrements; the whole record
// expires once the horizon passes without a new violation.
func Multiplier(violations int64) float64 {
	switch {
	case violations >= 10:
		return 0.1
	case violations >= 5:
		return 0.2
	case violations >= 3:
		return 0.5
	case violations >= 1:
		return 0.8
	default:
		return 1.0
	}
}

// Tracker records violations per identity. Its storage chain is
// independent of the window counters' chain, so a Redis outage on one side
// never takes down the other.
type Tracker struct {
	store   storage.Counter
	log     *slog.Logger
	horizon time.Duration
}

func NewTracker(store storage.Counter, logger *slog.Logger, opts ...func(*Tracker)) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	t := &Tracker{
		store:   store,
		log:     logger,
		horizon: DefaultHorizon,
	}
	for _, f := range opts {
		f(t)
	}
	return t
}

// WithHorizon overrides the rolling horizon. Tests use short horizons.
func WithHorizon(d time.Duration) func(*Tracker) {
	return func(t *Tracker) {
		if d > 0 {
			t.horizon = d
		}
	}
}

// MultiplierFor returns the budget multiplier for an identity. Storage
// trouble means no penalty: the limiter must keep admitting at full budget
// rather than guess.
func (t *Tracker) MultiplierFor(ctx context.Context, identity string) float64 {
	count, err := t.store.Get(ctx, keyPrefix+identity)
	if err != nil {
		t.log.Warn("violation lookup failed, applying no penalty", "identity", identity, "err", err)
		return 1.0
	}
	return Multiplier(count)
}

// RecordViolation increments the identity's violation count and refreshes
// the horizon. Failures are logged and dropped; a lost violation only
// softens the penalty.
func (t *Tracker) RecordViolation(ctx context.Context, identity string) {
	if _, _, err := t.store.Increment(ctx, keyPrefix+identity, t.horizon); err != nil {
		t.log.Warn("violation record failed", "identity", identity, "err", err)
	}
}

// Clear wipes the identity's violation record, restoring the full budget
// immediately. Callers use it to reward sustained good behavior, e.g.
// after a successful authentication. Clearing a missing record is a no-op.
func (t *Tracker) Clear(ctx context.Context, identity string) error {
	return t.store.Delete(ctx, keyPrefix+identity)
}
