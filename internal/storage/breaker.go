package storage

import (
	"sync"
	"time"
)

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

const (
	// defaultTripAfter is the consecutive-failure count that opens the
	// breaker. Below it, each request still pays the primary's timeout.
	defaultTripAfter = 3

	// defaultCooldown is how long an open breaker routes straight to the
	// fallback before probing the primary again.
	defaultCooldown = 15 * time.Second
)

// breaker keeps a dead primary backend from charging its timeout to every
// request. After tripAfter consecutive failures it opens; once the cooldown
// elapses a single probe request is let through, and its outcome decides
// whether the breaker closes again or stays open for another cooldown.
type breaker struct {
	mu        sync.Mutex
	state     breakerState
	failures  int
	probing   bool
	openedAt  time.Time
	tripAfter int
	cooldown  time.Duration
	now       func() time.Time
}

func newBreaker() *breaker {
	return &breaker{
		tripAfter: defaultTripAfter,
		cooldown:  defaultCooldown,
		now:       time.Now,
	}
}

func (b *breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		return true
	case breakerOpen:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false
		}
		b.state = breakerHalfOpen
		b.probing = true
		return true
	case breakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	default:
		return true
	}
}

func (b *breaker) record(ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == breakerHalfOpen {
		b.probing = false
		if ok {
			b.state = breakerClosed
			b.failures = 0
		} else {
			b.state = breakerOpen
			b.openedAt = b.now()
		}
		return
	}

	if ok {
		b.failures = 0
		return
	}

	b.failures++
	if b.failures >= b.tripAfter {
		b.state = breakerOpen
		b.openedAt = b.now()
	}
}
