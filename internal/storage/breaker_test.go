package storage

import (
	"testing"
	"time"
)

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	b := newBreaker()

	if !b.allow() {
		t.Fatal("new breaker should allow")
	}

	b.record(false)
	b.record(false)
	if !b.allow() {
		t.Fatal("breaker should stay closed below the trip threshold")
	}

	b.record(false)
	if b.allow() {
		t.Fatal("breaker should open after three consecutive failures")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := newBreaker()

	b.record(false)
	b.record(false)
	b.record(true)
	b.record(false)
	b.record(false)

	if !b.allow() {
		t.Fatal("a success in between should have reset the failure count")
	}

	b.record(false)
	if b.allow() {
		t.Fatal("third consecutive failure should open the breaker")
	}
}

func TestBreakerProbesOnceAfterCooldown(t *testing.T) {
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	b := newBreaker()
	b.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		b.record(false)
	}
	if b.allow() {
		t.Fatal("breaker should be open")
	}

	current = current.Add(defaultCooldown - time.Second)
	if b.allow() {
		t.Fatal("breaker should still be open inside the cooldown")
	}

	current = current.Add(2 * time.Second)
	if !b.allow() {
		t.Fatal("breaker should let one probe through after the cooldown")
	}
	if b.allow() {
		t.Fatal("only one probe may be in flight")
	}

	b.record(true)
	if !b.allow() {
		t.Fatal("successful probe should close the breaker")
	}
}

func TestBreakerReopensOnFailedProbe(t *testing.T) {
	current := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	b := newBreaker()
	b.now = func() time.Time { return current }

	for i := 0; i < 3; i++ {
		b.record(false)
	}

	current = current.Add(defaultCooldown + time.Second)
	if !b.allow() {
		t.Fatal("probe should be allowed after cooldown")
	}

	b.record(false)
	if b.allow() {
		t.Fatal("failed probe should reopen the breaker")
	}

	current = current.Add(defaultCooldown + time.Second)
	if !b.allow() {
		t.Fatal("next cooldown should allow another probe")
	}
}
