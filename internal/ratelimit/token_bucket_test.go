package ratelimit

import (
	"testing"
	"time"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func TestTokenBucket_ConsumesCapacity(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := NewTokenBucket(clock, 3, 1)

	for i := 0; i < 3; i++ {
		if !b.Allow(1) {
			t.Fatalf("allow %d: expected success", i)
		}
	}
	if b.Allow(1) {
		t.Fatalf("expected bucket to be empty")
	}
}

func TestTokenBucket_RefillsOverTime(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := NewTokenBucket(clock, 2, 2)

	if !b.Allow(2) {
		t.Fatalf("initial capacity should be available")
	}
	if b.Allow(1) {
		t.Fatalf("bucket should be empty")
	}

	clock.advance(500 * time.Millisecond) // 1 token at 2 tokens/sec
	if !b.Allow(1) {
		t.Fatalf("expected one refilled token")
	}
	if b.Allow(1) {
		t.Fatalf("only one token should have refilled")
	}

	clock.advance(10 * time.Second) // clamps to capacity
	if !b.Allow(2) {
		t.Fatalf("expected refill to capacity")
	}
	if b.Allow(1) {
		t.Fatalf("refill must not exceed capacity")
	}
}

func TestTokenBucket_TimeGoingBackwards(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	b := NewTokenBucket(clock, 1, 1)

	if !b.Allow(1) {
		t.Fatalf("initial token should be available")
	}
	clock.now = clock.now.Add(-time.Hour)
	if b.Allow(1) {
		t.Fatalf("backwards time must not refill")
	}
	clock.advance(2 * time.Hour)
	if !b.Allow(1) {
		t.Fatalf("expected refill after clock recovers")
	}
}

func TestTokenBucket_ZeroOrNegativeCostAlwaysAllowed(t *testing.T) {
	b := NewTokenBucket(&fakeClock{now: time.Unix(1000, 0)}, 0, 0)
	if !b.Allow(0) || !b.Allow(-5) {
		t.Fatalf("non-positive cost must always succeed")
	}
	if b.Allow(1) {
		t.Fatalf("zero-capacity bucket must reject positive cost")
	}
}
