package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type stepClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *stepClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *stepClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newClockedBreaker(cfg BreakerConfig) (*Breaker, *stepClock) {
	clock := &stepClock{t: time.Date(2025, 10, 14, 12, 0, 0, 0, time.UTC)}
	b := NewBreaker("odds_api", cfg)
	b.now = clock.now
	return b, clock
}

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newClockedBreaker(BreakerConfig{FailureThreshold: 3, Cooldown: time.Minute})
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		if err := b.Allow(); err != nil {
			t.Fatalf("attempt %d rejected early: %v", i, err)
		}
		b.Record(boom)
	}

	if b.State() != Open {
		t.Fatalf("expected open, got %s", b.State())
	}
	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen, got %v", err)
	}
}

func TestBreaker_SuccessClearsFailures(t *testing.T) {
	b, _ := newClockedBreaker(BreakerConfig{FailureThreshold: 2, Cooldown: time.Minute})

	b.Record(errors.New("one"))
	b.Record(nil)
	b.Record(errors.New("two"))

	if b.State() != Closed {
		t.Fatalf("non-consecutive failures must not trip, got %s", b.State())
	}
}

func TestBreaker_HalfOpenProbe(t *testing.T) {
	b, clock := newClockedBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})

	b.Record(errors.New("down"))
	if err := b.Allow(); err == nil {
		t.Fatal("expected rejection while open")
	}

	clock.advance(time.Minute)
	if b.State() != HalfOpen {
		t.Fatalf("expected half-open after cooldown, got %s", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("probe should be allowed: %v", err)
	}
	b.Record(nil)
	if b.State() != Closed {
		t.Fatalf("expected closed after successful probe, got %s", b.State())
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newClockedBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute})

	b.Record(errors.New("down"))
	clock.advance(2 * time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe should be allowed: %v", err)
	}
	b.Record(errors.New("still down"))

	if err := b.Allow(); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected reopen, got %v", err)
	}
}

func TestBreaker_HalfOpenAdmitsOneCallAtATime(t *testing.T) {
	b, clock := newClockedBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute, Probes: 1})

	b.Record(errors.New("down"))
	clock.advance(time.Minute)

	if err := b.Allow(); err != nil {
		t.Fatalf("first half-open call should be allowed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := b.Allow(); !errors.Is(err, ErrOpen) {
			t.Fatalf("concurrent call %d should wait for the first call, got %v", i, err)
		}
	}

	b.Record(nil)
	if b.State() != Closed {
		t.Fatalf("expected closed after half-open success, got %s", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("closed breaker should allow: %v", err)
	}
}

func TestBreaker_SkipReleasesHalfOpenSlot(t *testing.T) {
	b, clock := newClockedBreaker(BreakerConfig{FailureThreshold: 1, Cooldown: time.Minute, Probes: 1})

	b.Record(errors.New("down"))
	clock.advance(time.Minute)

	if err := b.Allow(); err != nil {
		t.Fatalf("half-open call should be allowed: %v", err)
	}
	b.Skip()
	if b.State() != HalfOpen {
		t.Fatalf("a skipped call must not change state, got %s", b.State())
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("slot should be free after skip: %v", err)
	}
}

func TestBreaker_SkipWhileClosedIsNoop(t *testing.T) {
	b, _ := newClockedBreaker(BreakerConfig{FailureThreshold: 2})

	b.Record(errors.New("one"))
	b.Skip()
	b.Record(errors.New("two"))

	if b.State() != Open {
		t.Fatalf("skip must not clear consecutive failures, got %s", b.State())
	}
}

func TestBreaker_Reset(t *testing.T) {
	b, _ := newClockedBreaker(BreakerConfig{FailureThreshold: 1})
	b.Record(errors.New("x"))
	b.Reset()
	if b.State() != Closed {
		t.Fatalf("expected closed, got %s", b.State())
	}
}

func TestBreakers_RegistryAndStates(t *testing.T) {
	r := NewBreakers(BreakerConfig{FailureThreshold: 1, Cooldown: time.Hour})

	if r.For("espn") != r.For("espn") {
		t.Fatal("expected the same breaker instance")
	}
	r.For("odds_api").Record(errors.New("down"))

	states := r.States()
	if states["espn"] != "closed" || states["odds_api"] != "open" {
		t.Fatalf("unexpected states: %v", states)
	}
}

func TestStateString(t *testing.T) {
	if State(42).String() != "unknown" {
		t.Fatal("expected unknown")
	}
}
