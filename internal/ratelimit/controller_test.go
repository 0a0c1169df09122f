package ratelimit

import (
	"testing"
	"time"
)

// fakeClock lets tests advance time explicitly.
type fakeClock struct {
	t time.Time
}

func (f *fakeClock) now() time.Time          { return f.t }
func (f *fakeClock) advance(d time.Duration) { f.t = f.t.Add(d) }

func newTestController(jitter float64) (*Controller, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	c := NewWithClock(clock.now, func() float64 { return jitter })
	return c, clock
}

func TestNew_InitialState(t *testing.T) {
	c := New()

	s := c.Snapshot()
	if s.Backoff != FloorBackoff {
		t.Errorf("expected floor backoff %v, got %v", FloorBackoff, s.Backoff)
	}
	if s.InCooldown {
		t.Error("expected no cooldown at start")
	}
	if s.ConsecutiveErrors != 0 {
		t.Errorf("expected 0 consecutive errors, got %d", s.ConsecutiveErrors)
	}
	if c.IsRateLimited() {
		t.Error("fresh controller should not be rate limited")
	}
}

func TestRecordFailure_EntersCooldown(t *testing.T) {
	c, _ := newTestController(0.5) // jitter factor 2*1.0 = exact doubling

	c.RecordFailure()

	if !c.IsRateLimited() {
		t.Error("expected rate limited immediately after failure")
	}
	s := c.Snapshot()
	if s.ConsecutiveErrors != 1 {
		t.Errorf("expected 1 consecutive error, got %d", s.ConsecutiveErrors)
	}
	if s.Backoff != 2000*time.Millisecond {
		t.Errorf("expected backoff 2000ms, got %v", s.Backoff)
	}
}

func TestRecordFailure_JitterRange(t *testing.T) {
	// From the floor, one failure must land in [1000ms, 3000ms):
	// 1000 * 2 * [0.5, 1.5).
	for _, jitter := range []float64{0.0, 0.25, 0.5, 0.75, 0.999} {
		c, _ := newTestController(jitter)
		c.RecordFailure()

		b := c.Snapshot().Backoff
		if b < FloorBackoff || b >= 3000*time.Millisecond {
			t.Errorf("jitter=%v: backoff %v outside [1000ms, 3000ms)", jitter, b)
		}
	}
}

func TestRecordFailure_NeverExceedsCeiling(t *testing.T) {
	c, _ := newTestController(0.999) // near-maximal growth

	for i := 0; i < 20; i++ {
		c.RecordFailure()
		if b := c.Snapshot().Backoff; b > CeilBackoff {
			t.Fatalf("failure %d: backoff %v exceeds ceiling %v", i+1, b, CeilBackoff)
		}
	}

	if b := c.Snapshot().Backoff; b != CeilBackoff {
		t.Errorf("expected backoff pinned at ceiling %v, got %v", CeilBackoff, b)
	}
}

func TestRecordSuccess_ResetsAfterFailure(t *testing.T) {
	c, _ := newTestController(0.5)

	c.RecordFailure()
	c.RecordFailure()
	c.RecordSuccess()

	s := c.Snapshot()
	if s.ConsecutiveErrors != 0 {
		t.Errorf("expected 0 consecutive errors after success, got %d", s.ConsecutiveErrors)
	}
	if s.Backoff != FloorBackoff {
		t.Errorf("expected backoff reset to floor, got %v", s.Backoff)
	}
}

func TestRecordSuccess_WithoutFailures_KeepsBackoff(t *testing.T) {
	c, clock := newTestController(0.5)

	before := clock.now()
	clock.advance(5 * time.Second)
	c.RecordSuccess()

	s := c.Snapshot()
	if s.Backoff != FloorBackoff {
		t.Errorf("expected floor backoff, got %v", s.Backoff)
	}
	if !s.LastRequestTime.After(before) {
		t.Error("expected lastRequestTime updated by success")
	}
}

func TestIsRateLimited_ClearsAfterWindowElapses(t *testing.T) {
	c, clock := newTestController(0.5) // backoff becomes exactly 2000ms

	c.RecordFailure()
	if !c.IsRateLimited() {
		t.Fatal("expected rate limited inside the window")
	}

	// Exactly at the boundary the window has not yet elapsed.
	clock.advance(2000 * time.Millisecond)
	if !c.IsRateLimited() {
		t.Error("expected still rate limited at the window boundary")
	}

	clock.advance(1 * time.Millisecond)
	if c.IsRateLimited() {
		t.Error("expected cooldown cleared once window elapsed")
	}

	// The clear is a side effect: cooldown flag is gone.
	if c.Snapshot().InCooldown {
		t.Error("expected InCooldown cleared as a side effect")
	}
}

func TestConsecutiveFailures_GrowBackoff(t *testing.T) {
	c, clock := newTestController(0.5)

	var prev time.Duration = FloorBackoff
	for i := 0; i < 4; i++ {
		c.RecordFailure()
		b := c.Snapshot().Backoff
		if b <= prev {
			t.Errorf("failure %d: expected growth beyond %v, got %v", i+1, prev, b)
		}
		prev = b
		clock.advance(time.Minute)
	}
}
