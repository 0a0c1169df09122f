// Package ratelimit tracks generative backend health and decides
// whether a remote call should be attempted.
//
// The controller implements exponential backoff with randomized
// jitter. Backoff only ever grows through RecordFailure and resets to
// the floor through RecordSuccess; IsRateLimited clears an expired
// cooldown as a side effect.
package ratelimit

import (
	"math/rand"
	"sync"
	"time"
)

const (
	// FloorBackoff is the initial and minimum backoff window.
	FloorBackoff = 1000 * time.Millisecond
	// CeilBackoff caps backoff growth.
	CeilBackoff = 30000 * time.Millisecond
)

// State is a point-in-time snapshot of controller state.
type State struct {
	LastRequestTime   time.Time     `json:"lastRequestTime"`
	ConsecutiveErrors int           `json:"consecutiveErrors"`
	Backoff           time.Duration `json:"backoffMs"`
	InCooldown        bool          `json:"inCooldown"`
}

// Controller guards the remote backend. Callers must check
// IsRateLimited before a remote call and record exactly one of
// failure/success after the attempt completes.
//
// Safe for concurrent use.
type Controller struct {
	mu                sync.Mutex
	lastRequestTime   time.Time
	consecutiveErrors int
	backoff           time.Duration
	inCooldown        bool

	now    func() time.Time
	jitter func() float64 // uniform in [0, 1)
}

// New creates a controller at the floor backoff with no cooldown.
func New() *Controller {
	return &Controller{
		backoff: FloorBackoff,
		now:     time.Now,
		jitter:  rand.Float64,
	}
}

// NewWithClock creates a controller with an injected clock and jitter
// source, for tests.
func NewWithClock(now func() time.Time, jitter func() float64) *Controller {
	c := New()
	if now != nil {
		c.now = now
	}
	if jitter != nil {
		c.jitter = jitter
	}
	return c
}

// IsRateLimited returns true while the controller is in cooldown. An
// elapsed cooldown (now - lastRequestTime > backoff) is cleared as a
// side effect.
func (c *Controller) IsRateLimited() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.inCooldown {
		return false
	}
	if c.now().Sub(c.lastRequestTime) > c.backoff {
		c.inCooldown = false
		return false
	}
	return true
}

// RecordFailure registers a rate-limited response. Backoff doubles
// with jitter drawn uniformly from [0.5, 1.5), capped at the ceiling,
// and a new cooldown window starts.
func (c *Controller) RecordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consecutiveErrors++
	j := 0.5 + c.jitter() // [0.5, 1.5)
	next := time.Duration(float64(c.backoff) * 2 * j)
	if next > CeilBackoff {
		next = CeilBackoff
	}
	if next < FloorBackoff {
		next = FloorBackoff
	}
	c.backoff = next
	c.lastRequestTime = c.now()
	c.inCooldown = true
}

// RecordSuccess registers a successful attempt. Any error streak is
// forgotten and backoff returns to the floor.
func (c *Controller) RecordSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.consecutiveErrors > 0 {
		c.consecutiveErrors = 0
		c.backoff = FloorBackoff
	}
	c.lastRequestTime = c.now()
}

// Snapshot returns the current state for observability.
func (c *Controller) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	return State{
		LastRequestTime:   c.lastRequestTime,
		ConsecutiveErrors: c.consecutiveErrors,
		Backoff:           c.backoff,
		InCooldown:        c.inCooldown,
	}
}
