// Package reconnect implements the L4 reconnection controller: an
// exponential-backoff-with-jitter scheduler that decides when the
// transport should next attempt to re-establish a connection after a
// drop, and enforces the max-attempts ceiling from spec §4.4.
//
// No example repo in the retrieval pack carries a generic jittered
// backoff package of its own — each either hardcodes a fixed retry
// interval or has no reconnect concept at all (server-side code never
// reconnects to its clients) — so this controller is grounded on the
// shape of the teacher's connection lifecycle handling rather than a
// borrowed library; it uses the injected clock.Clock so tests can
// drive it deterministically instead of sleeping in wall time.
package reconnect

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"imcore/clock"
	"imcore/imerr"
)

// Config configures the backoff curve.
type Config struct {
	BaseInterval     time.Duration
	CapInterval      time.Duration
	MaxAttempts      int // 0 means unlimited
	JitterRatio      float64
}

// Controller tracks reconnect attempt count and schedules the next
// attempt. One Controller belongs to one transport's lifetime; Reset
// is called on a successful connect.
type Controller struct {
	cfg   Config
	clk   clock.Clock
	mu    sync.Mutex

	attempts   int
	generation int
	pending    clock.Timer
}

// New creates a Controller bound to clk (clock.Real in production,
// clock.Fake in tests).
func New(cfg Config, clk clock.Clock) *Controller {
	return &Controller{cfg: cfg, clk: clk}
}

// Attempts returns the number of reconnect attempts made since the
// last Reset.
func (c *Controller) Attempts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// Reset clears the attempt counter, called after a successful
// connection. It also cancels any pending scheduled attempt.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts = 0
	c.generation++
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
}

// NextDelay computes the delay before the next reconnect attempt and
// increments the attempt counter, or returns an error wrapping
// imerr.MaxReconnectAttemptsReached once the ceiling is hit.
func (c *Controller) NextDelay() (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.MaxAttempts > 0 && c.attempts >= c.cfg.MaxAttempts {
		return 0, imerr.New(imerr.MaxReconnectAttemptsReached, "reconnect attempts exhausted")
	}
	c.attempts++

	base := float64(c.cfg.BaseInterval) * math.Pow(2, float64(c.attempts-1))
	capMs := float64(c.cfg.CapInterval)
	if capMs > 0 && base > capMs {
		base = capMs
	}

	jitterRatio := c.cfg.JitterRatio
	if jitterRatio < 0 {
		jitterRatio = 0
	}
	if jitterRatio > 1 {
		jitterRatio = 1
	}
	// One-sided jitter: delay is always >= base, never below the
	// exponential curve's own value (spec requires
	// base + uniform[0, jitterRatio] * base, not a symmetric ±jitter
	// that could under-shoot the curve).
	jitter := base * jitterRatio * rand.Float64()
	delay := time.Duration(base + jitter)
	return delay, nil
}

// Schedule arranges for fn to be called once after the delay returned
// by NextDelay, and returns that delay. Schedule is idempotent: calling
// it again while a timer is still pending is a no-op that returns 0,
// counts no attempt and leaves the pending timer alone. A Reset in
// between invalidates any in-flight fire via the generation counter so
// a stale timer from a superseded attempt can never trigger fn.
func (c *Controller) Schedule(fn func()) (time.Duration, error) {
	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return 0, nil
	}
	c.mu.Unlock()

	delay, err := c.NextDelay()
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	gen := c.generation
	timer := c.clk.NewTimer(delay)
	c.pending = timer
	c.mu.Unlock()

	go func() {
		<-timer.C()
		c.mu.Lock()
		fire := gen == c.generation
		if c.pending == timer {
			c.pending = nil
		}
		c.mu.Unlock()
		if fire {
			fn()
		}
	}()
	return delay, nil
}
