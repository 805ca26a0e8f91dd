package session

import (
	"sync"
	"time"
)

// Clock tracks a session's elapsed time. Elapsed is monotonically
// non-decreasing and frozen while paused, so paused time never accrues and
// wall-clock drift during a pause cannot move phase thresholds.
type Clock struct {
	now func() time.Time

	mu           sync.Mutex
	accrued      time.Duration
	runningSince time.Time
	running      bool
}

// NewClock creates a stopped clock. now is injectable for tests; nil uses
// time.Now.
func NewClock(now func() time.Time) *Clock {
	if now == nil {
		now = time.Now
	}
	return &Clock{now: now}
}

// Start begins accrual. Starting a running clock is a no-op.
func (c *Clock) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	c.running = true
	c.runningSince = c.now()
}

// Pause freezes accrual.
func (c *Clock) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.accrued += c.now().Sub(c.runningSince)
	c.running = false
}

// Resume restarts accrual after a pause.
func (c *Clock) Resume() {
	c.Start()
}

// Elapsed returns the accrued session time.
func (c *Clock) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return c.accrued
	}
	return c.accrued + c.now().Sub(c.runningSince)
}

// SetElapsed restores accrued time from a checkpoint. The clock must be
// paused or stopped.
func (c *Clock) SetElapsed(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.accrued = d
	if c.running {
		c.runningSince = c.now()
	}
}

// Running reports whether the clock is accruing.
func (c *Clock) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}
