// Package common holds small shared utilities: the injectable clock and
// the resource-bounding helpers (loop budgets, circuit breaker) used by
// the bridge and the game manager.
package common

import (
	"sync"
	"time"
)

// Clock abstracts time so tests can inject a deterministic source.
// Within one peer the clock is monotonic non-decreasing; across peers
// only bounded skew is assumed.
type Clock interface {
	// Now returns seconds since the Unix epoch.
	Now() uint64
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current Unix time in seconds.
func (SystemClock) Now() uint64 { return uint64(time.Now().Unix()) }

// ManualClock is a test clock advanced by hand.
type ManualClock struct {
	mu  sync.Mutex
	now uint64
}

// NewManualClock starts a manual clock at now.
func NewManualClock(now uint64) *ManualClock {
	return &ManualClock{now: now}
}

// Now returns the current manual time.
func (c *ManualClock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d seconds.
func (c *ManualClock) Advance(d uint64) {
	c.mu.Lock()
	c.now += d
	c.mu.Unlock()
}
