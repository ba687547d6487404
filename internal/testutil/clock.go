// Package testutil provides deterministic time and id sources for tests.
package testutil

import (
	"sync"
	"time"
)

// TickingClock is a thread-safe deterministic wall clock for tests.
//
// Each call to Now returns a timestamp one step later than the previous
// one, so rows written in sequence carry distinct, ordered timestamps
// and golden traces stay byte-identical across runs.
type TickingClock struct {
	mu   sync.Mutex
	at   time.Time
	step time.Duration
}

// NewTickingClock creates a clock starting at the given instant.
// A zero step defaults to one second.
func NewTickingClock(start time.Time, step time.Duration) *TickingClock {
	if step == 0 {
		step = time.Second
	}
	return &TickingClock{at: start.UTC(), step: step}
}

// Now returns the current instant and advances the clock one step.
func (c *TickingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.at
	c.at = c.at.Add(c.step)
	return now
}

// Current returns the instant the next Now call will report.
func (c *TickingClock) Current() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

// Reset rewinds the clock to the given instant.
func (c *TickingClock) Reset(start time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.at = start.UTC()
}
