package testfixtures

import (
	"sync"
	"time"
)

// ReferenceTime is the instant most tests start from: noon IST on a Saturday.
func ReferenceTime() time.Time {
	return time.Date(2026, 7, 4, 12, 0, 0, 0, Venue())
}

// Venue is the fixed-offset zone used by fixtures so tests do not depend on
// tzdata being installed.
func Venue() *time.Location {
	return time.FixedZone("IST", 5*3600+1800)
}

// Clock provides a controllable time source for tests.
type Clock struct {
	mu      sync.Mutex
	current time.Time
}

// NewClock returns a clock at start, or at ReferenceTime when start is zero.
func NewClock(start time.Time) *Clock {
	if start.IsZero() {
		start = ReferenceTime()
	}
	return &Clock{current: start}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	c.current = t
	c.mu.Unlock()
}

// Advance moves the clock forward by d and returns the new time.
func (c *Clock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
	return c.current
}
