package xtime

import (
	"sync"
	"time"
)

// UTCNow returns the current time in UTC truncated to microseconds, the
// precision every supported database keeps.
func UTCNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// Clock provides the current time. Services take a Clock so tests can pin it.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

// Real returns a Clock backed by the system time.
func Real() Clock {
	return realClock{}
}

func (realClock) Now() time.Time {
	return UTCNow()
}

// FakeClock is a Clock whose time moves only when told to.
// It is safe for concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// Fake returns a FakeClock initialized to the given time.
func Fake(initial time.Time) *FakeClock {
	return &FakeClock{current: initial.UTC().Truncate(time.Microsecond)}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.current
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = c.current.Add(d)
}

// Set jumps the clock to t.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = t.UTC().Truncate(time.Microsecond)
}
