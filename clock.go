package thread

import (
	"sync/atomic"
	"time"
)

// A Clock is a monotonic tick source.
// Now returns the time elapsed since some fixed point; it must never go
// backwards.
type Clock interface {
	Now() time.Duration
}

type monotonicClock struct {
	epoch time.Time
}

func (c monotonicClock) Now() time.Duration {
	return time.Since(c.epoch)
}

// MonotonicClock returns a [Clock] that reads the wall clock's monotonic
// reading.
func MonotonicClock() Clock {
	return monotonicClock{epoch: time.Now()}
}

// ManualClock is a [Clock] that only moves when told to.
// It is useful for simulations and tests where time must be deterministic.
//
// A ManualClock is safe for concurrent use.
type ManualClock struct {
	t atomic.Int64
}

// Now implements the [Clock] interface.
func (c *ManualClock) Now() time.Duration {
	return time.Duration(c.t.Load())
}

// Advance moves c forward by d. Negative values are ignored.
func (c *ManualClock) Advance(d time.Duration) {
	if d > 0 {
		c.t.Add(int64(d))
	}
}

// clock corrects a Clock by the time spent in the scheduler's log sink, so
// that logging is never charged to any thread.
type clock struct {
	src  Clock
	skew time.Duration
}

func (c *clock) now() time.Duration {
	return c.src.Now() - c.skew
}

// exclude runs f and removes the time it took from every later reading.
func (c *clock) exclude(f func()) {
	t0 := c.src.Now()
	defer func() { c.skew += c.src.Now() - t0 }()
	f()
}
