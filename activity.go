package main

import "sync/atomic"

// ActivityClock is the process-wide timestamp of the last observed input
// event from the managed remote, in seconds since the Unix epoch. Zero means
// no activity has been observed yet. Reads and writes are lock-free; any
// goroutine may touch it without blocking another.
type ActivityClock struct {
	last atomic.Int64
}

// Touch records an activity observation. The clock never moves backwards: a
// timestamp older than the stored one indicates a system clock anomaly and
// is skipped. Returns whether the update was applied.
func (c *ActivityClock) Touch(now int64) bool {
	for {
		prev := c.last.Load()
		if now < prev {
			return false
		}
		if c.last.CompareAndSwap(prev, now) {
			return true
		}
	}
}

// Last returns the most recent recorded activity timestamp, or 0.
func (c *ActivityClock) Last() int64 {
	return c.last.Load()
}
