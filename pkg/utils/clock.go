// Package utils provides the clock and logging collaborators used by the profiler.
package utils

import (
	"sync/atomic"
	"time"
)

// Tick is a high-resolution monotonic timestamp. Ticks are only converted to
// seconds when a report is rendered.
type Tick int64

// TickClock is the high-resolution clock source the profiler stamps scopes with.
type TickClock interface {
	// Now returns the current tick.
	Now() Tick

	// TicksPerSecond returns the clock frequency.
	TicksPerSecond() int64
}

// TicksToSeconds converts a tick delta to seconds using clock's frequency.
func TicksToSeconds(clock TickClock, ticks Tick) float64 {
	return float64(ticks) / float64(clock.TicksPerSecond())
}

// TicksToDuration converts a tick delta to a time.Duration.
func TicksToDuration(clock TickClock, ticks Tick) time.Duration {
	tps := clock.TicksPerSecond()
	if tps == int64(time.Second) {
		return time.Duration(ticks)
	}
	return time.Duration(float64(ticks) / float64(tps) * float64(time.Second))
}

// DurationToTicks converts d to ticks of clock.
func DurationToTicks(clock TickClock, d time.Duration) Tick {
	tps := clock.TicksPerSecond()
	if tps == int64(time.Second) {
		return Tick(d)
	}
	return Tick(d.Seconds() * float64(tps))
}

// MonotonicClock ticks in nanoseconds since its creation, using the runtime's
// monotonic clock reading so wall clock adjustments never move it backwards.
type MonotonicClock struct {
	base time.Time
}

// NewMonotonicClock creates a MonotonicClock anchored at the current instant.
func NewMonotonicClock() *MonotonicClock {
	return &MonotonicClock{base: time.Now()}
}

// Now returns nanoseconds elapsed since the clock was created.
func (c *MonotonicClock) Now() Tick {
	return Tick(time.Since(c.base))
}

// TicksPerSecond returns 1e9.
func (c *MonotonicClock) TicksPerSecond() int64 {
	return int64(time.Second)
}

// Wall converts t back to a wall clock time.
func (c *MonotonicClock) Wall(t Tick) time.Time {
	return c.base.Add(time.Duration(t))
}

// MockTickClock is a manually driven TickClock for tests. It is safe for
// concurrent use.
type MockTickClock struct {
	now atomic.Int64
	tps int64
}

// NewMockTickClock creates a mock clock at tick 0 with nanosecond resolution.
func NewMockTickClock() *MockTickClock {
	return &MockTickClock{tps: int64(time.Second)}
}

// Now returns the mock current tick.
func (c *MockTickClock) Now() Tick {
	return Tick(c.now.Load())
}

// TicksPerSecond returns 1e9.
func (c *MockTickClock) TicksPerSecond() int64 {
	return c.tps
}

// Advance moves the clock forward by d.
func (c *MockTickClock) Advance(d time.Duration) {
	c.now.Add(int64(d))
}

// Set moves the clock to t.
func (c *MockTickClock) Set(t Tick) {
	c.now.Store(int64(t))
}
