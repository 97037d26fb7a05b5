// Package clock provides the monotonic time source shared by the hub and
// client processes. Both sides report seconds relative to the same epoch:
// the client samples its wall clock once at startup and hands the value to
// the hub process, which anchors its own clock to it. After construction a
// clock only ever advances by the monotonic reading of the runtime, so
// Now is non-decreasing even if the wall clock steps.
package clock

import "time"

type Clock struct {
	start time.Time
	base  float64
}

// New returns a clock whose zero point is the moment of the call.
func New() *Clock {
	return &Clock{start: time.Now()}
}

// NewAt returns a clock anchored to an externally supplied time base:
// timeBase is a wall-clock sample in fractional Unix seconds taken by the
// peer process at its own zero point. Now values of both clocks then agree
// up to the wall-clock skew at construction time.
func NewAt(timeBase float64) *Clock {
	start := time.Now()
	return &Clock{
		start: start,
		base:  unixSeconds(start) - timeBase,
	}
}

// Now returns seconds since the clock's zero point with sub-microsecond
// resolution.
func (c *Clock) Now() float64 {
	return c.base + time.Since(c.start).Seconds()
}

// TimeBase returns the wall-clock instant of the zero point in fractional
// Unix seconds. It is the value a peer passes to NewAt.
func (c *Clock) TimeBase() float64 {
	return unixSeconds(c.start) - c.base
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}
