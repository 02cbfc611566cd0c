package router

import (
	"time"

	"screenguard/internal/gesture"
)

// Region is a rectangle expressed as fractions of the surface.
type Region struct {
	Left   float64 `toml:"left" json:"left" yaml:"left"`
	Top    float64 `toml:"top" json:"top" yaml:"top"`
	Right  float64 `toml:"right" json:"right" yaml:"right"`
	Bottom float64 `toml:"bottom" json:"bottom" yaml:"bottom"`
}

// DefaultEmergencyRegion is the caption strip along the bottom edge.
// Containment is half-open, so a touch exactly on the bottom screen edge
// (y == height) falls outside it.
func DefaultEmergencyRegion() Region {
	return Region{Left: 0.05, Top: 0.88, Right: 0.95, Bottom: 1.0}
}

// Contains reports whether (x, y) lies in the region on surface s.
// The left and top edges are inside, the right and bottom edges are not.
func (r Region) Contains(s gesture.Surface, x, y float64) bool {
	return x >= s.Width*r.Left && x < s.Width*r.Right &&
		y >= s.Height*r.Top && y < s.Height*r.Bottom
}

// Clock supplies monotonic milliseconds.
type Clock interface {
	NowMillis() int64
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() int64

// NowMillis calls f.
func (f ClockFunc) NowMillis() int64 { return f() }

type monotonicClock struct {
	origin time.Time
}

// NewMonotonicClock returns a clock counting milliseconds since its creation.
// It reads Go's monotonic clock, so wall-clock adjustments do not affect it.
func NewMonotonicClock() Clock {
	return monotonicClock{origin: time.Now()}
}

func (c monotonicClock) NowMillis() int64 {
	return time.Since(c.origin).Milliseconds()
}
