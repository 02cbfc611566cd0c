// Package emergency counts taps on the emergency-exit caption.
//
// A run of taps unlocks the overlay once RequiredTaps is reached, as long as
// no two consecutive taps are more than Timeout apart. A longer gap starts a
// new run at one.
package emergency

import "time"

// Config controls the tap window.
type Config struct {
	// Timeout is the longest allowed gap between two taps of one run.
	Timeout time.Duration `toml:"timeout" json:"timeout" yaml:"timeout"`

	// RequiredTaps is the run length that unlocks.
	RequiredTaps int `toml:"required_taps" json:"required_taps" yaml:"required_taps"`
}

// DefaultConfig returns 20 taps with at most 5s between taps.
func DefaultConfig() Config {
	return Config{
		Timeout:      5 * time.Second,
		RequiredTaps: 20,
	}
}

// Counter is a debounced tap counter. It is not safe for concurrent use.
type Counter struct {
	cfg     Config
	count   int
	lastTap int64
}

// NewCounter creates a counter with no taps recorded.
func NewCounter(cfg Config) *Counter {
	return &Counter{cfg: cfg}
}

// OnTap records a tap at nowMillis (a monotonic clock reading) and reports
// whether the run has reached RequiredTaps.
func (c *Counter) OnTap(nowMillis int64) bool {
	if c.count == 0 || nowMillis-c.lastTap > c.cfg.Timeout.Milliseconds() {
		c.count = 1
	} else {
		c.count++
	}
	c.lastTap = nowMillis
	return c.count >= c.cfg.RequiredTaps
}

// Reset forgets the current run.
func (c *Counter) Reset() {
	c.count = 0
	c.lastTap = 0
}

// Count returns the length of the current run.
func (c *Counter) Count() int {
	return c.count
}

// Remaining returns how many more taps the run needs, never below zero.
func (c *Counter) Remaining() int {
	if r := c.cfg.RequiredTaps - c.count; r > 0 {
		return r
	}
	return 0
}

// Required returns the configured run length.
func (c *Counter) Required() int {
	return c.cfg.RequiredTaps
}
