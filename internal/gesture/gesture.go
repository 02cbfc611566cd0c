// Package gesture recognizes the U-shaped unlock swipe.
//
// The recognizer is a small finite-state machine driven by pointer samples.
// Progress is gated only by zone membership (bands expressed as fractions of
// the surface), so the exact path shape and jitter do not matter:
//
//	IDLE -> DESCENDING   start in the top-left band
//	DESCENDING -> CROSSING   drop below the bottom band edge
//	CROSSING -> ASCENDING   reach the bottom-right corner
//	ASCENDING -> COMPLETE   rise into the top-right band with enough travel
//
// State is a plain value and the transitions are pure functions, so any
// recorded sample sequence can be replayed deterministically. Classifier
// wraps them for callers that want an in-place object.
package gesture

import "math"

// Phase is the stage of U-shape progress.
type Phase uint8

const (
	PhaseIdle Phase = iota
	PhaseDescending
	PhaseCrossing
	PhaseAscending
	PhaseComplete
)

// String returns the lower-case phase name.
func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDescending:
		return "descending"
	case PhaseCrossing:
		return "crossing"
	case PhaseAscending:
		return "ascending"
	case PhaseComplete:
		return "complete"
	default:
		return "unknown"
	}
}

// Surface is the size of the drawing surface, captured when a gesture starts.
type Surface struct {
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

// Sample is a pointer position in surface coordinates.
// Values outside the surface are accepted and simply fail zone tests.
type Sample struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// Config holds the zone fractions that gate transitions.
type Config struct {
	// LeftZoneMaxX bounds the left band: x < width*LeftZoneMaxX.
	LeftZoneMaxX float64 `toml:"left_zone_max_x" json:"left_zone_max_x" yaml:"left_zone_max_x"`

	// RightZoneMinX bounds the right band: x > width*RightZoneMinX.
	RightZoneMinX float64 `toml:"right_zone_min_x" json:"right_zone_min_x" yaml:"right_zone_min_x"`

	// TopZoneMaxY bounds the top band: y < height*TopZoneMaxY.
	TopZoneMaxY float64 `toml:"top_zone_max_y" json:"top_zone_max_y" yaml:"top_zone_max_y"`

	// BottomZoneMinY bounds the bottom band: y > height*BottomZoneMinY.
	BottomZoneMinY float64 `toml:"bottom_zone_min_y" json:"bottom_zone_min_y" yaml:"bottom_zone_min_y"`

	// MinVerticalTravel is the required vertical excursion as a fraction
	// of surface height.
	MinVerticalTravel float64 `toml:"min_vertical_travel" json:"min_vertical_travel" yaml:"min_vertical_travel"`
}

// DefaultConfig returns the stock zone layout.
func DefaultConfig() Config {
	return Config{
		LeftZoneMaxX:      0.35,
		RightZoneMinX:     0.65,
		TopZoneMaxY:       0.45,
		BottomZoneMinY:    0.55,
		MinVerticalTravel: 0.20,
	}
}

// Zone is a set of bands a sample falls in.
type Zone uint8

const (
	ZoneLeft Zone = 1 << iota
	ZoneRight
	ZoneTop
	ZoneBottom
)

// Has reports whether every band in o is also in z.
func (z Zone) Has(o Zone) bool {
	return o != 0 && z&o == o
}

// String lists the bands, e.g. "top|left".
func (z Zone) String() string {
	if z == 0 {
		return "none"
	}
	s := ""
	for _, b := range []struct {
		zone Zone
		name string
	}{{ZoneTop, "top"}, {ZoneBottom, "bottom"}, {ZoneLeft, "left"}, {ZoneRight, "right"}} {
		if z&b.zone != 0 {
			if s != "" {
				s += "|"
			}
			s += b.name
		}
	}
	return s
}

// Classify maps a sample to the bands it lies in.
// NaN coordinates belong to no band.
func (c Config) Classify(s Surface, p Sample) Zone {
	var z Zone
	if p.X < s.Width*c.LeftZoneMaxX {
		z |= ZoneLeft
	}
	if p.X > s.Width*c.RightZoneMinX {
		z |= ZoneRight
	}
	if p.Y < s.Height*c.TopZoneMaxY {
		z |= ZoneTop
	}
	if p.Y > s.Height*c.BottomZoneMinY {
		z |= ZoneBottom
	}
	return z
}

// State is the full recognizer state for one attempt.
// The session fields are only meaningful while Phase is not PhaseIdle.
type State struct {
	Phase   Phase
	Surface Surface

	MaxYReached float64
	MinYAtStart float64
	MinYAtEnd   float64
}

// NewState returns an idle state with neutral session fields.
func NewState() State {
	return State{MinYAtEnd: math.Inf(1)}
}

// idle drops back to IDLE, keeping only the surface.
func (s State) idle() State {
	n := NewState()
	n.Surface = s.Surface
	return n
}

// VerticalTravel is MaxYReached - min(MinYAtStart, MinYAtEnd).
func (s State) VerticalTravel() float64 {
	low := s.MinYAtStart
	if s.MinYAtEnd < low {
		low = s.MinYAtEnd
	}
	return s.MaxYReached - low
}

// Complete reports whether the attempt reached PhaseComplete.
func (s State) Complete() bool {
	return s.Phase == PhaseComplete
}
