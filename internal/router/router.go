// Package router dispatches raw pointer events to the gesture classifier or
// the emergency tap counter and turns their results into one unlock signal.
//
// A touch is bound to one component at pointer-down: a down inside the
// emergency region only counts a tap, any other down starts a gesture. Moves
// go to whichever component the touch is bound to. Up finalizes a gesture and
// reads completion; cancel discards it. Out-of-order events are tolerated:
// a move or up with no touch in progress is a no-op, and a second down
// abandons the touch in progress and starts over.
package router

import (
	"io"
	"log/slog"

	"screenguard/internal/emergency"
	"screenguard/internal/gesture"
)

// GestureTracker is the part of the classifier the router drives.
type GestureTracker interface {
	OnStart(x, y, width, height float64)
	OnMove(x, y float64)
	OnEnd(x, y float64) bool
	Reset()
	Phase() gesture.Phase
}

// TapCounter is the part of the emergency counter the router drives.
type TapCounter interface {
	OnTap(nowMillis int64) bool
	Reset()
	Count() int
}

// Config bundles the tunables of one router.
type Config struct {
	Gesture         gesture.Config
	Emergency       emergency.Config
	EmergencyRegion Region
}

// DefaultConfig returns the stock layout.
func DefaultConfig() Config {
	return Config{
		Gesture:         gesture.DefaultConfig(),
		Emergency:       emergency.DefaultConfig(),
		EmergencyRegion: DefaultEmergencyRegion(),
	}
}

type engagement uint8

const (
	engagedNone engagement = iota
	engagedGesture
	engagedEmergency
)

// Router is not safe for concurrent use.
type Router struct {
	gesture GestureTracker
	taps    TapCounter
	region  Region
	clock   Clock

	observer Observer
	logger   *slog.Logger

	surface  gesture.Surface
	engaged  engagement
	furthest gesture.Phase
	downAt   int64
	due      bool
}

// Option configures a Router.
type Option func(*Router)

// WithClock sets the clock used for tap timing and signal timestamps.
func WithClock(c Clock) Option {
	return func(r *Router) { r.clock = c }
}

// WithObserver registers an observer for finished attempts.
func WithObserver(o Observer) Option {
	return func(r *Router) { r.observer = o }
}

// WithLogger sets the logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithRegion overrides the emergency region.
func WithRegion(region Region) Option {
	return func(r *Router) { r.region = region }
}

// New builds a router over the given components.
func New(g GestureTracker, t TapCounter, opts ...Option) *Router {
	r := &Router{
		gesture: g,
		taps:    t,
		region:  DefaultEmergencyRegion(),
		clock:   NewMonotonicClock(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// NewFromConfig builds a router with a fresh classifier and counter.
func NewFromConfig(cfg Config, opts ...Option) *Router {
	opts = append([]Option{WithRegion(cfg.EmergencyRegion)}, opts...)
	return New(gesture.NewClassifier(cfg.Gesture), emergency.NewCounter(cfg.Emergency), opts...)
}

// SetSurface records the current surface size. It takes effect at the next
// pointer-down; a gesture in progress keeps the size it started with.
func (r *Router) SetSurface(width, height float64) {
	r.surface = gesture.Surface{Width: width, Height: height}
}

// Surface returns the last size given to SetSurface.
func (r *Router) Surface() gesture.Surface {
	return r.surface
}

// Phase returns the classifier phase of the gesture in progress.
func (r *Router) Phase() gesture.Phase {
	if r.engaged != engagedGesture {
		return gesture.PhaseIdle
	}
	return r.gesture.Phase()
}

// Tracking reports whether a touch is in progress.
func (r *Router) Tracking() bool {
	return r.engaged != engagedNone
}

// EmergencyTaps returns the current emergency run length.
func (r *Router) EmergencyTaps() int {
	return r.taps.Count()
}

// Dispatch routes e to the matching pointer method.
func (r *Router) Dispatch(e Event) (Signal, bool) {
	switch e.Action {
	case ActionDown:
		return r.PointerDown(e.X, e.Y)
	case ActionMove:
		return r.PointerMove(e.X, e.Y)
	case ActionUp:
		return r.PointerUp(e.X, e.Y)
	case ActionCancel:
		return r.PointerCancel(e.X, e.Y)
	default:
		r.logger.Debug("ignoring unknown pointer action", "action", e.Action)
		return Signal{}, false
	}
}

// PointerDown binds a new touch. It never unlocks by itself; an emergency
// run that reaches its threshold unlocks when the touch ends.
func (r *Router) PointerDown(x, y float64) (Signal, bool) {
	if r.engaged != engagedNone {
		r.logger.Debug("pointer down while tracking, abandoning touch")
		r.abandon()
	}

	r.downAt = r.clock.NowMillis()

	if r.region.Contains(r.surface, x, y) {
		r.engaged = engagedEmergency
		if r.taps.OnTap(r.downAt) {
			r.due = true
		}
		r.observe(Attempt{Outcome: OutcomeTap, Taps: r.taps.Count(), Start: r.downAt, End: r.downAt})
		return Signal{}, false
	}

	r.engaged = engagedGesture
	r.gesture.OnStart(x, y, r.surface.Width, r.surface.Height)
	r.furthest = r.gesture.Phase()
	return Signal{}, false
}

// PointerMove forwards a move to the gesture in progress, if any.
func (r *Router) PointerMove(x, y float64) (Signal, bool) {
	if r.engaged == engagedGesture {
		r.gesture.OnMove(x, y)
		r.track()
	}
	return Signal{}, false
}

// PointerUp ends the touch. A completed gesture or a due emergency run
// yields the unlock signal. The classifier is reset either way.
func (r *Router) PointerUp(x, y float64) (Signal, bool) {
	switch r.engaged {
	case engagedGesture:
		completed := r.gesture.OnEnd(x, y)
		r.track()
		r.gesture.Reset()
		r.engaged = engagedNone

		now := r.clock.NowMillis()
		if !completed {
			r.observe(Attempt{Outcome: OutcomeRejected, Furthest: r.furthest, Start: r.downAt, End: now})
			return Signal{}, false
		}
		r.observe(Attempt{Outcome: OutcomeCompleted, Furthest: r.furthest, Start: r.downAt, End: now})
		r.logger.Info("unlock gesture recognized")
		return Signal{Source: SourceGesture, At: now}, true

	case engagedEmergency:
		return r.endTap()
	}
	return Signal{}, false
}

// PointerCancel ends the touch without evaluating the gesture, even if the
// geometry would have completed it.
func (r *Router) PointerCancel(x, y float64) (Signal, bool) {
	switch r.engaged {
	case engagedGesture:
		r.abandon()
	case engagedEmergency:
		return r.endTap()
	}
	return Signal{}, false
}

// Reset drops any touch in progress and the emergency run.
func (r *Router) Reset() {
	r.gesture.Reset()
	r.taps.Reset()
	r.engaged = engagedNone
	r.furthest = gesture.PhaseIdle
	r.due = false
}

func (r *Router) endTap() (Signal, bool) {
	r.engaged = engagedNone
	if !r.due {
		return Signal{}, false
	}

	taps := r.taps.Count()
	r.due = false
	r.taps.Reset()

	now := r.clock.NowMillis()
	r.observe(Attempt{Outcome: OutcomeEmergencyUnlock, Taps: taps, Start: r.downAt, End: now})
	r.logger.Warn("emergency exit used", "taps", taps)
	return Signal{Source: SourceEmergency, At: now}, true
}

func (r *Router) abandon() {
	switch r.engaged {
	case engagedGesture:
		r.gesture.Reset()
		r.observe(Attempt{Outcome: OutcomeCancelled, Furthest: r.furthest, Start: r.downAt, End: r.clock.NowMillis()})
	case engagedEmergency:
		// a tap already counted at down; a pending unlock is dropped with the touch
		r.due = false
	}
	r.engaged = engagedNone
}

func (r *Router) track() {
	if p := r.gesture.Phase(); p > r.furthest {
		r.furthest = p
	}
}

func (r *Router) observe(a Attempt) {
	if r.observer != nil {
		r.observer.Observe(a)
	}
}
