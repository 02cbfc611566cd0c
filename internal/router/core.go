package router

import (
	"screenguard/internal/emergency"
	"screenguard/internal/gesture"
)

// Core exposes the classifier and counter as flat calls for bridge code that
// does its own hit testing and timing.
type Core struct {
	classifier *gesture.Classifier
	counter    *emergency.Counter
}

// NewCore creates a classifier/counter pair.
func NewCore(cfg Config) *Core {
	return &Core{
		classifier: gesture.NewClassifier(cfg.Gesture),
		counter:    emergency.NewCounter(cfg.Emergency),
	}
}

// StartGesture begins a gesture attempt on a surface of the given size.
func (c *Core) StartGesture(x, y, surfaceWidth, surfaceHeight float64) {
	c.classifier.OnStart(x, y, surfaceWidth, surfaceHeight)
}

// MoveGesture feeds one move sample.
func (c *Core) MoveGesture(x, y float64) {
	c.classifier.OnMove(x, y)
}

// EndGesture feeds the lift-off sample and reports completion.
func (c *Core) EndGesture(x, y float64) bool {
	return c.classifier.OnEnd(x, y)
}

// ResetGesture returns the classifier to idle.
func (c *Core) ResetGesture() {
	c.classifier.Reset()
}

// GesturePhase returns the classifier phase.
func (c *Core) GesturePhase() gesture.Phase {
	return c.classifier.Phase()
}

// TapEmergency records an emergency tap and reports whether it unlocks.
func (c *Core) TapEmergency(nowMillis int64) bool {
	return c.counter.OnTap(nowMillis)
}

// ResetEmergency forgets the emergency run.
func (c *Core) ResetEmergency() {
	c.counter.Reset()
}

// EmergencyTaps returns the current emergency run length.
func (c *Core) EmergencyTaps() int {
	return c.counter.Count()
}
