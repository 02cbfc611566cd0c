package gesture

// Classifier is the in-place form of the recognizer. One instance lives for
// an overlay activation and is reused across attempts through Reset.
//
// A Classifier is not safe for concurrent use; pointer events for one
// surface are delivered from a single goroutine.
type Classifier struct {
	cfg   Config
	state State
}

// NewClassifier creates an idle classifier using cfg.
func NewClassifier(cfg Config) *Classifier {
	return &Classifier{cfg: cfg, state: NewState()}
}

// OnStart begins a new attempt, discarding any previous one.
func (c *Classifier) OnStart(x, y, width, height float64) {
	c.state = Begin(c.cfg, Surface{Width: width, Height: height}, Sample{X: x, Y: y})
}

// OnMove feeds one move sample. It is a no-op while idle.
func (c *Classifier) OnMove(x, y float64) {
	c.state = Advance(c.cfg, c.state, Sample{X: x, Y: y})
}

// OnEnd feeds the lift-off sample and reports completion.
func (c *Classifier) OnEnd(x, y float64) bool {
	c.state = Finish(c.cfg, c.state, Sample{X: x, Y: y})
	return c.IsComplete()
}

// Reset returns the classifier to the state of a fresh instance.
func (c *Classifier) Reset() {
	c.state = NewState()
}

// IsComplete reports whether the current attempt has completed.
func (c *Classifier) IsComplete() bool {
	return c.state.Complete()
}

// Phase returns the current phase.
func (c *Classifier) Phase() Phase {
	return c.state.Phase
}

// State returns a copy of the current state.
func (c *Classifier) State() State {
	return c.state
}

// Config returns the zone configuration in use.
func (c *Classifier) Config() Config {
	return c.cfg
}
