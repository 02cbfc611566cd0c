// Package overlay manages the lock overlay lifecycle.
//
// A Service is either idle or active. Start creates a fresh router from the
// current configuration; pointer events fed through Handle go to that router
// until it emits an unlock signal, which tears the activation down and runs
// the unlock handlers. The Service is safe for concurrent use: the window,
// the control socket and signal handlers may all call into it.
package overlay

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"screenguard/internal/gesture"
	"screenguard/internal/router"
)

var (
	// ErrAlreadyActive is returned by Start while an activation is running.
	ErrAlreadyActive = errors.New("overlay: already active")

	// ErrNotActive is returned by Stop and Handle while idle.
	ErrNotActive = errors.New("overlay: not active")
)

// Status is a point-in-time view of the service.
type Status struct {
	Active        bool            `json:"active"`
	Phase         string          `json:"phase"`
	EmergencyTaps int             `json:"emergency_taps"`
	Required      int             `json:"required_taps"`
	Surface       gesture.Surface `json:"surface"`
	Since         time.Time       `json:"since,omitzero"`
	Activations   uint64          `json:"activations"`
	Unlocks       uint64          `json:"unlocks"`
}

// UnlockHandler runs after an activation ends with an unlock.
type UnlockHandler func(router.Signal)

// Service owns at most one active router.
type Service struct {
	mu sync.Mutex

	cfg      router.Config
	surface  gesture.Surface
	clock    router.Clock
	observer router.Observer
	logger   *slog.Logger

	active    *router.Router
	activeCfg router.Config
	since     time.Time

	activations uint64
	unlocks     uint64

	onUnlock   []UnlockHandler
	onActivate []func()
	onStop     []func()
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger. The default discards output.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithObserver forwards attempt summaries from every activation.
func WithObserver(o router.Observer) Option {
	return func(s *Service) { s.observer = o }
}

// WithClock sets the clock handed to each activation's router.
func WithClock(c router.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// New returns an idle service.
func New(cfg router.Config, opts ...Option) *Service {
	s := &Service{
		cfg:    cfg,
		clock:  router.NewMonotonicClock(),
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetConfig replaces the tuning. A running activation keeps the
// configuration it started with.
func (s *Service) SetConfig(cfg router.Config) {
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	s.logger.Debug("overlay configuration updated")
}

// Config returns the tuning used by the next activation.
func (s *Service) Config() router.Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// OnUnlock registers a handler. Handlers run without the service lock held,
// so they may call back into the service.
func (s *Service) OnUnlock(fn UnlockHandler) {
	s.mu.Lock()
	s.onUnlock = append(s.onUnlock, fn)
	s.mu.Unlock()
}

// OnActivate registers a handler run after each successful Start.
func (s *Service) OnActivate(fn func()) {
	s.mu.Lock()
	s.onActivate = append(s.onActivate, fn)
	s.mu.Unlock()
}

// OnStop registers a handler run after Stop hides the overlay.
func (s *Service) OnStop(fn func()) {
	s.mu.Lock()
	s.onStop = append(s.onStop, fn)
	s.mu.Unlock()
}

// Start shows the overlay. A second Start is a no-op reporting
// ErrAlreadyActive.
func (s *Service) Start() error {
	s.mu.Lock()
	if s.active != nil {
		s.mu.Unlock()
		return ErrAlreadyActive
	}

	opts := []router.Option{
		router.WithClock(s.clock),
		router.WithLogger(s.logger),
	}
	if s.observer != nil {
		opts = append(opts, router.WithObserver(s.observer))
	}
	r := router.NewFromConfig(s.cfg, opts...)
	r.SetSurface(s.surface.Width, s.surface.Height)

	s.active = r
	s.activeCfg = s.cfg
	s.since = time.Now()
	s.activations++
	handlers := append([]func(){}, s.onActivate...)
	s.mu.Unlock()

	s.logger.Info("overlay activated")
	for _, fn := range handlers {
		fn()
	}
	return nil
}

// Stop hides the overlay without unlocking.
func (s *Service) Stop() error {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return ErrNotActive
	}
	s.teardown()
	handlers := append([]func(){}, s.onStop...)
	s.mu.Unlock()

	s.logger.Info("overlay stopped")
	for _, fn := range handlers {
		fn()
	}
	return nil
}

// IsActive reports whether the overlay is shown.
func (s *Service) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active != nil
}

// Resize records the surface size, for the running activation and the
// next ones.
func (s *Service) Resize(width, height float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surface = gesture.Surface{Width: width, Height: height}
	if s.active != nil {
		s.active.SetSurface(width, height)
	}
}

// Handle feeds one pointer event to the active router. When it unlocks, the
// activation ends before the unlock handlers run.
func (s *Service) Handle(e router.Event) (router.Signal, bool, error) {
	s.mu.Lock()
	if s.active == nil {
		s.mu.Unlock()
		return router.Signal{}, false, ErrNotActive
	}

	sig, ok := s.active.Dispatch(e)
	if !ok {
		s.mu.Unlock()
		return sig, false, nil
	}

	s.unlocks++
	s.teardown()
	handlers := append([]UnlockHandler{}, s.onUnlock...)
	s.mu.Unlock()

	s.logger.Info("overlay unlocked", "source", sig.Source.String())
	for _, fn := range handlers {
		fn(sig)
	}
	return sig, true, nil
}

// Status returns the current state.
func (s *Service) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Active:      s.active != nil,
		Phase:       gesture.PhaseIdle.String(),
		Required:    s.cfg.Emergency.RequiredTaps,
		Surface:     s.surface,
		Activations: s.activations,
		Unlocks:     s.unlocks,
	}
	if s.active != nil {
		st.Phase = s.active.Phase().String()
		st.EmergencyTaps = s.active.EmergencyTaps()
		st.Required = s.activeCfg.Emergency.RequiredTaps
		st.Since = s.since
	}
	return st
}

func (s *Service) teardown() {
	s.active.Reset()
	s.active = nil
	s.since = time.Time{}
}
