package trace

import (
	"fmt"
	"io"
	"log/slog"

	"screenguard/internal/gesture"
	"screenguard/internal/router"
)

// Result is the outcome of a replay.
type Result struct {
	Unlocked bool          `json:"unlocked"`
	Source   router.Source `json:"-"`
	At       int64         `json:"at_ms"`

	// Index is the event that produced the unlock, or -1.
	Index int `json:"index"`

	// FinalPhase is the classifier phase after the last replayed event.
	FinalPhase gesture.Phase `json:"-"`

	// EmergencyTaps is the emergency run length after the last replayed event.
	EmergencyTaps int `json:"emergency_taps"`

	Attempts []router.Attempt `json:"-"`

	// Mismatch describes how the result differs from the trace's
	// expectations. Empty when they match or when there are none.
	Mismatch string `json:"mismatch,omitempty"`
}

// SourceName returns the unlock source as text, "none" when locked.
func (r Result) SourceName() string {
	return r.Source.String()
}

// Run replays tr through a router built from cfg. Replay stops at the first
// unlock, as the overlay does. Event timestamps drive the router clock.
func Run(cfg router.Config, tr *Trace, logger *slog.Logger) (Result, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	var (
		now      int64
		attempts []router.Attempt
	)
	r := router.NewFromConfig(cfg,
		router.WithClock(router.ClockFunc(func() int64 { return now })),
		router.WithObserver(router.ObserverFunc(func(a router.Attempt) { attempts = append(attempts, a) })),
		router.WithLogger(logger),
	)
	r.SetSurface(tr.Surface.Width, tr.Surface.Height)

	res := Result{Index: -1}
	for i, ev := range tr.Events {
		action, err := router.ParseAction(ev.Action)
		if err != nil {
			return res, fmt.Errorf("event %d: %w", i, err)
		}
		now = ev.TMs

		sig, ok := r.Dispatch(router.Event{Action: action, X: ev.X, Y: ev.Y})
		res.FinalPhase = r.Phase()
		res.EmergencyTaps = r.EmergencyTaps()
		if ok {
			res.Unlocked = true
			res.Source = sig.Source
			res.At = sig.At
			res.Index = i
			break
		}
	}
	res.Attempts = attempts
	res.Mismatch = tr.check(res)
	return res, nil
}

func (tr *Trace) check(res Result) string {
	if tr.ExpectUnlock != nil && *tr.ExpectUnlock != res.Unlocked {
		if *tr.ExpectUnlock {
			return "expected an unlock, trace stayed locked"
		}
		return fmt.Sprintf("expected no unlock, unlocked by %s at event %d", res.Source, res.Index)
	}
	if tr.ExpectSource != "" && res.Unlocked && tr.ExpectSource != res.Source.String() {
		return fmt.Sprintf("expected unlock by %s, got %s", tr.ExpectSource, res.Source)
	}
	return ""
}
