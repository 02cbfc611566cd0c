package router

import (
	"fmt"
	"strings"

	"screenguard/internal/gesture"
)

// Action is the kind of pointer event.
type Action uint8

const (
	ActionDown Action = iota
	ActionMove
	ActionUp
	ActionCancel
)

// String returns the lower-case action name.
func (a Action) String() string {
	switch a {
	case ActionDown:
		return "down"
	case ActionMove:
		return "move"
	case ActionUp:
		return "up"
	case ActionCancel:
		return "cancel"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// ParseAction parses an action name as written by String.
func ParseAction(s string) (Action, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "down":
		return ActionDown, nil
	case "move":
		return ActionMove, nil
	case "up":
		return ActionUp, nil
	case "cancel":
		return ActionCancel, nil
	default:
		return 0, fmt.Errorf("unknown pointer action: %q", s)
	}
}

// Event is a raw pointer event in surface coordinates.
type Event struct {
	Action Action
	X, Y   float64
}

// Source identifies what produced an unlock.
type Source uint8

const (
	SourceGesture Source = iota + 1
	SourceEmergency
)

// String returns the lower-case source name.
func (s Source) String() string {
	switch s {
	case SourceGesture:
		return "gesture"
	case SourceEmergency:
		return "emergency"
	default:
		return "none"
	}
}

// Signal is the unlock signal. At is the clock reading in milliseconds.
type Signal struct {
	Source Source
	At     int64
}

// Outcome classifies a finished touch.
type Outcome uint8

const (
	OutcomeCompleted Outcome = iota + 1
	OutcomeRejected
	OutcomeCancelled
	OutcomeTap
	OutcomeEmergencyUnlock
)

// String returns the outcome name used in logs and the journal.
func (o Outcome) String() string {
	switch o {
	case OutcomeCompleted:
		return "gesture_completed"
	case OutcomeRejected:
		return "gesture_rejected"
	case OutcomeCancelled:
		return "gesture_cancelled"
	case OutcomeTap:
		return "emergency_tap"
	case OutcomeEmergencyUnlock:
		return "emergency_unlock"
	default:
		return "unknown"
	}
}

// Attempt summarizes one touch for observers.
type Attempt struct {
	Outcome Outcome

	// Furthest is the most advanced phase seen during a gesture touch.
	Furthest gesture.Phase

	// Taps is the emergency run length after an emergency tap.
	Taps int

	// Start and End are clock readings in milliseconds.
	Start, End int64
}

// Observer receives attempt summaries. It is called synchronously from the
// pointer event that finished the attempt.
type Observer interface {
	Observe(Attempt)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Attempt)

// Observe calls f.
func (f ObserverFunc) Observe(a Attempt) { f(a) }

// Observers fans one attempt out to several observers in order. Nil entries
// are skipped.
type Observers []Observer

// Observe calls every observer.
func (obs Observers) Observe(a Attempt) {
	for _, o := range obs {
		if o != nil {
			o.Observe(a)
		}
	}
}
