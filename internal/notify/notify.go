// Package notify tells the rest of the desktop that the overlay changed
// state. On Linux the daemon owns a session-bus name and emits signals;
// elsewhere, or when disabled, notifications are only logged.
package notify

import (
	"io"
	"log/slog"

	"screenguard/internal/router"
)

// Bus names used on the session bus.
const (
	BusName   = "org.screenguard.Overlay"
	Interface = "org.screenguard.Overlay"
	Path      = "/org/screenguard/Overlay"
)

// Notifier broadcasts overlay transitions.
type Notifier interface {
	Activated() error
	Unlocked(sig router.Signal) error
	Close() error
}

// StatusFunc reports whether the overlay is active. The bus object serves it
// to callers of IsActive.
type StatusFunc func() bool

// New returns the platform notifier, or a log-only one when disabled or when
// the platform notifier cannot start.
func New(enabled bool, status StatusFunc, logger *slog.Logger) Notifier {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if !enabled {
		return NewLog(logger)
	}
	n, err := newPlatform(status, logger)
	if err != nil {
		logger.Warn("bus notifier unavailable, logging only", "error", err)
		return NewLog(logger)
	}
	return n
}

// Log is a Notifier that only writes log records.
type Log struct {
	logger *slog.Logger
}

// NewLog returns a log-only notifier.
func NewLog(logger *slog.Logger) *Log {
	return &Log{logger: logger}
}

func (l *Log) Activated() error {
	l.logger.Info("overlay activated")
	return nil
}

func (l *Log) Unlocked(sig router.Signal) error {
	l.logger.Info("overlay unlocked", "source", sig.Source.String(), "at_ms", sig.At)
	return nil
}

func (l *Log) Close() error { return nil }
