//go:build !linux

package notify

import (
	"errors"
	"log/slog"
)

func newPlatform(StatusFunc, *slog.Logger) (Notifier, error) {
	return nil, errors.New("session bus notifications are only supported on linux")
}
