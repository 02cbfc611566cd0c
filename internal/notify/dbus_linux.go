//go:build linux

package notify

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/godbus/dbus/v5"

	"screenguard/internal/router"
)

// DBus emits overlay signals on the session bus.
type DBus struct {
	conn   *dbus.Conn
	logger *slog.Logger
}

type busObject struct {
	status StatusFunc
}

// IsActive is exported on the bus.
func (o *busObject) IsActive() (bool, *dbus.Error) {
	if o.status == nil {
		return false, nil
	}
	return o.status(), nil
}

func newPlatform(status StatusFunc, logger *slog.Logger) (Notifier, error) {
	if os.Getenv("DBUS_SESSION_BUS_ADDRESS") == "" {
		return nil, errors.New("no session bus address")
	}
	return NewDBus(status, logger)
}

// NewDBus connects to the session bus and claims BusName.
func NewDBus(status StatusFunc, logger *slog.Logger) (*DBus, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}

	reply, err := conn.RequestName(BusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("request bus name: %w", err)
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		conn.Close()
		return nil, fmt.Errorf("bus name %s already taken", BusName)
	}

	if err := conn.Export(&busObject{status: status}, Path, Interface); err != nil {
		conn.Close()
		return nil, fmt.Errorf("export bus object: %w", err)
	}

	logger.Info("registered on session bus", "name", BusName)
	return &DBus{conn: conn, logger: logger}, nil
}

// Activated emits Interface.Activated.
func (d *DBus) Activated() error {
	if err := d.conn.Emit(Path, Interface+".Activated"); err != nil {
		return fmt.Errorf("emit Activated: %w", err)
	}
	return nil
}

// Unlocked emits Interface.Unlocked with the source name and clock reading.
func (d *DBus) Unlocked(sig router.Signal) error {
	if err := d.conn.Emit(Path, Interface+".Unlocked", sig.Source.String(), sig.At); err != nil {
		return fmt.Errorf("emit Unlocked: %w", err)
	}
	return nil
}

// Close releases the name and the connection.
func (d *DBus) Close() error {
	d.conn.ReleaseName(BusName)
	return d.conn.Close()
}
