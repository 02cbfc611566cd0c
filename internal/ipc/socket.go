//go:build unix

package ipc

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// PeerCredentials holds the credentials of a peer process.
type PeerCredentials struct {
	PID int
	UID int
	GID int
}

// CleanupSocket removes a stale socket file. A non-socket file at path is
// left alone and reported.
func CleanupSocket(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSocket != 0 {
		return os.Remove(path)
	}
	return fmt.Errorf("path exists but is not a socket: %s", path)
}

// IsSocketListening reports whether something accepts connections at path.
func IsSocketListening(path string) bool {
	conn, err := net.DialTimeout("unix", path, time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// ErrLocked is returned by AcquirePidLock when another process holds the lock.
var ErrLocked = errors.New("ipc: pid file is locked by another process")

// PidLock is an exclusive advisory lock on a pid file. It keeps a second
// daemon from starting against the same runtime directory.
type PidLock struct {
	path string
	f    *os.File
}

// AcquirePidLock locks path and writes the current pid into it.
func AcquirePidLock(path string) (*PidLock, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create pid directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open pid file: %w", err)
	}

	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, ErrLocked
		}
		return nil, fmt.Errorf("lock pid file: %w", err)
	}

	if err := f.Truncate(0); err != nil {
		f.Close()
		return nil, fmt.Errorf("truncate pid file: %w", err)
	}
	if _, err := f.WriteAt([]byte(strconv.Itoa(os.Getpid())+"\n"), 0); err != nil {
		f.Close()
		return nil, fmt.Errorf("write pid file: %w", err)
	}
	return &PidLock{path: path, f: f}, nil
}

// ReadPid returns the pid recorded in a pid file.
func ReadPid(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// Release removes the pid file and drops the lock.
func (l *PidLock) Release() error {
	os.Remove(l.path)
	unix.Flock(int(l.f.Fd()), unix.LOCK_UN)
	return l.f.Close()
}
