//go:build unix && !linux && !darwin

package ipc

import (
	"errors"
	"net"
)

// GetPeerCredentials is unsupported on this platform; the socket mode is
// the only access control.
func GetPeerCredentials(net.Conn) (*PeerCredentials, error) {
	return nil, errors.New("peer credentials not supported on this platform")
}
