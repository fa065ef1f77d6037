//go:build !linux

package ipc

import (
	"fmt"
	"net"
)

// PeerCredentials holds the verified identity of a local IPC peer.
// Non-Linux platforms have no portable standard-library equivalent of
// SO_PEERCRED wired into this module; the surfacehost listener still
// relies on filesystem permissions on the socket/pipe path plus the
// HMAC session handshake for the local-only trust boundary.
type PeerCredentials struct {
	PID int
	UID uint32
	GID uint32
}

// GetPeerCredentials always reports an unknown peer on this platform.
func GetPeerCredentials(conn net.Conn) (*PeerCredentials, error) {
	return &PeerCredentials{}, nil
}

// IdentityKey returns "pid:<PID>" as the rate-limiter identity key since
// a verified UID is unavailable; GetPeerCredentials leaves PID at 0 here,
// so all peers share one key.
func (p *PeerCredentials) IdentityKey() string {
	return fmt.Sprintf("pid:%d", p.PID)
}
