// Package msgsess contains the datagram message definitions, and the methods to encode and decode them.
//
// Every message fits a single UDP datagram; nothing is fragmented or reassembled.
// Message interface definitions are sealed within this package.
package msgsess

import (
	"fmt"
	"net/netip"
)

type Message interface {
	Type() MessageType

	// Sender returns the PeerId the message claims to be from.
	//
	// This is never used as an address, the observed source of the datagram is.
	Sender() string

	// todo maybe convert to slog.Group?
	Debug() string

	appendPayload(b []byte) ([]byte, error)
}

// Member is a (PeerId, endpoint) pair, as carried by PeerList and MemberResponse.
type Member struct {
	ID       string
	Endpoint netip.AddrPort
}

func (m Member) String() string {
	return fmt.Sprintf("%s@%s", m.ID, m.Endpoint)
}
