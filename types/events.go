package types

import (
	"fmt"
	"net/netip"
	"time"
)

// ChatEvent is a chat message received directly from a peer.
type ChatEvent struct {
	From     string
	Endpoint netip.AddrPort
	Text     string
	At       time.Time
}

// PeerNotice reports a state change of a peer.
type PeerNotice struct {
	Peer     string
	Endpoint netip.AddrPort

	From string
	To   string

	// Reason is set for demotions, e.g. "unreachable" after punching gave up.
	Reason string

	At time.Time
}

func (n PeerNotice) String() string {
	if n.Reason != "" {
		return fmt.Sprintf("%s (%s): %s -> %s (%s)", n.Peer, n.Endpoint, n.From, n.To, n.Reason)
	}
	return fmt.Sprintf("%s (%s): %s -> %s", n.Peer, n.Endpoint, n.From, n.To)
}

// PeerInfo is a snapshot of a registry record, as handed out to callers outside the actor that owns it.
type PeerInfo struct {
	ID       string
	Endpoint netip.AddrPort
	State    string
	LastSeen time.Time

	PunchAttempts int
}
