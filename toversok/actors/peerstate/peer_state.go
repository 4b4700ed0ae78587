// Package peerstate contains the state machine that drives a direct path to a single peer.
//
// A peer starts out Discovered, and is punched on the next tick. Punches are repeated every PunchInterval
// until anything at all is received from the peer, at which point it is Established and kept alive with
// heartbeats. A peer that never answers within MaxPunchAttempts, or that falls silent for StaleTimeout
// once established, becomes Stale. Only inbound traffic or a fresh rediscovery moves it on again.
//
// Every state replies to a Punch with a PunchAck, so that both sides of a punch converge.
package peerstate

import (
	"net/netip"
	"time"

	"github.com/edup2p/punchline/toversok/registry"
	"github.com/edup2p/punchline/types/msgsess"
)

// This state pattern was inspired by https://refactoring.guru/design-patterns/state/go/example

// PeerState defines an interface with which a PeerState can be driven.
//
// The PeerState return value is effectively a nullable; if its nil, then keep the current state.
// If it's non-nil, replace the state for the peer with the state returned.
type PeerState interface {
	OnTick() PeerState
	OnDirect(ap netip.AddrPort, m msgsess.Message) PeerState

	// Name returns the registry state this state represents.
	Name() registry.State

	// Peer returns the peer for which this state is being managed for.
	Peer() string
}

// Timing holds the intervals and limits the states work with.
type Timing struct {
	PunchInterval     time.Duration
	MaxPunchAttempts  int
	HeartbeatInterval time.Duration
	StaleTimeout      time.Duration
}

// Host is the PeerManager, as seen by the states.
type Host interface {
	Now() time.Time

	Self() string

	Timing() Timing

	Record(peer string) (registry.Record, bool)

	// Punch sends a Punch to the peer's known endpoint, and returns the attempts made so far.
	Punch(peer string) int

	SendTo(ap netip.AddrPort, m msgsess.Message)
}
