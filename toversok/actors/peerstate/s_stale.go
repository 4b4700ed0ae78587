package peerstate

import (
	"net/netip"

	"github.com/edup2p/punchline/toversok/registry"
	"github.com/edup2p/punchline/types/msgsess"
)

const (
	ReasonUnreachable = "unreachable"
	ReasonTimedOut    = "timed out"
)

// Stale is a peer we gave up on; it does nothing until the peer speaks up, or gets rediscovered.
type Stale struct {
	*StateCommon

	Reason string
}

func (s *Stale) Name() registry.State {
	return registry.Stale
}

func (s *Stale) OnTick() PeerState {
	return nil
}

func (s *Stale) OnDirect(ap netip.AddrPort, m msgsess.Message) PeerState {
	LogDirectMessage(s, ap, m)

	s.ackPunch(ap, m)

	// Traffic proves the path works again.
	return LogTransition(s, s.establish())
}
