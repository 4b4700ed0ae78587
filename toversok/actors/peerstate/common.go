package peerstate

import (
	"context"
	"log/slog"
	"net/netip"

	"github.com/edup2p/punchline/types"
	"github.com/edup2p/punchline/types/msgsess"
)

type StateCommon struct {
	h    Host
	peer string
}

func (sc *StateCommon) Peer() string {
	return sc.peer
}

// ackPunch answers a Punch, regardless of the state we're in.
func (sc *StateCommon) ackPunch(ap netip.AddrPort, m msgsess.Message) {
	if _, ok := m.(*msgsess.Punch); ok {
		sc.h.SendTo(ap, &msgsess.PunchAck{From: sc.h.Self()})
	}
}

func (sc *StateCommon) establish() *Established {
	return &Established{
		StateCommon:   sc,
		lastHeartbeat: sc.h.Now(),
	}
}

// L stands for Log
func L(s PeerState) *slog.Logger {
	return slog.With("peer", s.Peer(), "state", s.Name().String())
}

func LogTransition(from PeerState, to PeerState) PeerState {
	L(from).Log(context.Background(), types.LevelTrace, "transitioning state", "to-state", to.Name().String())

	return to
}

func LogDirectMessage(s PeerState, ap netip.AddrPort, m msgsess.Message) {
	L(s).Log(context.Background(), types.LevelTrace, "received direct message",
		"from", ap,
		"msg", m.Debug(),
	)
}
