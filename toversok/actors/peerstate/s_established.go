package peerstate

import (
	"net/netip"
	"time"

	"github.com/edup2p/punchline/toversok/registry"
	"github.com/edup2p/punchline/types/msgsess"
)

type Established struct {
	*StateCommon

	lastHeartbeat time.Time
}

func (e *Established) Name() registry.State {
	return registry.Established
}

func (e *Established) OnTick() PeerState {
	rec, ok := e.h.Record(e.peer)
	if !ok {
		return nil
	}

	now := e.h.Now()
	t := e.h.Timing()

	if now.Sub(rec.LastSeen) > t.StaleTimeout {
		L(e).Info("peer went silent", "last-seen", rec.LastSeen)

		return LogTransition(e, &Stale{StateCommon: e.StateCommon, Reason: ReasonTimedOut})
	}

	if now.Sub(e.lastHeartbeat) >= t.HeartbeatInterval {
		e.h.SendTo(rec.Endpoint, &msgsess.Heartbeat{From: e.h.Self()})
		e.lastHeartbeat = now
	}

	return nil
}

func (e *Established) OnDirect(ap netip.AddrPort, m msgsess.Message) PeerState {
	LogDirectMessage(e, ap, m)

	e.ackPunch(ap, m)

	return nil
}
