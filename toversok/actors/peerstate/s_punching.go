package peerstate

import (
	"context"
	"net/netip"
	"time"

	"github.com/edup2p/punchline/toversok/registry"
	"github.com/edup2p/punchline/types"
	"github.com/edup2p/punchline/types/msgsess"
)

type Punching struct {
	*StateCommon

	lastPunch time.Time
}

func (p *Punching) Name() registry.State {
	return registry.Punching
}

func (p *Punching) OnTick() PeerState {
	t := p.h.Timing()

	if p.h.Now().Sub(p.lastPunch) < t.PunchInterval {
		return nil
	}

	if rec, ok := p.h.Record(p.peer); !ok || rec.PunchAttempts >= t.MaxPunchAttempts {
		L(p).Info("peer unreachable, giving up punching", "attempts", rec.PunchAttempts)

		return LogTransition(p, &Stale{StateCommon: p.StateCommon, Reason: ReasonUnreachable})
	}

	p.punch()

	return nil
}

func (p *Punching) OnDirect(ap netip.AddrPort, m msgsess.Message) PeerState {
	LogDirectMessage(p, ap, m)

	p.ackPunch(ap, m)

	return LogTransition(p, p.establish())
}

func (p *Punching) punch() {
	attempt := p.h.Punch(p.peer)
	p.lastPunch = p.h.Now()

	L(p).Log(context.Background(), types.LevelTrace, "sent punch", "attempt", attempt)
}
