package peerstate

import (
	"net/netip"

	"github.com/edup2p/punchline/toversok/registry"
	"github.com/edup2p/punchline/types/msgsess"
)

type Discovered struct {
	*StateCommon
}

func MakeDiscovered(h Host, peer string) PeerState {
	d := &Discovered{
		StateCommon: &StateCommon{h: h, peer: peer},
	}
	L(d).Debug("initialised")

	return d
}

func (d *Discovered) Name() registry.State {
	return registry.Discovered
}

func (d *Discovered) OnTick() PeerState {
	p := &Punching{StateCommon: d.StateCommon}
	p.punch()

	return LogTransition(d, p)
}

func (d *Discovered) OnDirect(ap netip.AddrPort, m msgsess.Message) PeerState {
	LogDirectMessage(d, ap, m)

	d.ackPunch(ap, m)

	return LogTransition(d, d.establish())
}
