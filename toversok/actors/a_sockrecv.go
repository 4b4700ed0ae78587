package actors

import (
	"context"
	"errors"
	"net"
	"net/netip"
	"slices"
	"time"

	"github.com/edup2p/punchline/types"
)

type RecvFrame struct {
	pkt []byte

	src netip.AddrPort
}

// SockRecv is the single receive path of a socket, it hands every datagram to whoever reads outCh.
type SockRecv struct {
	*ActorCommon

	Conn types.UDPConn

	outCh chan RecvFrame
}

func MakeSockRecv(pCtx context.Context, udp types.UDPConn) *SockRecv {
	return &SockRecv{
		Conn:  udp,
		outCh: make(chan RecvFrame, SockRecvFrameChanBuffer),

		ActorCommon: MakeCommon(pCtx, -1),
	}
}

func (r *SockRecv) Run() {
	defer func() {
		if v := recover(); v != nil {
			L(r).Error("panicked", "err", v)
			r.Cancel()
			r.Close()
		}
	}()

	if !r.running.CheckOrMark() {
		L(r).Warn("tried to run agent, while already running")
		return
	}

	var buf = make([]byte, 1<<16)

	for {
		if types.IsContextDone(r.ctx) {
			r.Close()
			return
		}

		if err := r.Conn.SetReadDeadline(time.Now().Add(SockRecvReadTimeout)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				r.Cancel()
				r.Close()
				return
			}
			L(r).Warn("could not set read deadline", "err", err)
		}

		n, ap, err := r.Conn.ReadFromUDPAddrPort(buf)

		if err != nil {
			var e net.Error
			switch {
			case errors.Is(err, net.ErrClosed):
				// The socket got closed under us, which is how the session shuts us down.
				r.Cancel()
				r.Close()
				return
			case errors.As(err, &e) && e.Timeout():
				continue
			default:
				// e.g. ICMP port unreachable surfacing on some platforms, the socket itself is fine.
				L(r).Debug("error reading from socket", "err", err)
				continue
			}
		}

		if n == 0 {
			continue
		}

		pkt := slices.Clone(buf[:n])

		select {
		case <-r.ctx.Done():
			r.Close()
			return
		case r.outCh <- RecvFrame{
			pkt: pkt,
			src: types.NormaliseAddrPort(ap),
		}:
			// fallthrough continue
		}
	}
}

func (r *SockRecv) Close() {
	if err := r.Conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		L(r).Debug("error closing socket", "err", err)
	}
	close(r.outCh)
}
