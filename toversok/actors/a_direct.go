package actors

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/edup2p/punchline/types"
	"github.com/edup2p/punchline/types/ifaces"
)

type directWriteRequest struct {
	to  netip.AddrPort
	pkt []byte
}

// DirectManager owns the socket: it does every write, and forwards everything SockRecv reads to the PeerManager.
type DirectManager struct {
	*ActorCommon

	sock *SockRecv
	s    *Stage

	writeCh chan directWriteRequest
}

func (s *Stage) makeDM(udp types.UDPConn) *DirectManager {
	return &DirectManager{
		ActorCommon: MakeCommon(s.Ctx, -1),
		sock:        MakeSockRecv(s.Ctx, udp),
		s:           s,
		writeCh:     make(chan directWriteRequest, DirectManWriteChLen),
	}
}

func (dm *DirectManager) Run() {
	defer func() {
		if v := recover(); v != nil {
			L(dm).Error("panicked", "panic", v)
			dm.s.failed(fmt.Errorf("%w: direct manager: %v", ErrActorPanicked, v))
			dm.Cancel()
			dm.Close()
		}
	}()

	if !dm.running.CheckOrMark() {
		L(dm).Warn("tried to run agent, while already running")
		return
	}

	go dm.sock.Run()

	for {
		select {
		case <-dm.ctx.Done():
			dm.Close()
			return
		case req := <-dm.writeCh:
			if _, err := dm.sock.Conn.WriteToUDPAddrPort(req.pkt, req.to); err != nil {
				if errors.Is(err, net.ErrClosed) {
					continue
				}
				L(dm).Warn("error writing to socket", "to", req.to, "error", err)
			}
		case frame, ok := <-dm.sock.outCh:
			if !ok {
				// SockRecv died, we can't do anything without it.
				dm.s.failed(ErrSocketClosed)
				dm.Cancel()
				dm.Close()
				return
			}

			dm.s.PMan.Push(ifaces.DirectedPeerFrame{
				SrcAddrPort: frame.src,
				Pkt:         frame.pkt,
			})
		}
	}
}

// Close closes the socket, and waits for SockRecv to hand back its frame channel.
func (dm *DirectManager) Close() {
	dm.sock.Cancel()

	// unblocks the pending read
	if err := dm.sock.Conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		L(dm).Debug("error closing socket", "err", err)
	}

	for range dm.sock.outCh {
		// drain
	}
}

// WriteTo queues a UDP write request to a certain addr-port pair.
//
// Will be called by other actors. It never blocks; when the queue is full, the packet is dropped.
func (dm *DirectManager) WriteTo(pkt []byte, addr netip.AddrPort) {
	select {
	case dm.writeCh <- directWriteRequest{
		to:  addr,
		pkt: pkt,
	}:
	default:
		L(dm).Warn("write queue full, dropping packet", "to", addr)
	}
}

// LocalAddr returns the local address of the socket.
func (dm *DirectManager) LocalAddr() net.Addr {
	return dm.sock.Conn.LocalAddr()
}
