package actors

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/edup2p/punchline/types"
	"github.com/edup2p/punchline/types/ifaces"
	"github.com/edup2p/punchline/types/msgactor"
)

type MockActor struct {
	ctx context.Context

	run    func()
	inbox  func() chan<- msgactor.ActorMessage
	cancel func()
	close  func()
}

func (m *MockActor) Run() {
	m.run()
}

func (m *MockActor) Inbox() chan<- msgactor.ActorMessage {
	return m.inbox()
}

func (m *MockActor) Ctx() context.Context {
	return m.ctx
}

func (m *MockActor) Cancel() {
	m.cancel()
}

func (m *MockActor) Close() {
	m.close()
}

type MockDirectManager struct {
	*MockActor

	writeTo func(pkt []byte, addr netip.AddrPort)
}

func (m *MockDirectManager) WriteTo(pkt []byte, addr netip.AddrPort) {
	m.writeTo(pkt, addr)
}

type MockPeerManager struct {
	*MockActor

	push func(frame ifaces.DirectedPeerFrame)
}

func (m *MockPeerManager) Poke() {}

func (m *MockPeerManager) Push(frame ifaces.DirectedPeerFrame) {
	m.push(frame)
}

func (m *MockPeerManager) Chats() <-chan types.ChatEvent {
	return nil
}

func (m *MockPeerManager) Notices() <-chan types.PeerNotice {
	return nil
}

type mockDatagram struct {
	pkt  []byte
	addr netip.AddrPort
}

// MockUDPConn hands out datagrams from readCh, and puts writes on writeCh.
// After Close, reads and writes fail with net.ErrClosed.
type MockUDPConn struct {
	readCh  chan mockDatagram
	writeCh chan mockDatagram

	closed    chan struct{}
	closeOnce sync.Once
}

func newMockUDPConn() *MockUDPConn {
	return &MockUDPConn{
		readCh:  make(chan mockDatagram),
		writeCh: make(chan mockDatagram, 16),
		closed:  make(chan struct{}),
	}
}

func (m *MockUDPConn) SetReadDeadline(time.Time) error {
	return nil
}

func (m *MockUDPConn) ReadFromUDPAddrPort(b []byte) (int, netip.AddrPort, error) {
	select {
	case d := <-m.readCh:
		return copy(b, d.pkt), d.addr, nil
	case <-m.closed:
		return 0, netip.AddrPort{}, net.ErrClosed
	}
}

func (m *MockUDPConn) WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error) {
	select {
	case <-m.closed:
		return 0, net.ErrClosed
	default:
	}

	select {
	case <-m.closed:
		return 0, net.ErrClosed
	case m.writeCh <- mockDatagram{pkt: b, addr: addr}:
		return len(b), nil
	}
}

func (m *MockUDPConn) LocalAddr() net.Addr {
	return net.UDPAddrFromAddrPort(dummyAddrPort)
}

func (m *MockUDPConn) Close() error {
	m.closeOnce.Do(func() { close(m.closed) })
	return nil
}
