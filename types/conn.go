package types

import (
	"net"
	"net/netip"
	"time"
)

// UDPConn is the part of *net.UDPConn that the socket actors and the rendezvous server use,
// so that tests can substitute it.
type UDPConn interface {
	SetReadDeadline(t time.Time) error

	ReadFromUDPAddrPort(b []byte) (n int, addr netip.AddrPort, err error)

	WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error)

	LocalAddr() net.Addr

	Close() error
}

// ListenUDP binds an UDP socket on all interfaces at port; port 0 picks a random port.
//
// The socket is dual-stack where the host supports it, IPv4-only otherwise.
func ListenUDP(port uint16) (*net.UDPConn, error) {
	return net.ListenUDP("udp", &net.UDPAddr{Port: int(port)})
}
