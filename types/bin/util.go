package bin

import (
	"encoding/binary"
	"net/netip"
	"slices"
)

// AddrPortLen is the wire size of an endpoint: a 16 byte address and a 2 byte port.
const AddrPortLen = 18

// AppendUint16 appends an uint16 in big-endian order to b.
func AppendUint16(b []byte, v uint16) []byte {
	return binary.BigEndian.AppendUint16(b, v)
}

// Uint16 reads an uint16 in big-endian order from the first two bytes of b.
func Uint16(b []byte) uint16 {
	return binary.BigEndian.Uint16(b)
}

func ParseAddrPort(b [AddrPortLen]byte) netip.AddrPort {
	addr := netip.AddrFrom16([16]byte(b[:16])).Unmap()

	port := binary.BigEndian.Uint16(b[16:])

	return netip.AddrPortFrom(addr, port)
}

// PutAddrPort returns the 18 byte form of ap, IPv4 addresses are stored v4-mapped.
func PutAddrPort(ap netip.AddrPort) []byte {
	port := make([]byte, 2)

	as16 := ap.Addr().As16()
	binary.BigEndian.PutUint16(port, ap.Port())

	return slices.Concat(as16[:], port)
}
