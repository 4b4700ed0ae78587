// Package stun builds and parses STUN binding requests and responses, so that a client can learn the
// public endpoint of its own socket, and a server can answer for it.
package stun

import (
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/pion/stun"

	"github.com/edup2p/punchline/types"
)

// DefaultPort is the IANA-assigned STUN port.
const DefaultPort = 3478

type TxID [stun.TransactionIDSize]byte

var (
	ErrNotBindingRequest  = errors.New("not a STUN binding request")
	ErrNotBindingResponse = errors.New("not a STUN binding success response")
	ErrNoMappedAddress    = errors.New("STUN response carries no mapped address")
)

// Is reports whether pkt looks like a STUN message.
//
// Session datagrams start with a different magic byte, so both can share one socket.
func Is(pkt []byte) bool {
	return stun.IsMessage(pkt)
}

// Request returns a new binding request and its transaction id.
func Request() (TxID, []byte) {
	m := stun.MustBuild(stun.TransactionID, stun.BindingRequest, stun.Fingerprint)

	return m.TransactionID, m.Raw
}

// ParseBindingRequest returns the transaction id of a binding request.
func ParseBindingRequest(pkt []byte) (TxID, error) {
	m, err := decode(pkt)
	if err != nil {
		return TxID{}, err
	}

	if m.Type != stun.BindingRequest {
		return TxID{}, fmt.Errorf("%w: got %s", ErrNotBindingRequest, m.Type)
	}

	return m.TransactionID, nil
}

// Response builds a binding success response that tells the requester it was seen from ap.
func Response(txid TxID, ap netip.AddrPort) ([]byte, error) {
	ap = types.NormaliseAddrPort(ap)

	m, err := stun.Build(
		stun.NewTransactionIDSetter(txid),
		stun.BindingSuccess,
		&stun.XORMappedAddress{IP: net.IP(ap.Addr().AsSlice()), Port: int(ap.Port())},
		stun.Fingerprint,
	)
	if err != nil {
		return nil, fmt.Errorf("could not build binding response: %w", err)
	}

	return m.Raw, nil
}

// ParseResponse returns the transaction id and the mapped address of a binding success response.
func ParseResponse(pkt []byte) (TxID, netip.AddrPort, error) {
	m, err := decode(pkt)
	if err != nil {
		return TxID{}, netip.AddrPort{}, err
	}

	if m.Type != stun.BindingSuccess {
		return TxID{}, netip.AddrPort{}, fmt.Errorf("%w: got %s", ErrNotBindingResponse, m.Type)
	}

	var xor stun.XORMappedAddress
	if err := xor.GetFrom(m); err != nil {
		var mapped stun.MappedAddress
		if err2 := mapped.GetFrom(m); err2 != nil {
			return m.TransactionID, netip.AddrPort{}, ErrNoMappedAddress
		}
		xor.IP, xor.Port = mapped.IP, mapped.Port
	}

	addr, ok := netip.AddrFromSlice(xor.IP)
	if !ok {
		return m.TransactionID, netip.AddrPort{}, fmt.Errorf("%w: invalid address %v", ErrNoMappedAddress, xor.IP)
	}

	return m.TransactionID, types.NormaliseAddrPort(netip.AddrPortFrom(addr, uint16(xor.Port))), nil
}

func decode(pkt []byte) (*stun.Message, error) {
	m := new(stun.Message)
	if err := stun.Decode(pkt, m); err != nil {
		return nil, fmt.Errorf("could not decode STUN message: %w", err)
	}
	return m, nil
}
