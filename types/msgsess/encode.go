package msgsess

import (
	"fmt"
	"math"
	"net/netip"
	"unicode/utf8"

	"github.com/edup2p/punchline/types/bin"
)

// Datagram layout:
//   Magic (1) + Version<<4|Type (1) + Payload length (2) + Sender (1+n) + type-specific payload

// Encode renders m as a single datagram.
//
// Messages that would exceed MaxDatagramSize fail with ErrTooLarge, they are never truncated.
func Encode(m Message) ([]byte, error) {
	if err := CheckID("sender", m.Sender()); err != nil {
		return nil, err
	}

	b := make([]byte, headerLen, 64)
	b[0] = Magic
	b[1] = byte(v1)<<4 | byte(m.Type())&0x0F

	b = appendString8(b, m.Sender())

	b, err := m.appendPayload(b)
	if err != nil {
		return nil, err
	}

	if len(b) > MaxDatagramSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrTooLarge, m.Type(), len(b), MaxDatagramSize)
	}

	payloadLen := bin.AppendUint16(nil, uint16(len(b)-headerLen))
	copy(b[2:headerLen], payloadLen)

	return b, nil
}

// CheckID reports whether s can be sent as a PeerId or group name, field names it in the error.
func CheckID(field, s string) error {
	switch {
	case s == "":
		return fmt.Errorf("%w: empty %s", ErrInvalidField, field)
	case len(s) > MaxIDLen:
		return fmt.Errorf("%w: %s is %d bytes, limit is %d", ErrInvalidField, field, len(s), MaxIDLen)
	case !utf8.ValidString(s):
		return fmt.Errorf("%w: %s is not valid utf-8", ErrInvalidField, field)
	}
	return nil
}

func appendString8(b []byte, s string) []byte {
	b = append(b, byte(len(s)))
	return append(b, s...)
}

func appendText(b []byte, s string) ([]byte, error) {
	if len(s) > math.MaxUint16 {
		return nil, fmt.Errorf("%w: text is %d bytes", ErrTooLarge, len(s))
	}
	if !utf8.ValidString(s) {
		return nil, fmt.Errorf("%w: text is not valid utf-8", ErrInvalidField)
	}
	b = bin.AppendUint16(b, uint16(len(s)))
	return append(b, s...), nil
}

func appendMembers(b []byte, members []Member) ([]byte, error) {
	if len(members) > MaxMembers {
		return nil, fmt.Errorf("%w: %d members, limit is %d", ErrInvalidField, len(members), MaxMembers)
	}

	b = append(b, byte(len(members)))

	for _, m := range members {
		if err := CheckID("member id", m.ID); err != nil {
			return nil, err
		}
		if !validEndpoint(m.Endpoint) {
			return nil, fmt.Errorf("%w: member %q has endpoint %s", ErrInvalidField, m.ID, m.Endpoint)
		}

		b = appendString8(b, m.ID)
		b = append(b, bin.PutAddrPort(m.Endpoint)...)
	}

	return b, nil
}

// validEndpoint rejects what would not survive the 18 byte encoding unchanged.
func validEndpoint(ap netip.AddrPort) bool {
	return ap.IsValid() && ap.Port() != 0 && ap.Addr().Zone() == "" && !ap.Addr().Is4In6()
}
