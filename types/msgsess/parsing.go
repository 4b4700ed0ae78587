package msgsess

import (
	"net/netip"
	"unicode/utf8"

	"go4.org/mem"

	"github.com/edup2p/punchline/types/bin"
)

// Decode parses a single datagram.
//
// Any input that is not a valid message returns a *ProtocolError; Decode never panics.
func Decode(pkt []byte) (Message, error) {
	if len(pkt) < headerLen {
		return nil, malformed("datagram too short: %d bytes", len(pkt))
	}

	if pkt[0] != Magic {
		return nil, malformed("invalid magic: %#x", pkt[0])
	}

	if version := VersionMarker(pkt[1] >> 4); version != v1 {
		return nil, malformed("invalid version: %x", byte(version))
	}

	if l := int(bin.Uint16(pkt[2:headerLen])); l != len(pkt)-headerLen {
		return nil, malformed("payload length %d, got %d bytes", l, len(pkt)-headerLen)
	}

	msgType := MessageType(pkt[1] & 0x0F)

	r := &reader{b: pkt[headerLen:]}

	from := r.id("sender")

	var m Message

	switch msgType {
	case JoinMessage:
		m = &Join{From: from, Group: r.id("group")}
	case PeerListMessage:
		m = &PeerList{From: from, Peers: r.members()}
	case MemberRequestMessage:
		m = &MemberRequest{From: from}
	case MemberResponseMessage:
		m = &MemberResponse{From: from, Members: r.members()}
	case PunchMessage:
		m = &Punch{From: from}
	case PunchAckMessage:
		m = &PunchAck{From: from}
	case HeartbeatMessage:
		m = &Heartbeat{From: from}
	case ChatMessage:
		m = &Chat{From: from, Text: r.text()}
	default:
		if r.err != nil {
			return nil, r.err
		}
		return nil, &ProtocolError{Kind: UnknownType, Reason: msgType.String()}
	}

	if r.err != nil {
		return nil, r.err
	}

	if len(r.b) != 0 {
		return nil, malformed("%d trailing bytes after %s", len(r.b), msgType)
	}

	return m, nil
}

// reader consumes a payload front to back, it keeps the first error and
// returns zero values after it.
type reader struct {
	b   []byte
	err error
}

func (r *reader) fail(format string, args ...any) {
	if r.err == nil {
		r.err = malformed(format, args...)
	}
}

func (r *reader) take(n int) []byte {
	if r.err != nil {
		return nil
	}
	if len(r.b) < n {
		r.fail("truncated: need %d bytes, have %d", n, len(r.b))
		return nil
	}

	v := r.b[:n]
	r.b = r.b[n:]
	return v
}

func (r *reader) uint8() int {
	v := r.take(1)
	if v == nil {
		return 0
	}
	return int(v[0])
}

func (r *reader) uint16() int {
	v := r.take(2)
	if v == nil {
		return 0
	}
	return int(bin.Uint16(v))
}

func (r *reader) str(field string, n int) string {
	v := r.take(n)
	if r.err != nil {
		return ""
	}
	if !utf8.Valid(v) {
		r.fail("%s is not valid utf-8", field)
		return ""
	}
	return mem.B(v).StringCopy()
}

func (r *reader) id(field string) string {
	n := r.uint8()
	if r.err == nil && (n == 0 || n > MaxIDLen) {
		r.fail("%s length %d out of range", field, n)
		return ""
	}
	return r.str(field, n)
}

func (r *reader) text() string {
	return r.str("text", r.uint16())
}

func (r *reader) endpoint() netip.AddrPort {
	v := r.take(bin.AddrPortLen)
	if v == nil {
		return netip.AddrPort{}
	}

	ap := bin.ParseAddrPort([bin.AddrPortLen]byte(v))
	if ap.Port() == 0 {
		r.fail("endpoint %s has no port", ap)
	}
	return ap
}

func (r *reader) members() []Member {
	n := r.uint8()

	members := make([]Member, 0, n)
	for range n {
		m := Member{ID: r.id("member id"), Endpoint: r.endpoint()}
		if r.err != nil {
			return nil
		}
		members = append(members, m)
	}

	return members
}
