package msgsess

import "fmt"

// Magic is the first byte of every datagram.
const Magic byte = 0x9D

type VersionMarker byte

const v1 = VersionMarker(0x1)

const (
	// MaxDatagramSize bounds encoded messages to what passes most paths without fragmentation.
	MaxDatagramSize = 1200

	// MaxIDLen is the maximum length in bytes of a PeerId or group name.
	MaxIDLen = 64

	// MaxMembers is the maximum amount of members in a single PeerList or MemberResponse.
	MaxMembers = 255

	// magic (1) + version/type (1) + payload length (2)
	headerLen = 4
)

// MessageType is the 4-bit type tag of a datagram.
type MessageType byte

const (
	JoinMessage           = MessageType(0x1)
	PeerListMessage       = MessageType(0x2)
	MemberRequestMessage  = MessageType(0x3)
	MemberResponseMessage = MessageType(0x4)
	PunchMessage          = MessageType(0x5)
	PunchAckMessage       = MessageType(0x6)
	HeartbeatMessage      = MessageType(0x7)
	ChatMessage           = MessageType(0x8)
)

func (t MessageType) String() string {
	switch t {
	case JoinMessage:
		return "join"
	case PeerListMessage:
		return "peerlist"
	case MemberRequestMessage:
		return "memberrequest"
	case MemberResponseMessage:
		return "memberresponse"
	case PunchMessage:
		return "punch"
	case PunchAckMessage:
		return "punchack"
	case HeartbeatMessage:
		return "heartbeat"
	case ChatMessage:
		return "chat"
	default:
		return fmt.Sprintf("type(%#x)", byte(t))
	}
}
