package msgactor

import (
	"net/netip"

	"github.com/LukaGiorgadze/gonull"

	"github.com/edup2p/punchline/types"
)

type ActorMessage interface{}

// Messages

// ======================================================================================================
// PeerManager msgs

// PManSendChat asks the PeerManager to send a chat message to a single established peer.
type PManSendChat struct {
	Peer string
	Text string

	// Reply receives the result, it must be buffered.
	Reply chan error
}

// PManBroadcast sends a chat message to every established peer.
type PManBroadcast struct {
	Text string

	// Reply receives the amount of peers the message was sent to, or an error
	// when the message could not be encoded.
	Reply chan BroadcastResult
}

type BroadcastResult struct {
	Sent int
	Err  error
}

type PManListPeers struct {
	Reply chan []types.PeerInfo
}

// PManRequestDiscovery sends a MemberRequest to every established peer, and the rendezvous server.
type PManRequestDiscovery struct {
	// Reply receives the amount of requests sent.
	Reply chan int
}

type PManPublicEndpoint struct {
	Reply chan gonull.Nullable[netip.AddrPort]
}
