package toversok

import (
	"errors"

	"github.com/edup2p/punchline/toversok/actors"
)

var (
	// ErrUnknownPeer is returned when sending to a peer that is not in the registry.
	ErrUnknownPeer = actors.ErrUnknownPeer
	// ErrPeerNotEstablished is returned when sending to a peer that has no direct path (yet).
	ErrPeerNotEstablished = actors.ErrPeerNotEstablished
	// ErrSocketClosed is the cause of a session whose socket got closed from under it.
	ErrSocketClosed = actors.ErrSocketClosed
)

// ErrClosed is returned by requests on a Session that has been closed.
var ErrClosed = errors.New("session closed")
