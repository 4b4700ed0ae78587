package actors

import "errors"

var (
	ErrUnknownPeer        = errors.New("unknown peer")
	ErrPeerNotEstablished = errors.New("peer not established")

	ErrSocketClosed  = errors.New("socket closed")
	ErrActorPanicked = errors.New("actor panicked")
)
