package ifaces

import (
	"context"
	"net/netip"

	"github.com/edup2p/punchline/types"
	"github.com/edup2p/punchline/types/msgactor"
)

type Actor interface {
	Run()

	Inbox() chan<- msgactor.ActorMessage

	Ctx() context.Context

	// Cancel this actor's context.
	Cancel()

	// Close is called by the actor's Run loop when cancelled.
	Close()
}

// ===

type DirectManagerActor interface {
	Actor

	WriteTo(pkt []byte, addr netip.AddrPort)
}

type DirectedPeerFrame struct {
	SrcAddrPort netip.AddrPort

	Pkt []byte
}

// ===

type PeerManagerActor interface {
	Actor

	Poke()

	Push(frame DirectedPeerFrame)

	Chats() <-chan types.ChatEvent

	Notices() <-chan types.PeerNotice
}
