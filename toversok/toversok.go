// Package toversok contains the peer side of punchline.
//
// In rough terms, the Session is meant to be a programmer's primary interface: it binds one UDP socket,
// joins a group at a rendezvous server, punches through to every member it learns about, and exposes
// chat and peer state changes as streams.
//
// The Session creates an actors.Stage, whose PeerManager is the single owner of all peer state.
package toversok
