package actors

import (
	"context"
	"errors"
	"fmt"
	"net/netip"
	"slices"
	"time"

	"github.com/LukaGiorgadze/gonull"
	"github.com/benbjohnson/clock"
	"golang.org/x/exp/maps"

	"github.com/edup2p/punchline/toversok/actors/peerstate"
	"github.com/edup2p/punchline/toversok/registry"
	"github.com/edup2p/punchline/types"
	"github.com/edup2p/punchline/types/ifaces"
	"github.com/edup2p/punchline/types/msgactor"
	"github.com/edup2p/punchline/types/msgsess"
	"github.com/edup2p/punchline/types/stun"
)

// PeerManager is the single writer of the registry and the peer states.
//
// Inbound frames, timer ticks and requests from the session all pass through its select loop,
// which makes it the only goroutine that ever touches peer data.
type PeerManager struct {
	*ActorCommon
	s *Stage

	clock  clock.Clock
	ticker *clock.Ticker
	poke   chan struct{} // len 1

	frameCh chan ifaces.DirectedPeerFrame

	self       string
	group      string
	timing     peerstate.Timing
	joinRetry  time.Duration
	rendezvous gonull.Nullable[netip.AddrPort]
	stunServer gonull.Nullable[netip.AddrPort]
	seeds      []msgsess.Member

	reg    *registry.Registry
	states map[string]peerstate.PeerState

	joined              bool
	lastJoin            time.Time
	lastPeerList        time.Time
	lastServerHeartbeat time.Time

	stunTx       stun.TxID
	stunSent     time.Time
	stunAttempts int
	public       gonull.Nullable[netip.AddrPort]

	chats   chan types.ChatEvent
	notices chan types.PeerNotice
}

func (s *Stage) makePM(cfg Config) *PeerManager {
	return &PeerManager{
		ActorCommon: MakeCommon(s.Ctx, PeerManInboxChLen),
		s:           s,

		clock: cfg.Clock,
		poke:  make(chan struct{}, 1),

		frameCh: make(chan ifaces.DirectedPeerFrame, PeerManFrameChLen),

		self:       cfg.Self,
		group:      cfg.Group,
		timing:     cfg.Timing,
		joinRetry:  cfg.JoinRetryInterval,
		rendezvous: cfg.Rendezvous,
		stunServer: cfg.StunServer,
		seeds:      cfg.Seeds,

		reg:    registry.New(),
		states: make(map[string]peerstate.PeerState),

		chats:   make(chan types.ChatEvent, ChatChLen),
		notices: make(chan types.PeerNotice, NoticeChLen),
	}
}

func (pm *PeerManager) Run() {
	defer func() {
		if v := recover(); v != nil {
			L(pm).Error("panicked", "panic", v)
			pm.s.failed(fmt.Errorf("%w: peer manager: %v", ErrActorPanicked, v))
			pm.Cancel()
			pm.Close()
		}
	}()

	if !pm.running.CheckOrMark() {
		L(pm).Warn("tried to run agent, while already running")
		return
	}

	pm.ticker = pm.clock.Ticker(PManTickerInterval)

	pm.merge(pm.seeds)

	// Join and first punches go out right away.
	pm.Poke()

	for {
		select {
		case <-pm.ctx.Done():
			pm.Close()
			return
		case <-pm.ticker.C:
			// Run periodic before inbox, as inbox can get backed up, and punching would get delayed.
			pm.DoTick()
		case frame := <-pm.frameCh:
			pm.HandleFrame(frame)
		case m := <-pm.inbox:
			pm.Handle(m)
		case <-pm.poke:
			pm.DoTick()
		}
	}
}

func (pm *PeerManager) Close() {
	if pm.ticker != nil {
		pm.ticker.Stop()
	}
}

// Poke is a convenience method to have PMan run a tick ASAP
// (after message queues get cleared).
func (pm *PeerManager) Poke() {
	// Non-blocking channel send
	select {
	case pm.poke <- struct{}{}:
	default:
	}
}

// Push hands an inbound datagram to the PeerManager, blocking until it is queued or the actor stops.
func (pm *PeerManager) Push(frame ifaces.DirectedPeerFrame) {
	select {
	case pm.frameCh <- frame:
	case <-pm.ctx.Done():
	}
}

func (pm *PeerManager) Chats() <-chan types.ChatEvent {
	return pm.chats
}

func (pm *PeerManager) Notices() <-chan types.PeerNotice {
	return pm.notices
}

// ======================================================================================================
// Requests from the session

func (pm *PeerManager) Handle(m msgactor.ActorMessage) {
	switch m := m.(type) {
	case *msgactor.PManSendChat:
		m.Reply <- pm.sendChat(m.Peer, m.Text)
	case *msgactor.PManBroadcast:
		m.Reply <- pm.broadcast(m.Text)
	case *msgactor.PManListPeers:
		m.Reply <- types.Map(pm.reg.List(), registry.Record.Info)
	case *msgactor.PManRequestDiscovery:
		m.Reply <- pm.requestDiscovery()
	case *msgactor.PManPublicEndpoint:
		m.Reply <- pm.public
	default:
		logUnknownMessage(pm, m)
	}
}

func (pm *PeerManager) sendChat(peer, text string) error {
	rec, ok := pm.reg.Get(peer)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPeer, peer)
	}

	if rec.State != registry.Established {
		return fmt.Errorf("%w: %s is %s", ErrPeerNotEstablished, peer, rec.State)
	}

	pkt, err := msgsess.Encode(&msgsess.Chat{From: pm.self, Text: text})
	if err != nil {
		return err
	}

	pm.s.DMan.WriteTo(pkt, rec.Endpoint)

	return nil
}

func (pm *PeerManager) broadcast(text string) msgactor.BroadcastResult {
	pkt, err := msgsess.Encode(&msgsess.Chat{From: pm.self, Text: text})
	if err != nil {
		return msgactor.BroadcastResult{Err: err}
	}

	peers := pm.reg.InState(registry.Established)
	for _, rec := range peers {
		pm.s.DMan.WriteTo(pkt, rec.Endpoint)
	}

	return msgactor.BroadcastResult{Sent: len(peers)}
}

func (pm *PeerManager) requestDiscovery() int {
	req := &msgsess.MemberRequest{From: pm.self}

	var sent int

	for _, rec := range pm.reg.InState(registry.Established) {
		pm.SendTo(rec.Endpoint, req)
		sent++
	}

	if rv, ok := pm.rendezvousAddr(); ok {
		pm.SendTo(rv, req)
		sent++
	}

	return sent
}

// ======================================================================================================
// Ticks

func (pm *PeerManager) DoTick() {
	pm.doServerTick()
	pm.doStunTick()
	pm.DoStateTick()
}

func (pm *PeerManager) DoStateTick() {
	// We explicitly range over a slice of the keys we already got,
	// since golang likes to complain when we mutate while we iterate.
	peers := maps.Keys(pm.states)
	slices.Sort(peers)

	for _, peer := range peers {
		pm.forState(peer, func(s peerstate.PeerState) peerstate.PeerState {
			return s.OnTick()
		})
	}
}

// doServerTick keeps retrying the Join until a PeerList comes back.
// Once joined it heartbeats the rendezvous server, and swaps a heartbeat for a Join every RejoinInterval,
// since a restarted server only learns about us from a Join.
func (pm *PeerManager) doServerTick() {
	rv, ok := pm.rendezvousAddr()
	if !ok {
		return
	}

	now := pm.clock.Now()

	if pm.joined && now.Sub(pm.lastPeerList) >= RendezvousLostTimeout {
		L(pm).Warn("no peerlist from rendezvous server in a while, rejoining", "rendezvous", rv, "since", pm.lastPeerList)
		pm.joined = false
		pm.lastJoin = time.Time{}
	}

	if !pm.joined {
		if pm.lastJoin.IsZero() || now.Sub(pm.lastJoin) >= pm.joinRetry {
			if !pm.lastJoin.IsZero() {
				L(pm).Debug("no peerlist yet, retrying join", "rendezvous", rv)
			}

			pm.sendJoin(rv, now)
		}
		return
	}

	if now.Sub(pm.lastJoin) >= RejoinInterval {
		pm.sendJoin(rv, now)
		return
	}

	if now.Sub(pm.lastServerHeartbeat) >= pm.timing.HeartbeatInterval {
		pm.SendTo(rv, &msgsess.Heartbeat{From: pm.self})
		pm.lastServerHeartbeat = now
	}
}

func (pm *PeerManager) sendJoin(rv netip.AddrPort, now time.Time) {
	pm.SendTo(rv, &msgsess.Join{From: pm.self, Group: pm.group})
	pm.lastJoin = now
	// The Join refreshes our entry just as well.
	pm.lastServerHeartbeat = now
}

func (pm *PeerManager) doStunTick() {
	if !pm.stunServer.Valid || pm.public.Valid || pm.stunAttempts >= StunMaxAttempts {
		return
	}

	now := pm.clock.Now()
	if !pm.stunSent.IsZero() && now.Sub(pm.stunSent) < StunRetryInterval {
		return
	}

	txid, req := stun.Request()

	pm.stunTx = txid
	pm.stunSent = now
	pm.stunAttempts++

	pm.s.DMan.WriteTo(req, pm.stunServer.Val)

	if pm.stunAttempts == StunMaxAttempts {
		L(pm).Warn("no answer from STUN server, giving up after this attempt", "server", pm.stunServer.Val)
	}
}

// ======================================================================================================
// Inbound datagrams

func (pm *PeerManager) HandleFrame(frame ifaces.DirectedPeerFrame) {
	src := types.NormaliseAddrPort(frame.SrcAddrPort)

	if stun.Is(frame.Pkt) {
		pm.onStun(src, frame.Pkt)
		return
	}

	m, err := msgsess.Decode(frame.Pkt)
	if err != nil {
		if errors.Is(err, msgsess.ErrUnknownType) {
			L(pm).Log(context.Background(), types.LevelTrace, "dropping datagram of unknown type", "from", src, "err", err)
		} else {
			L(pm).Debug("dropping malformed datagram", "from", src, "err", err)
		}
		return
	}

	L(pm).Log(context.Background(), types.LevelTrace, "received datagram", "from", src, "msg", m.Debug())

	if rv, ok := pm.rendezvousAddr(); ok && src == rv {
		pm.onServerMessage(src, m)
		return
	}

	pm.onPeerMessage(src, m)
}

func (pm *PeerManager) onServerMessage(src netip.AddrPort, m msgsess.Message) {
	switch m := m.(type) {
	case *msgsess.PeerList:
		if !pm.joined {
			L(pm).Info("joined group", "group", pm.group, "rendezvous", src, "peers", len(m.Peers))
			pm.joined = true
			pm.lastServerHeartbeat = pm.clock.Now()
		}
		pm.lastPeerList = pm.clock.Now()
		pm.merge(m.Peers)
	case *msgsess.MemberResponse:
		pm.merge(m.Members)
	default:
		L(pm).Debug("ignoring message from rendezvous server", "msg", m.Debug())
	}
}

func (pm *PeerManager) onPeerMessage(src netip.AddrPort, m msgsess.Message) {
	peer := m.Sender()

	switch m.(type) {
	case *msgsess.Join, *msgsess.PeerList:
		L(pm).Debug("ignoring rendezvous message from peer", "from", src, "msg", m.Debug())
		return
	}

	if peer == pm.self {
		L(pm).Debug("ignoring datagram claiming to be from ourselves", "from", src)
		return
	}

	pm.reg.Touch(peer, src, pm.clock.Now())
	pm.ensureState(peer)

	pm.forState(peer, func(s peerstate.PeerState) peerstate.PeerState {
		return s.OnDirect(src, m)
	})

	switch m := m.(type) {
	case *msgsess.MemberRequest:
		pm.answerMemberRequest(src, m)
	case *msgsess.MemberResponse:
		pm.merge(m.Members)
	case *msgsess.Chat:
		pm.emitChat(types.ChatEvent{
			From:     m.From,
			Endpoint: src,
			Text:     m.Text,
			At:       pm.clock.Now(),
		})
	}
}

// answerMemberRequest sends the requester our Established and Punching peers, and introduces the requester to
// our Established peers, so that both sides of every new pair start punching at the same time.
func (pm *PeerManager) answerMemberRequest(src netip.AddrPort, m *msgsess.MemberRequest) {
	members := pm.reg.MembersFor(m.From)

	for _, chunk := range msgsess.PackMembers(pm.self, members) {
		pm.SendTo(src, &msgsess.MemberResponse{From: pm.self, Members: chunk})
	}

	intro := &msgsess.MemberResponse{
		From:    pm.self,
		Members: []msgsess.Member{{ID: m.From, Endpoint: src}},
	}

	for _, rec := range pm.reg.InState(registry.Established) {
		if rec.ID == m.From {
			continue
		}
		pm.SendTo(rec.Endpoint, intro)
	}
}

// merge takes in gossiped members, and starts punching the ones that are new to us.
func (pm *PeerManager) merge(members []msgsess.Member) {
	fresh := pm.reg.Merge(pm.self, members)

	for _, peer := range fresh {
		var from registry.State = -1
		if s, ok := pm.states[peer]; ok && s != nil {
			from = s.Name()
		}

		pm.states[peer] = peerstate.MakeDiscovered(pm, peer)
		pm.notify(peer, from, registry.Discovered, "")
	}

	if len(fresh) > 0 {
		pm.Poke()
	}
}

func (pm *PeerManager) onStun(src netip.AddrPort, pkt []byte) {
	txid, ap, err := stun.ParseResponse(pkt)
	if err != nil {
		L(pm).Debug("dropping STUN packet", "from", src, "err", err)
		return
	}

	if txid != pm.stunTx {
		L(pm).Debug("dropping STUN response with unknown transaction", "from", src)
		return
	}

	if !pm.public.Valid || pm.public.Val != ap {
		L(pm).Info("discovered public endpoint", "endpoint", ap, "via", src)
	}

	pm.public = gonull.NewNullable(ap)
}

// ======================================================================================================
// States

func (pm *PeerManager) ensureState(peer string) {
	s, ok := pm.states[peer]

	if !ok || s == nil {
		pm.states[peer] = peerstate.MakeDiscovered(pm, peer)
	}
}

type StateForState func(state peerstate.PeerState) peerstate.PeerState

func (pm *PeerManager) forState(peer string, fn StateForState) {
	state, ok := pm.states[peer]

	if !ok {
		return
	}

	if state == nil {
		L(pm).Error("found nil state for peer, resetting", "peer", peer)
		pm.states[peer] = peerstate.MakeDiscovered(pm, peer)
		return
	}

	newState := fn(state)

	if newState == nil {
		return
	}

	// state transitions have happened, store the new state
	pm.states[peer] = newState

	if from, to := state.Name(), newState.Name(); from != to {
		pm.reg.SetState(peer, to)

		var reason string
		if st, ok := newState.(*peerstate.Stale); ok {
			reason = st.Reason
		}

		pm.notify(peer, from, to, reason)
	}
}

func (pm *PeerManager) notify(peer string, from, to registry.State, reason string) {
	rec, _ := pm.reg.Get(peer)

	n := types.PeerNotice{
		Peer:     peer,
		Endpoint: rec.Endpoint,
		To:       to.String(),
		Reason:   reason,
		At:       pm.clock.Now(),
	}
	if from >= 0 {
		n.From = from.String()
	}

	L(pm).Info("peer state changed", "peer", peer, "endpoint", rec.Endpoint, "from", n.From, "to", n.To, "reason", reason)

	select {
	case pm.notices <- n:
	default:
		L(pm).Warn("notice stream full, dropping notice", "notice", n.String())
	}
}

func (pm *PeerManager) emitChat(ev types.ChatEvent) {
	select {
	case pm.chats <- ev:
	default:
		L(pm).Warn("chat stream full, dropping message", "from", ev.From)
	}
}

func (pm *PeerManager) rendezvousAddr() (netip.AddrPort, bool) {
	return pm.rendezvous.Val, pm.rendezvous.Valid
}

// ======================================================================================================
// peerstate.Host

func (pm *PeerManager) Now() time.Time {
	return pm.clock.Now()
}

func (pm *PeerManager) Self() string {
	return pm.self
}

func (pm *PeerManager) Timing() peerstate.Timing {
	return pm.timing
}

func (pm *PeerManager) Record(peer string) (registry.Record, bool) {
	return pm.reg.Get(peer)
}

func (pm *PeerManager) Punch(peer string) int {
	rec, ok := pm.reg.Get(peer)
	if !ok {
		return 0
	}

	pm.SendTo(rec.Endpoint, &msgsess.Punch{From: pm.self})

	return pm.reg.AddPunchAttempt(peer)
}

// SendTo encodes m and queues it towards ap.
func (pm *PeerManager) SendTo(ap netip.AddrPort, m msgsess.Message) {
	pkt, err := msgsess.Encode(m)
	if err != nil {
		L(pm).Error("could not encode message", "msg", m.Debug(), "err", err)
		return
	}

	L(pm).Log(context.Background(), types.LevelTrace, "sending datagram", "to", ap, "msg", m.Debug())

	pm.s.DMan.WriteTo(pkt, ap)
}
