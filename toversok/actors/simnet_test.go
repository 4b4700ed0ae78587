package actors

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net"
	"net/netip"
	"slices"
	"testing"
	"time"

	"github.com/LukaGiorgadze/gonull"
	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edup2p/punchline/server/rendezvous"
	"github.com/edup2p/punchline/toversok/registry"
	"github.com/edup2p/punchline/types"
	"github.com/edup2p/punchline/types/ifaces"
	"github.com/edup2p/punchline/types/msgactor"
	"github.com/edup2p/punchline/types/msgsess"
)

// simNet runs a handful of PeerManagers and a rendezvous server on one mock clock, each peer behind its own
// address-and-port restricted NAT: a datagram from src only reaches dst once dst has sent something to src.
type simNet struct {
	t     *testing.T
	clock *clock.Mock
	rng   *rand.Rand

	server *rendezvous.Server
	nodes  map[netip.AddrPort]*simNode

	queue  []simPacket
	opened map[netip.AddrPort]map[netip.AddrPort]bool
	cut    map[netip.AddrPort]bool

	// everything that went to the rendezvous server, and every message sent to an address with no one behind it
	toServer []msgsess.Message
	toVoid   []msgsess.Message
}

type simPacket struct {
	src, dst netip.AddrPort
	pkt      []byte
}

type simNode struct {
	name string
	ap   netip.AddrPort
	pm   *PeerManager

	fromServer []msgsess.Message
	notices    []types.PeerNotice
}

func newSimNet(t *testing.T, withServer bool) *simNet {
	t.Helper()

	mClock := clock.NewMock()
	mClock.Set(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	n := &simNet{
		t:      t,
		clock:  mClock,
		rng:    rand.New(rand.NewPCG(1, 2)),
		nodes:  make(map[netip.AddrPort]*simNode),
		opened: make(map[netip.AddrPort]map[netip.AddrPort]bool),
		cut:    make(map[netip.AddrPort]bool),
	}

	if withServer {
		n.startServer()
	}

	return n
}

// startServer puts a fresh rendezvous server with an empty directory behind rvAP.
func (n *simNet) startServer() {
	cfg := rendezvous.Config{}
	cfg.RateLimit.Tokens = 1000

	srv, err := rendezvous.NewServer(cfg, &simServerConn{n}, rendezvous.WithClock(n.clock))
	require.NoError(n.t, err)
	n.t.Cleanup(func() { _ = srv.Close() })

	n.server = srv
}

func (n *simNet) add(name string, ap netip.AddrPort) *simNode {
	cfg := Config{Self: name, Group: "lab", Clock: n.clock}
	if n.server != nil {
		cfg.Rendezvous = gonull.NewNullable(rvAP)
	}
	cfg.applyDefaults()

	node := &simNode{name: name, ap: ap}

	s := &Stage{Ctx: context.Background()}
	s.DMan = &MockDirectManager{
		writeTo: func(pkt []byte, addr netip.AddrPort) {
			n.send(ap, addr, pkt)
		},
	}

	node.pm = s.makePM(cfg)
	s.PMan = node.pm

	n.nodes[ap] = node

	return node
}

func (n *simNet) send(src, dst netip.AddrPort, pkt []byte) {
	if n.opened[src] == nil {
		n.opened[src] = make(map[netip.AddrPort]bool)
	}
	n.opened[src][dst] = true

	n.queue = append(n.queue, simPacket{src: src, dst: dst, pkt: slices.Clone(pkt)})
}

func (n *simNet) flush() {
	for round := 0; len(n.queue) > 0; round++ {
		require.Less(n.t, round, 100, "datagrams keep bouncing")

		batch := n.queue
		n.queue = nil

		n.rng.Shuffle(len(batch), func(i, j int) { batch[i], batch[j] = batch[j], batch[i] })

		for _, p := range batch {
			n.deliver(p)
		}
	}
}

func (n *simNet) deliver(p simPacket) {
	if n.cut[p.src] || n.cut[p.dst] {
		return
	}

	if p.dst == rvAP && n.server != nil {
		if m, err := msgsess.Decode(p.pkt); err == nil {
			n.toServer = append(n.toServer, m)
		}
		n.server.HandlePacket(context.Background(), p.src, p.pkt)
		return
	}

	node, ok := n.nodes[p.dst]
	if !ok {
		if m, err := msgsess.Decode(p.pkt); err == nil {
			n.toVoid = append(n.toVoid, m)
		}
		return
	}

	if !n.opened[p.dst][p.src] {
		return
	}

	if p.src == rvAP {
		if m, err := msgsess.Decode(p.pkt); err == nil {
			node.fromServer = append(node.fromServer, m)
		}
	}

	node.pm.HandleFrame(ifacesFrame(p))
}

// step advances the clock by one ticker interval, and lets every node and the server act on it.
func (n *simNet) step() {
	n.clock.Add(PManTickerInterval)

	for _, ap := range n.addrs() {
		n.nodes[ap].pm.DoTick()
	}

	n.flush()

	if n.server != nil {
		n.server.Sweep()
		n.flush()
	}

	for _, node := range n.nodes {
		node.notices = append(node.notices, drainNotices(node.pm)...)
	}
}

func (n *simNet) run(d time.Duration) {
	for range int(d / PManTickerInterval) {
		n.step()
	}
}

// runUntil steps until cond holds, and fails the test when it did not within d.
func (n *simNet) runUntil(d time.Duration, cond func() bool) {
	n.t.Helper()

	for range int(d / PManTickerInterval) {
		if cond() {
			return
		}
		n.step()
	}

	require.True(n.t, cond(), "condition not met within %s", d)
}

func (n *simNet) addrs() []netip.AddrPort {
	aps := make([]netip.AddrPort, 0, len(n.nodes))
	for ap := range n.nodes {
		aps = append(aps, ap)
	}
	slices.SortFunc(aps, netip.AddrPort.Compare)
	return aps
}

func (n *simNet) allEstablished() bool {
	for _, a := range n.nodes {
		for _, b := range n.nodes {
			if a != b && stateOf(a.pm, b.name) != registry.Established {
				return false
			}
		}
	}
	return true
}

func (node *simNode) noticesFor(peer, to string) (out []types.PeerNotice) {
	for _, n := range node.notices {
		if n.Peer == peer && n.To == to {
			out = append(out, n)
		}
	}
	return
}

func ifacesFrame(p simPacket) ifaces.DirectedPeerFrame {
	return ifaces.DirectedPeerFrame{SrcAddrPort: p.src, Pkt: p.pkt}
}

// simServerConn hands the rendezvous server's writes to the simulated network.
type simServerConn struct {
	n *simNet
}

func (c *simServerConn) SetReadDeadline(time.Time) error { return nil }

func (c *simServerConn) ReadFromUDPAddrPort([]byte) (int, netip.AddrPort, error) {
	return 0, netip.AddrPort{}, net.ErrClosed
}

func (c *simServerConn) WriteToUDPAddrPort(b []byte, addr netip.AddrPort) (int, error) {
	c.n.send(rvAP, addr, b)
	return len(b), nil
}

func (c *simServerConn) LocalAddr() net.Addr {
	return net.UDPAddrFromAddrPort(rvAP)
}

func (c *simServerConn) Close() error { return nil }

func TestSimAliceBob(t *testing.T) {
	n := newSimNet(t, true)

	bob := n.add("bob", bobAP)
	n.run(time.Second)

	alice := n.add("alice", aliceAP)

	n.runUntil(5*time.Second, n.allEstablished)

	require.NotEmpty(t, alice.fromServer)
	assert.Equal(t, &msgsess.PeerList{
		From:  rendezvous.DefaultID,
		Peers: []msgsess.Member{{ID: "bob", Endpoint: bobAP}},
	}, alice.fromServer[0])

	reply := make(chan error, 1)
	alice.pm.Handle(&msgactor.PManSendChat{Peer: "bob", Text: "hello bob", Reply: reply})
	require.NoError(t, <-reply)

	n.flush()

	select {
	case ev := <-bob.pm.Chats():
		assert.Equal(t, "alice", ev.From)
		assert.Equal(t, "hello bob", ev.Text)
		assert.Equal(t, aliceAP, ev.Endpoint)
	default:
		t.Fatal("bob did not receive the chat")
	}

	for _, m := range n.toServer {
		assert.NotEqual(t, msgsess.ChatMessage, m.Type(), "chat went through the rendezvous server")
	}
}

func TestSimGroupConverges(t *testing.T) {
	n := newSimNet(t, true)

	for i := range 6 {
		n.add(fmt.Sprintf("peer%d", i), netip.AddrPortFrom(netip.AddrFrom4([4]byte{10, 0, byte(i), 1}), uint16(40000+i)))
	}

	n.runUntil(10*time.Second, n.allEstablished)

	assert.Equal(t, 6, n.server.Directory().Len())
}

func TestSimGossipWithoutServer(t *testing.T) {
	n := newSimNet(t, false)

	a := n.add("a", aliceAP)
	b := n.add("b", bobAP)
	c := n.add("c", carolAP)

	a.pm.merge([]msgsess.Member{{ID: "b", Endpoint: bobAP}})
	b.pm.merge([]msgsess.Member{{ID: "a", Endpoint: aliceAP}, {ID: "c", Endpoint: carolAP}})
	c.pm.merge([]msgsess.Member{{ID: "b", Endpoint: bobAP}})

	n.runUntil(5*time.Second, func() bool {
		return stateOf(a.pm, "b") == registry.Established && stateOf(c.pm, "b") == registry.Established
	})

	_, known := a.pm.reg.Get("c")
	require.False(t, known)

	reply := make(chan int, 1)
	a.pm.Handle(&msgactor.PManRequestDiscovery{Reply: reply})
	assert.Equal(t, 1, <-reply)

	n.runUntil(5*time.Second, n.allEstablished)
}

func TestSimStaleExactlyOnce(t *testing.T) {
	n := newSimNet(t, true)

	alice := n.add("alice", aliceAP)
	n.add("bob", bobAP)

	n.runUntil(5*time.Second, n.allEstablished)

	n.cut[bobAP] = true

	n.run(DefaultStaleTimeout + 2*time.Second)

	stale := alice.noticesFor("bob", "stale")
	require.Len(t, stale, 1)
	assert.Equal(t, "established", stale[0].From)
	assert.Equal(t, "timed out", stale[0].Reason)
	assert.Equal(t, registry.Stale, stateOf(alice.pm, "bob"))

	n.run(DefaultStaleTimeout)

	// A rejoin may hand bob back while the server still lists him, that punch ends as unreachable.
	timedOut := 0
	for _, sn := range alice.noticesFor("bob", "stale") {
		if sn.Reason == "timed out" {
			timedOut++
		}
	}
	assert.Equal(t, 1, timedOut)
}

func TestSimServerRestart(t *testing.T) {
	n := newSimNet(t, true)

	alice := n.add("alice", aliceAP)
	n.run(time.Second)
	require.True(t, alice.pm.joined)
	require.Equal(t, 1, n.server.Directory().Len())

	n.startServer()
	require.Equal(t, 0, n.server.Directory().Len())

	n.run(RejoinInterval + time.Second)
	assert.Equal(t, 1, n.server.Directory().Len(), "alice did not register with the restarted server")

	bob := n.add("bob", bobAP)
	n.runUntil(5*time.Second, n.allEstablished)

	require.NotEmpty(t, bob.fromServer)
	assert.Equal(t, &msgsess.PeerList{
		From:  rendezvous.DefaultID,
		Peers: []msgsess.Member{{ID: "alice", Endpoint: aliceAP}},
	}, bob.fromServer[0])
}

func TestSimRejoinAfterExpiry(t *testing.T) {
	n := newSimNet(t, true)

	alice := n.add("alice", aliceAP)
	n.run(time.Second)
	require.Equal(t, 1, n.server.Directory().Len())

	// Long enough for the server to sweep alice.
	n.cut[aliceAP] = true
	n.run(rendezvous.DefaultEntryTimeout + 2*time.Second)
	require.Equal(t, 0, n.server.Directory().Len())

	n.cut[aliceAP] = false
	n.run(RejoinInterval + time.Second)

	assert.Equal(t, 1, n.server.Directory().Len())
	assert.True(t, alice.pm.joined)
}

func TestSimUnreachable(t *testing.T) {
	n := newSimNet(t, false)

	alice := n.add("alice", aliceAP)

	alice.pm.merge([]msgsess.Member{{ID: "ghost", Endpoint: dummyAddrPort}})

	n.run(10 * time.Second)

	punches := 0
	for _, m := range n.toVoid {
		if m.Type() == msgsess.PunchMessage {
			punches++
		}
	}
	assert.Equal(t, DefaultMaxPunchAttempts, punches)

	stale := alice.noticesFor("ghost", "stale")
	require.Len(t, stale, 1)
	assert.Equal(t, "punching", stale[0].From)
	assert.Equal(t, "unreachable", stale[0].Reason)
}
