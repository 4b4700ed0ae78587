// Package rendezvous implements the rendezvous server: a group-scoped directory that tells every registrant
// the endpoint it was observed from by the other members of its group.
//
// The server only ever exchanges addresses. Chat is dropped on arrival, and nothing is relayed.
package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"slices"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/sethvargo/go-limiter"
	"github.com/sethvargo/go-limiter/memorystore"
	"go.uber.org/multierr"
	"go4.org/netipx"

	"github.com/edup2p/punchline/types"
	"github.com/edup2p/punchline/types/msgsess"
	"github.com/edup2p/punchline/types/stun"
)

const frameChLen = 256

type frame struct {
	src netip.AddrPort
	pkt []byte
}

type Server struct {
	cfg  Config
	conn types.UDPConn

	clock   clock.Clock
	metrics *Metrics

	dir     *Directory
	limiter limiter.Store
	allow   *netipx.IPSet

	closeOnce sync.Once
	closeErr  error
}

type Option func(*Server)

func WithClock(c clock.Clock) Option {
	return func(s *Server) {
		s.clock = c
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// NewServer creates a server on an already bound socket.
//
// The server takes ownership of conn, and closes it on Close.
func NewServer(cfg Config, conn types.UDPConn, opts ...Option) (*Server, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	allow, err := cfg.allowSet()
	if err != nil {
		return nil, err
	}

	store, err := memorystore.New(&memorystore.Config{
		Tokens:   cfg.RateLimit.Tokens,
		Interval: cfg.RateLimit.Interval,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create rate limiter: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		conn:    conn,
		clock:   clock.New(),
		dir:     NewDirectory(),
		limiter: store,
		allow:   allow,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.metrics == nil {
		s.metrics = NewMetrics(nil)
	}

	return s, nil
}

func (s *Server) L() *slog.Logger {
	return slog.With("rendezvous-server", s.cfg.ID)
}

// LocalAddr returns the local address of the server socket.
func (s *Server) LocalAddr() net.Addr {
	return s.conn.LocalAddr()
}

// Serve runs the server loop until ctx is done or the socket fails, then closes the server.
//
// A single goroutine reads the socket, the loop goroutine owns the directory.
func (s *Server) Serve(ctx context.Context) error {
	frames := make(chan frame, frameChLen)

	go s.recv(frames)

	ticker := s.clock.Ticker(s.cfg.SweepInterval)
	defer ticker.Stop()

	s.L().Info("serving", "addr", s.LocalAddr())

	for {
		select {
		case <-ctx.Done():
			err := s.Close()

			// Wait for the receiver to notice the closed socket.
			for range frames {
			}

			return err
		case f, ok := <-frames:
			if !ok {
				return multierr.Append(errors.New("rendezvous: socket receiver stopped"), s.Close())
			}
			s.HandlePacket(ctx, f.src, f.pkt)
		case <-ticker.C:
			s.Sweep()
		}
	}
}

func (s *Server) recv(frames chan<- frame) {
	defer close(frames)

	var buf = make([]byte, 1<<16)

	for {
		n, src, err := s.conn.ReadFromUDPAddrPort(buf)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				return
			}
			s.L().Debug("error reading from socket", "err", err)
			continue
		}

		frames <- frame{src: src, pkt: slices.Clone(buf[:n])}
	}
}

// Close stops the rate limiter and closes the socket. It is safe to call more than once.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		err := s.conn.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}

		s.closeErr = multierr.Combine(err, s.limiter.Close(context.Background()))
	})

	return s.closeErr
}

// HandlePacket handles a single datagram observed from src.
func (s *Server) HandlePacket(ctx context.Context, src netip.AddrPort, pkt []byte) {
	src = types.NormaliseAddrPort(src)

	if s.allow != nil && !s.allow.Contains(src.Addr()) {
		s.drop(src, DropNotAllowed, nil)
		return
	}

	if _, _, _, ok, err := s.limiter.Take(ctx, src.String()); err != nil || !ok {
		s.drop(src, DropRateLimited, err)
		return
	}

	if stun.Is(pkt) {
		s.answerStun(src, pkt)
		return
	}

	m, err := msgsess.Decode(pkt)
	if err != nil {
		if errors.Is(err, msgsess.ErrUnknownType) {
			s.drop(src, DropUnknownType, err)
		} else {
			s.drop(src, DropMalformed, err)
		}
		return
	}

	switch m := m.(type) {
	case *msgsess.Join:
		s.onJoin(src, m)
	case *msgsess.Heartbeat:
		s.onHeartbeat(src, m)
	case *msgsess.MemberRequest:
		s.onMemberRequest(src, m)
	case *msgsess.Chat:
		// Chat never passes through the server.
		s.drop(src, DropChat, nil)
	default:
		s.drop(src, DropUnexpected, nil)
	}
}

func (s *Server) onJoin(src netip.AddrPort, m *msgsess.Join) {
	res := s.dir.Join(m.Group, m.From, src, s.clock.Now())

	s.metrics.Joins.Inc()

	if res.Replaced.Valid {
		s.metrics.DuplicateIDs.Inc()
		s.L().Warn("peer id already registered from another endpoint, overwriting with latest",
			"group", m.Group,
			"peer", m.From,
			"previous", res.Replaced.Val,
			"endpoint", src,
		)
	} else if res.Changed {
		s.L().Info("peer joined", "group", m.Group, "peer", m.From, "endpoint", src, "others", len(res.Others))
	}

	for _, chunk := range msgsess.PackMembers(s.cfg.ID, res.Others) {
		s.send(src, &msgsess.PeerList{From: s.cfg.ID, Peers: chunk})
	}

	if res.Changed && !s.cfg.DisableIntroductions && len(res.Others) > 0 {
		intro, err := msgsess.Encode(&msgsess.PeerList{
			From:  s.cfg.ID,
			Peers: []msgsess.Member{{ID: m.From, Endpoint: src}},
		})
		if err != nil {
			s.L().Error("could not encode introduction", "peer", m.From, "err", err)
		} else {
			for _, other := range res.Others {
				s.write(other.Endpoint, intro)
			}
		}
	}

	s.updateGauges()
}

func (s *Server) onHeartbeat(src netip.AddrPort, m *msgsess.Heartbeat) {
	if s.dir.Refresh(m.From, src, s.clock.Now()) == 0 {
		s.drop(src, DropUnknownPeer, nil)
		return
	}

	s.metrics.Heartbeats.Inc()
}

func (s *Server) onMemberRequest(src netip.AddrPort, m *msgsess.MemberRequest) {
	for _, chunk := range msgsess.PackMembers(s.cfg.ID, s.dir.Members(m.From, src)) {
		s.send(src, &msgsess.MemberResponse{From: s.cfg.ID, Members: chunk})
	}
}

func (s *Server) answerStun(src netip.AddrPort, pkt []byte) {
	txid, err := stun.ParseBindingRequest(pkt)
	if err != nil {
		s.drop(src, DropMalformed, err)
		return
	}

	res, err := stun.Response(txid, src)
	if err != nil {
		s.L().Error("could not build STUN response", "err", err)
		return
	}

	s.metrics.StunRequests.Inc()
	s.write(src, res)
}

// Sweep expires entries that have not been seen within the entry timeout.
func (s *Server) Sweep() {
	expired := s.dir.Sweep(s.clock.Now(), s.cfg.EntryTimeout)

	for _, e := range expired {
		s.L().Info("peer expired", "group", e.Group, "peer", e.ID, "endpoint", e.Endpoint, "last-seen", e.LastSeen)
	}

	s.metrics.Expired.Add(float64(len(expired)))
	s.updateGauges()
}

func (s *Server) updateGauges() {
	s.metrics.Entries.Set(float64(s.dir.Len()))
	s.metrics.Groups.Set(float64(s.dir.Groups()))
}

func (s *Server) send(to netip.AddrPort, m msgsess.Message) {
	pkt, err := msgsess.Encode(m)
	if err != nil {
		s.L().Error("could not encode message", "msg", m.Debug(), "err", err)
		return
	}

	s.write(to, pkt)
}

// write is fire-and-forget, a failed send is logged and left to the client's retries.
func (s *Server) write(to netip.AddrPort, pkt []byte) {
	if _, err := s.conn.WriteToUDPAddrPort(pkt, to); err != nil {
		s.L().Warn("error writing to socket", "to", to, "err", err)
	}
}

func (s *Server) drop(src netip.AddrPort, reason string, err error) {
	s.metrics.Dropped.WithLabelValues(reason).Inc()

	s.L().Log(context.Background(), types.LevelTrace, "dropping datagram", "from", src, "reason", reason, "err", err)
}

// Directory exposes the server's directory, it must not be used concurrently with Serve.
func (s *Server) Directory() *Directory {
	return s.dir
}

