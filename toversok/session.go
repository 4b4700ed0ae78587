package toversok

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"sync"

	"github.com/LukaGiorgadze/gonull"
	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/edup2p/punchline/toversok/actors"
	"github.com/edup2p/punchline/types"
	"github.com/edup2p/punchline/types/msgactor"
)

// Session is one peer in one group: a bound socket plus the actor stage that runs on it.
type Session struct {
	ctx context.Context
	ccc context.CancelCauseFunc

	cfg  Config
	conn *net.UDPConn

	stage *actors.Stage

	startOnce sync.Once
	closeOnce sync.Once
	closeErr  error
}

type sessionOptions struct {
	clock clock.Clock
}

type Option func(*sessionOptions)

// WithClock drives all peer timers from c.
func WithClock(c clock.Clock) Option {
	return func(o *sessionOptions) {
		o.clock = c
	}
}

// NewSession validates cfg and binds the UDP socket; failing to bind is fatal and returned.
//
// The session does nothing until Start is called.
func NewSession(pCtx context.Context, cfg Config, opts ...Option) (*Session, error) {
	var o sessionOptions
	for _, opt := range opts {
		opt(&o)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ac, err := cfg.actorConfig()
	if err != nil {
		return nil, err
	}
	ac.Clock = o.clock

	conn, err := types.ListenUDP(cfg.Port)
	if err != nil {
		return nil, fmt.Errorf("could not bind UDP port %d: %w", cfg.Port, err)
	}

	ctx, ccc := context.WithCancelCause(pCtx)

	s := &Session{
		ctx:  ctx,
		ccc:  ccc,
		cfg:  cfg,
		conn: conn,
	}

	s.stage = actors.MakeStage(ctx, ccc, conn, ac)

	slog.Info("session: bound socket", "addr", conn.LocalAddr().String(), "name", cfg.Name, "group", cfg.Group)

	return s, nil
}

// Start launches the actors, which join the group and start punching.
func (s *Session) Start() {
	s.startOnce.Do(s.stage.Start)
}

// Close stops every actor, closes the socket, and waits for all of them to return.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.ccc(ErrClosed)

		err := s.conn.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}

		s.stage.Wait()

		s.closeErr = multierr.Combine(err, s.Err())
	})

	return s.closeErr
}

// Done is closed once the session stops, either through Close or because it failed.
func (s *Session) Done() <-chan struct{} {
	return s.ctx.Done()
}

// Err reports why the session stopped, when that was not Close or the parent context.
func (s *Session) Err() error {
	if cause := context.Cause(s.ctx); cause != nil && !errors.Is(cause, ErrClosed) && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return nil
}

// stopped is what requests on a stopped session return.
func (s *Session) stopped() error {
	if err := s.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrClosed, err)
	}
	return ErrClosed
}

func (s *Session) Name() string {
	return s.cfg.Name
}

func (s *Session) Group() string {
	return s.cfg.Group
}

// LocalAddr is the address the socket is bound to.
func (s *Session) LocalAddr() netip.AddrPort {
	return types.NormaliseAddrPort(s.conn.LocalAddr().(*net.UDPAddr).AddrPort())
}

// Chats delivers every chat message received from a peer.
func (s *Session) Chats() <-chan types.ChatEvent {
	return s.stage.PMan.Chats()
}

// Notices delivers peer state changes.
func (s *Session) Notices() <-chan types.PeerNotice {
	return s.stage.PMan.Notices()
}

// SendChat sends text directly to peer, which must be Established.
func (s *Session) SendChat(ctx context.Context, peer, text string) error {
	err, rerr := ask(ctx, s, func(reply chan error) msgactor.ActorMessage {
		return &msgactor.PManSendChat{Peer: peer, Text: text, Reply: reply}
	})
	if rerr != nil {
		return rerr
	}
	return err
}

// Broadcast sends text to every Established peer, and returns how many that were.
func (s *Session) Broadcast(ctx context.Context, text string) (int, error) {
	res, err := ask(ctx, s, func(reply chan msgactor.BroadcastResult) msgactor.ActorMessage {
		return &msgactor.PManBroadcast{Text: text, Reply: reply}
	})
	if err != nil {
		return 0, err
	}
	return res.Sent, res.Err
}

// Peers lists every known peer, sorted by id.
func (s *Session) Peers(ctx context.Context) ([]types.PeerInfo, error) {
	return ask(ctx, s, func(reply chan []types.PeerInfo) msgactor.ActorMessage {
		return &msgactor.PManListPeers{Reply: reply}
	})
}

// RequestDiscovery asks every Established peer and the rendezvous server for their members,
// and returns how many requests went out.
func (s *Session) RequestDiscovery(ctx context.Context) (int, error) {
	return ask(ctx, s, func(reply chan int) msgactor.ActorMessage {
		return &msgactor.PManRequestDiscovery{Reply: reply}
	})
}

// PublicEndpoint is our address as seen by the STUN server, if one was configured and it answered.
func (s *Session) PublicEndpoint(ctx context.Context) (gonull.Nullable[netip.AddrPort], error) {
	return ask(ctx, s, func(reply chan gonull.Nullable[netip.AddrPort]) msgactor.ActorMessage {
		return &msgactor.PManPublicEndpoint{Reply: reply}
	})
}

// ask sends a request to the PeerManager and waits for its reply.
func ask[T any](ctx context.Context, s *Session, mk func(chan T) msgactor.ActorMessage) (T, error) {
	var zero T

	reply := make(chan T, 1)

	select {
	case s.stage.PMan.Inbox() <- mk(reply):
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-s.ctx.Done():
		return zero, s.stopped()
	}

	select {
	case v := <-reply:
		return v, nil
	case <-ctx.Done():
		return zero, ctx.Err()
	case <-s.ctx.Done():
		return zero, s.stopped()
	}
}
