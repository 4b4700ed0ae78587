package actors

import (
	"context"
	"net/netip"
	"sync"
	"time"

	"github.com/LukaGiorgadze/gonull"
	"github.com/benbjohnson/clock"

	"github.com/edup2p/punchline/toversok/actors/peerstate"
	"github.com/edup2p/punchline/types"
	"github.com/edup2p/punchline/types/ifaces"
	"github.com/edup2p/punchline/types/msgsess"
)

// Config is what the actors of a Stage need to know about the local peer.
type Config struct {
	Self  string
	Group string

	Rendezvous gonull.Nullable[netip.AddrPort]
	StunServer gonull.Nullable[netip.AddrPort]

	// Seeds are punched from the start, as if gossiped to us.
	Seeds []msgsess.Member

	Timing            peerstate.Timing
	JoinRetryInterval time.Duration

	Clock clock.Clock
}

func (c *Config) applyDefaults() {
	if c.Timing.PunchInterval == 0 {
		c.Timing.PunchInterval = DefaultPunchInterval
	}
	if c.Timing.MaxPunchAttempts == 0 {
		c.Timing.MaxPunchAttempts = DefaultMaxPunchAttempts
	}
	if c.Timing.HeartbeatInterval == 0 {
		c.Timing.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Timing.StaleTimeout == 0 {
		c.Timing.StaleTimeout = DefaultStaleTimeout
	}
	if c.JoinRetryInterval == 0 {
		c.JoinRetryInterval = DefaultJoinRetryInterval
	}
	if c.Clock == nil {
		c.Clock = clock.New()
	}
}

// Stage for the Actors
type Stage struct {
	// The parent context of the stage that all actors must parent
	Ctx  context.Context
	// Fail cancels Ctx with a cause when an actor dies on its own, may be nil
	Fail context.CancelCauseFunc

	// The DirectManager
	DMan ifaces.DirectManagerActor
	// The PeerManager
	PMan ifaces.PeerManagerActor

	started bool
	wg      sync.WaitGroup
}

// MakeStage builds the actors on conn, fail is called with the reason when one of them stops unexpectedly.
func MakeStage(pCtx context.Context, fail context.CancelCauseFunc, conn types.UDPConn, cfg Config) *Stage {
	cfg.applyDefaults()

	s := &Stage{
		Ctx:  pCtx,
		Fail: fail,
	}

	s.DMan = s.makeDM(conn)
	s.PMan = s.makePM(cfg)

	return s
}

// Start kicks off goroutines for the stage and returns
func (s *Stage) Start() {
	if s.started {
		return
	}

	s.run(s.DMan)
	s.run(s.PMan)

	s.started = true
}

func (s *Stage) run(a ifaces.Actor) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		a.Run()
	}()
}

// failed takes down the whole stage after an actor died, as the others can't do anything without it.
func (s *Stage) failed(err error) {
	if s.Fail != nil {
		s.Fail(err)
	}
}

// Wait blocks until every actor of the stage has returned, which happens once the parent context is done.
func (s *Stage) Wait() {
	s.wg.Wait()
}
