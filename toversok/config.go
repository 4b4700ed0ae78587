package toversok

import (
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/LukaGiorgadze/gonull"

	"github.com/edup2p/punchline/server/rendezvous"
	"github.com/edup2p/punchline/toversok/actors"
	"github.com/edup2p/punchline/toversok/actors/peerstate"
	"github.com/edup2p/punchline/types"
	"github.com/edup2p/punchline/types/msgsess"
	"github.com/edup2p/punchline/types/stun"
)

// Config configures a Session. Zero durations take the defaults of the actors package.
type Config struct {
	Name  string `yaml:"name"`
	Group string `yaml:"group"`

	// Port is the local UDP port, 0 picks a random one.
	Port uint16 `yaml:"port"`

	// Rendezvous is the host:port of the rendezvous server, the port defaults to rendezvous.DefaultPort.
	Rendezvous string `yaml:"rendezvous"`
	// Stun is the optional host:port of a STUN server, the port defaults to 3478.
	Stun string `yaml:"stun"`

	// Peers are known peers, as name@host:port, that are punched right away.
	Peers []string `yaml:"peers"`

	PunchInterval     time.Duration `yaml:"punch_interval"`
	MaxPunchAttempts  int           `yaml:"max_punch_attempts"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	StaleTimeout      time.Duration `yaml:"stale_timeout"`
	JoinRetryInterval time.Duration `yaml:"join_retry_interval"`
}

func (c *Config) ApplyDefaults() {
	if c.PunchInterval == 0 {
		c.PunchInterval = actors.DefaultPunchInterval
	}
	if c.MaxPunchAttempts == 0 {
		c.MaxPunchAttempts = actors.DefaultMaxPunchAttempts
	}
	if c.HeartbeatInterval == 0 {
		c.HeartbeatInterval = actors.DefaultHeartbeatInterval
	}
	if c.StaleTimeout == 0 {
		c.StaleTimeout = actors.DefaultStaleTimeout
	}
	if c.JoinRetryInterval == 0 {
		c.JoinRetryInterval = actors.DefaultJoinRetryInterval
	}
}

func (c *Config) Validate() error {
	if err := msgsess.CheckID("name", c.Name); err != nil {
		return fmt.Errorf("toversok: config: %w", err)
	}
	if err := msgsess.CheckID("group", c.Group); err != nil {
		return fmt.Errorf("toversok: config: %w", err)
	}
	if c.Rendezvous == "" && len(c.Peers) == 0 {
		return errors.New("toversok: config: need a rendezvous server or at least one peer")
	}
	if c.PunchInterval < 0 || c.HeartbeatInterval < 0 || c.StaleTimeout < 0 || c.JoinRetryInterval < 0 {
		return errors.New("toversok: config: intervals cannot be negative")
	}
	if c.MaxPunchAttempts < 0 {
		return errors.New("toversok: config: max punch attempts cannot be negative")
	}
	if c.StaleTimeout != 0 && c.HeartbeatInterval != 0 && c.StaleTimeout <= c.HeartbeatInterval {
		return fmt.Errorf("toversok: config: stale timeout %s must exceed heartbeat interval %s", c.StaleTimeout, c.HeartbeatInterval)
	}
	for _, p := range c.Peers {
		if _, err := ParsePeer(p); err != nil {
			return fmt.Errorf("toversok: config: %w", err)
		}
	}
	return nil
}

// actorConfig resolves the addresses in c, and returns what the actor stage needs.
func (c *Config) actorConfig() (actors.Config, error) {
	ac := actors.Config{
		Self:  c.Name,
		Group: c.Group,
		Timing: peerstate.Timing{
			PunchInterval:     c.PunchInterval,
			MaxPunchAttempts:  c.MaxPunchAttempts,
			HeartbeatInterval: c.HeartbeatInterval,
			StaleTimeout:      c.StaleTimeout,
		},
		JoinRetryInterval: c.JoinRetryInterval,
	}

	if c.Rendezvous != "" {
		ap, err := Resolve(c.Rendezvous, rendezvous.DefaultPort)
		if err != nil {
			return ac, fmt.Errorf("could not resolve rendezvous server: %w", err)
		}
		ac.Rendezvous = gonull.NewNullable(ap)
	}

	if c.Stun != "" {
		ap, err := Resolve(c.Stun, stun.DefaultPort)
		if err != nil {
			return ac, fmt.Errorf("could not resolve STUN server: %w", err)
		}
		ac.StunServer = gonull.NewNullable(ap)
	}

	for _, p := range c.Peers {
		m, err := ParsePeer(p)
		if err != nil {
			return ac, err
		}
		ac.Seeds = append(ac.Seeds, m)
	}

	return ac, nil
}

// Resolve turns host or host:port into an endpoint, looking up host names if needed.
func Resolve(hostport string, defaultPort uint16) (netip.AddrPort, error) {
	if _, _, err := net.SplitHostPort(hostport); err != nil {
		hostport = net.JoinHostPort(strings.Trim(hostport, "[]"), strconv.Itoa(int(defaultPort)))
	}

	if ap, err := netip.ParseAddrPort(hostport); err == nil {
		return types.NormaliseAddrPort(ap), nil
	}

	ua, err := net.ResolveUDPAddr("udp", hostport)
	if err != nil {
		return netip.AddrPort{}, err
	}

	return types.NormaliseAddrPort(ua.AddrPort()), nil
}

// ParsePeer parses name@ip:port.
func ParsePeer(s string) (msgsess.Member, error) {
	name, addr, ok := strings.Cut(s, "@")
	if !ok {
		return msgsess.Member{}, fmt.Errorf("peer %q: expected name@ip:port", s)
	}

	if err := msgsess.CheckID("peer name", name); err != nil {
		return msgsess.Member{}, err
	}

	ap, err := netip.ParseAddrPort(addr)
	if err != nil {
		return msgsess.Member{}, fmt.Errorf("peer %q: %w", s, err)
	}

	return msgsess.Member{ID: name, Endpoint: types.NormaliseAddrPort(ap)}, nil
}
