package rendezvous

import (
	"errors"
	"fmt"
	"net/netip"
	"time"

	"go4.org/netipx"

	"github.com/edup2p/punchline/types/msgsess"
)

const (
	// DefaultPort is the default UDP port of the rendezvous server.
	DefaultPort = 9000

	// DefaultID is the sender id the server puts on its datagrams.
	DefaultID = "rendezvous"

	// DefaultEntryTimeout roughly tracks the lifetime of a NAT binding.
	DefaultEntryTimeout = 30 * time.Second

	DefaultSweepInterval = 5 * time.Second

	DefaultRateLimitTokens   = 20
	DefaultRateLimitInterval = time.Second
)

type RateLimitConfig struct {
	// Tokens is the amount of datagrams a single source endpoint (ip:port) may send per Interval.
	// Peers sharing one NAT address each get their own budget.
	Tokens   uint64        `yaml:"tokens"`
	Interval time.Duration `yaml:"interval"`
}

// Config holds the configuration of a rendezvous server.
type Config struct {
	// Port is the UDP port to bind, 0 picks a random one.
	Port uint16 `yaml:"port"`

	// ID is the sender id on the server's datagrams.
	ID string `yaml:"id"`

	// EntryTimeout is how long an entry lives without a Join or Heartbeat.
	EntryTimeout time.Duration `yaml:"entry_timeout"`

	SweepInterval time.Duration `yaml:"sweep_interval"`

	// DisableIntroductions stops the server from sending a newly joined peer to the existing members of its group.
	// Without introductions, earlier members only learn of later ones by joining again, or through gossip.
	DisableIntroductions bool `yaml:"disable_introductions"`

	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// AllowedPrefixes restricts the source addresses the server answers, empty allows all.
	AllowedPrefixes []string `yaml:"allowed_prefixes"`

	// MetricsAddr is the listen address for the prometheus endpoint, empty disables it.
	MetricsAddr string `yaml:"metrics_addr"`
}

// ApplyDefaults sets default values for zero-valued fields.
// Port is left alone, since 0 is meaningful.
func (c *Config) ApplyDefaults() {
	if c.ID == "" {
		c.ID = DefaultID
	}
	if c.EntryTimeout == 0 {
		c.EntryTimeout = DefaultEntryTimeout
	}
	if c.SweepInterval == 0 {
		c.SweepInterval = DefaultSweepInterval
	}
	if c.RateLimit.Tokens == 0 {
		c.RateLimit.Tokens = DefaultRateLimitTokens
	}
	if c.RateLimit.Interval == 0 {
		c.RateLimit.Interval = DefaultRateLimitInterval
	}
}

// Validate checks that configuration values are within acceptable ranges.
func (c *Config) Validate() error {
	if c.ID == "" || len(c.ID) > msgsess.MaxIDLen {
		return fmt.Errorf("rendezvous: config: ID must be 1 to %d bytes", msgsess.MaxIDLen)
	}
	if c.EntryTimeout <= 0 {
		return errors.New("rendezvous: config: EntryTimeout must be positive")
	}
	if c.SweepInterval <= 0 {
		return errors.New("rendezvous: config: SweepInterval must be positive")
	}
	if c.SweepInterval > c.EntryTimeout {
		return errors.New("rendezvous: config: SweepInterval must not exceed EntryTimeout")
	}
	if c.RateLimit.Interval <= 0 {
		return errors.New("rendezvous: config: RateLimit.Interval must be positive")
	}
	if _, err := c.allowSet(); err != nil {
		return err
	}
	return nil
}

// allowSet returns the set of allowed source addresses, or nil when all are allowed.
func (c *Config) allowSet() (*netipx.IPSet, error) {
	if len(c.AllowedPrefixes) == 0 {
		return nil, nil
	}

	var b netipx.IPSetBuilder

	for _, s := range c.AllowedPrefixes {
		p, err := netip.ParsePrefix(s)
		if err != nil {
			addr, aErr := netip.ParseAddr(s)
			if aErr != nil {
				return nil, fmt.Errorf("rendezvous: config: invalid allowed prefix %q: %w", s, err)
			}
			p = netip.PrefixFrom(addr, addr.BitLen())
		}
		b.AddPrefix(p.Masked())
	}

	return b.IPSet()
}
