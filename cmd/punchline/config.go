package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/edup2p/punchline/server/rendezvous"
	"github.com/edup2p/punchline/toversok"
)

// fileConfig is the layout of the YAML config file.
//
//	name: alice
//	group: lab
//	rendezvous: rv.example.org:9000
//	stale_timeout: 45s
//	rendezvous_server:
//	  entry_timeout: 45s
//
// The top-level port is used by both modes, and overrides the one under rendezvous_server.
type fileConfig struct {
	Server   bool   `yaml:"server"`
	LogLevel string `yaml:"log_level"`

	Peer       toversok.Config   `yaml:",inline"`
	Rendezvous rendezvous.Config `yaml:"rendezvous_server"`
}

// loadConfig reads path, an empty path gives the zero config.
func loadConfig(path string) (*fileConfig, error) {
	var cfg fileConfig

	if path == "" {
		return &cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	return &cfg, nil
}

// override applies the flags the user set on cmd, flags left alone keep the file's value.
func (c *fileConfig) override(cmd *cobra.Command, f *fileConfig) {
	changed := func(name string) bool {
		fl := cmd.Flags().Lookup(name)
		return fl != nil && fl.Changed
	}

	if changed("name") {
		c.Peer.Name = f.Peer.Name
	}
	if changed("group") {
		c.Peer.Group = f.Peer.Group
	}
	if changed("port") {
		c.Peer.Port = f.Peer.Port
	}
	if changed("bootstrap") {
		c.Peer.Rendezvous = f.Peer.Rendezvous
	}
	if changed("stun") {
		c.Peer.Stun = f.Peer.Stun
	}
	if changed("peer") {
		c.Peer.Peers = f.Peer.Peers
	}
	if changed("server") {
		c.Server = f.Server
	}
	if changed("metrics") {
		c.Rendezvous.MetricsAddr = f.Rendezvous.MetricsAddr
	}
	if changed("log-level") {
		c.LogLevel = f.LogLevel
	}

	if c.Peer.Port != 0 {
		c.Rendezvous.Port = c.Peer.Port
	}
	if c.Server && c.Rendezvous.Port == 0 {
		c.Rendezvous.Port = rendezvous.DefaultPort
	}
}
