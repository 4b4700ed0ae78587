// Command punchline is a peer-to-peer group chat over UDP hole punching.
//
// Run without --server it joins a group and opens an interactive shell; with --server it runs the rendezvous server.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/edup2p/punchline/types"
)

// Build-time variables set via ldflags.
var (
	version = "dev"
	commit  = "none"
)

var programLevel = new(slog.LevelVar) // Info by default

// rootOptions holds what the flags of the root command are bound to.
type rootOptions struct {
	cfgFile string
	flags   fileConfig
}

func newRootCmd(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "punchline",
		Short: "peer-to-peer group chat through NAT hole punching",
		Long: "punchline joins a group at a rendezvous server, punches a direct UDP path to every other member,\n" +
			"and chats with them without the server ever seeing a message.\n" +
			"With --server it runs the rendezvous server instead.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(o.cfgFile)
			if err != nil {
				return err
			}

			cfg.override(cmd, &o.flags)

			if err := setupLogger(cfg.LogLevel); err != nil {
				return err
			}

			if cfg.Server {
				return runServer(cmd.Context(), cfg)
			}
			return runPeer(cmd.Context(), cfg)
		},
	}

	f := cmd.Flags()

	f.StringVar(&o.flags.Peer.Name, "name", "", "display name, unique within the group")
	f.StringVar(&o.flags.Peer.Group, "group", "", "group to join")
	f.Uint16Var(&o.flags.Peer.Port, "port", 0, "UDP port to bind (0 picks one, server mode defaults to 9000)")
	f.StringVar(&o.flags.Peer.Rendezvous, "bootstrap", "", "rendezvous server, host[:port]")
	f.StringVar(&o.flags.Peer.Stun, "stun", "", "STUN server to discover the public endpoint with, host[:port]")
	f.StringSliceVar(&o.flags.Peer.Peers, "peer", nil, "known peer to punch right away, name@ip:port (repeatable)")
	f.BoolVar(&o.flags.Server, "server", false, "run the rendezvous server")
	f.StringVar(&o.flags.Rendezvous.MetricsAddr, "metrics", "", "server mode: listen address for prometheus metrics")

	cmd.PersistentFlags().StringVar(&o.cfgFile, "config", "", "YAML config file")
	cmd.PersistentFlags().StringVar(&o.flags.LogLevel, "log-level", "", "log level (trace, debug, info, warn, error)")

	cmd.Version = version
	cmd.SetVersionTemplate(fmt.Sprintf("punchline version {{.Version}}\ncommit: %s\n", commit))

	cmd.AddCommand(newStunCmd())

	return cmd
}

func setupLogger(level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}

	programLevel.Set(lvl)

	h := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: programLevel, ReplaceAttr: replaceLevel})
	slog.SetDefault(slog.New(h))

	return nil
}

func parseLevel(level string) (slog.Level, error) {
	switch level {
	case "trace":
		return types.LevelTrace, nil
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", level)
	}
}

// replaceLevel prints LevelTrace as TRACE instead of DEBUG-4.
func replaceLevel(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.LevelKey {
		if lvl, ok := a.Value.Any().(slog.Level); ok && lvl == types.LevelTrace {
			a.Value = slog.StringValue("TRACE")
		}
	}
	return a
}

func main() {
	if err := newRootCmd(&rootOptions{}).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
