package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/abiosoft/ishell/v2"

	"github.com/edup2p/punchline/toversok"
	"github.com/edup2p/punchline/types"
)

const requestTimeout = 2 * time.Second

func runPeer(ctx context.Context, cfg *fileConfig) error {
	sess, err := toversok.NewSession(ctx, cfg.Peer)
	if err != nil {
		return err
	}

	sess.Start()

	shell := ishell.New()
	shell.SetHomeHistoryPath(".punchline_history")
	shell.SetPrompt(fmt.Sprintf("%s@%s> ", sess.Name(), sess.Group()))

	shell.Println("punchline interactive shell, plain lines go to every established peer, 'help' for commands")

	for _, c := range shellCmds(sess) {
		shell.AddCmd(c)
	}

	shell.NotFound(func(c *ishell.Context) {
		say(c, sess, strings.Join(c.RawArgs, " "))
	})

	done := make(chan struct{})
	go printEvents(shell, sess, done)

	shell.Run()

	close(done)

	return sess.Close()
}

// printEvents prints inbound chats and peer state changes until done is closed, and stops the shell when the session dies.
func printEvents(shell *ishell.Shell, sess *toversok.Session, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case <-sess.Done():
			if err := sess.Err(); err != nil {
				shell.Printf("session stopped: %v\n", err)
			}
			shell.Stop()
			return
		case ev := <-sess.Chats():
			shell.Printf("[%s] %s: %s\n", ev.At.Format(time.TimeOnly), ev.From, ev.Text)
		case n := <-sess.Notices():
			shell.Printf("* %s\n", n.String())
		}
	}
}

func shellCmds(sess *toversok.Session) []*ishell.Cmd {
	return []*ishell.Cmd{
		{
			Name: "peers",
			Help: "list known peers and their state",
			Func: func(c *ishell.Context) {
				ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
				defer cancel()

				peers, err := sess.Peers(ctx)
				if err != nil {
					c.Err(err)
					return
				}

				c.Print(formatPeers(peers, time.Now()))
			},
		},
		{
			Name: "discover",
			Help: "ask established peers and the rendezvous server for more members",
			Func: func(c *ishell.Context) {
				ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
				defer cancel()

				n, err := sess.RequestDiscovery(ctx)
				if err != nil {
					c.Err(err)
					return
				}

				c.Printf("sent %d member requests\n", n)
			},
		},
		{
			Name: "msg",
			Help: "msg <peer> <text>: send text to one peer",
			Func: func(c *ishell.Context) {
				if len(c.Args) < 2 {
					c.Err(errors.New("usage: msg <peer> <text>"))
					return
				}

				ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
				defer cancel()

				if err := sess.SendChat(ctx, c.Args[0], strings.Join(c.Args[1:], " ")); err != nil {
					c.Err(err)
				}
			},
		},
		{
			Name: "say",
			Help: "say <text>: send text to every established peer",
			Func: func(c *ishell.Context) {
				say(c, sess, strings.Join(c.Args, " "))
			},
		},
		{
			Name: "whoami",
			Help: "show our name, group, and endpoints",
			Func: func(c *ishell.Context) {
				ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
				defer cancel()

				c.Println("name:  ", sess.Name())
				c.Println("group: ", sess.Group())
				c.Println("local: ", sess.LocalAddr())

				public, err := sess.PublicEndpoint(ctx)
				switch {
				case err != nil:
					c.Err(err)
				case public.Valid:
					c.Println("public:", public.Val)
				default:
					c.Println("public: unknown")
				}
			},
		},
		{
			Name: "trace",
			Help: "set log level to trace",
			Func: func(c *ishell.Context) {
				programLevel.Set(types.LevelTrace)
			},
		},
		{
			Name: "debug",
			Help: "set log level to debug",
			Func: func(c *ishell.Context) {
				programLevel.Set(slog.LevelDebug)
			},
		},
		{
			Name: "info",
			Help: "set log level to info",
			Func: func(c *ishell.Context) {
				programLevel.Set(slog.LevelInfo)
			},
		},
	}
}

func say(c *ishell.Context, sess *toversok.Session, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	n, err := sess.Broadcast(ctx, text)
	if err != nil {
		c.Err(err)
		return
	}

	if n == 0 {
		c.Println("no established peers (yet), message not sent")
	}
}

// formatPeers renders peers as a table, with last-seen relative to now.
func formatPeers(peers []types.PeerInfo, now time.Time) string {
	if len(peers) == 0 {
		return "no peers\n"
	}

	var b strings.Builder

	w := tabwriter.NewWriter(&b, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PEER\tENDPOINT\tSTATE\tLAST SEEN\tPUNCHES")

	for _, p := range peers {
		seen := "never"
		if !p.LastSeen.IsZero() {
			seen = now.Sub(p.LastSeen).Truncate(time.Second).String() + " ago"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\n", p.ID, p.Endpoint, p.State, seen, p.PunchAttempts)
	}

	_ = w.Flush()

	return b.String()
}
