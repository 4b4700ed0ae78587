package main

import (
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/spf13/cobra"

	"github.com/edup2p/punchline/toversok"
	"github.com/edup2p/punchline/types"
	"github.com/edup2p/punchline/types/stun"
)

func newStunCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "stun <host[:port]>",
		Short: "ask a STUN server (or a rendezvous server) for our public endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			server, err := toversok.Resolve(args[0], stun.DefaultPort)
			if err != nil {
				return err
			}

			c, err := net.ListenUDP("udp", nil)
			if err != nil {
				return err
			}
			defer c.Close()

			txID, req := stun.Request()

			if _, err := c.WriteToUDPAddrPort(req, server); err != nil {
				return err
			}

			if err := c.SetReadDeadline(time.Now().Add(timeout)); err != nil {
				return err
			}

			var buf [1024]byte
			n, raddr, err := c.ReadFromUDPAddrPort(buf[:])
			if err != nil {
				return err
			}

			tid, saddr, err := stun.ParseResponse(buf[:n])
			if err != nil {
				return err
			}
			if tid != txID {
				return errors.New("transaction id mismatch")
			}

			raddr = types.NormaliseAddrPort(raddr)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "local   : %v\n", c.LocalAddr())
			fmt.Fprintf(out, "sent  ->  %v\n", server)
			fmt.Fprintf(out, "recv  <-  %v\n", raddr)
			fmt.Fprintf(out, "public  : %v\n", saddr)

			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 3*time.Second, "how long to wait for the answer")

	return cmd
}
