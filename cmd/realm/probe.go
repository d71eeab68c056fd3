package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	realmerrors "github.com/vango-dev/realm/internal/errors"
	"github.com/vango-dev/realm/pkg/client"
)

type probeFlags struct {
	addr    string
	ws      string
	name    string
	count   int
	timeout time.Duration
}

func probeCmd() *cobra.Command {
	var f probeFlags

	cmd := &cobra.Command{
		Use:   "probe",
		Short: "Handshake with a server and measure round-trip time",
		Long: `Connect to a realm server, complete the protocol handshake,
send a number of pings and print the round-trip times.

Examples:
  realm probe
  realm probe --addr=game.example.com:7171 --count=5
  realm probe --ws=ws://localhost:9171/ws`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if f.count < 1 {
				return realmerrors.New("R301").WithDetail("--count must be at least 1.")
			}
			return runProbe(cmd, f)
		},
	}

	cmd.Flags().StringVarP(&f.addr, "addr", "a", "127.0.0.1:7171", "Server TCP address")
	cmd.Flags().StringVar(&f.ws, "ws", "", "Connect over WebSocket to this URL instead of TCP")
	cmd.Flags().StringVar(&f.name, "name", "realm-probe", "Client name sent in the handshake")
	cmd.Flags().IntVarP(&f.count, "count", "n", 3, "Number of pings")
	cmd.Flags().DurationVarP(&f.timeout, "timeout", "t", 5*time.Second, "Timeout for the whole probe")

	return cmd
}

func runProbe(cmd *cobra.Command, f probeFlags) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), f.timeout)
	defer cancel()

	c, err := dialClient(ctx, f.addr, f.ws, &client.Config{ClientName: f.name})
	if err != nil {
		return err
	}
	defer c.Close()

	s, err := c.Handshake(ctx)
	if err != nil {
		return realmerrors.New("R203").Wrap(err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Connected to %s (server %s, tick rate %d)\n", s.ServerName, s.ServerVersion, s.TickRate)
	fmt.Fprintf(out, "  connection id: %d\n", s.ConnectionID)
	fmt.Fprintf(out, "  clock offset:  %s\n", time.Until(s.ServerTime).Round(time.Millisecond))

	var total, lo, hi time.Duration
	for i := 0; i < f.count; i++ {
		rtt, err := c.Ping(ctx)
		if err != nil {
			return realmerrors.New("R202").Wrap(err)
		}
		fmt.Fprintf(out, "  ping %d: %s\n", i+1, rtt.Round(time.Microsecond))
		total += rtt
		if i == 0 || rtt < lo {
			lo = rtt
		}
		if rtt > hi {
			hi = rtt
		}
	}
	avg := total / time.Duration(f.count)
	fmt.Fprintf(out, "rtt min/avg/max = %s/%s/%s\n",
		lo.Round(time.Microsecond), avg.Round(time.Microsecond), hi.Round(time.Microsecond))
	return nil
}

// dialClient connects over WebSocket when wsURL is set and over TCP
// otherwise.
func dialClient(ctx context.Context, addr, wsURL string, cfg *client.Config) (*client.Client, error) {
	var (
		c   *client.Client
		err error
	)
	if wsURL != "" {
		c, err = client.DialWebSocket(ctx, wsURL, cfg)
	} else {
		c, err = client.Dial(ctx, addr, cfg)
	}
	if err != nil {
		return nil, realmerrors.New("R202").Wrap(err)
	}
	return c, nil
}
