package main

import (
	"os"

	"github.com/spf13/cobra"
	realmerrors "github.com/vango-dev/realm/internal/errors"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		realmerrors.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "realm",
		Short: "Network core for multiplayer game servers",
		Long: `Realm runs the network edge of a multiplayer game server.

It accepts TCP (and optionally WebSocket) clients, drives the
binary protocol handshake, tracks per-connection state and
publishes decoded packets to game logic on a tick scheduler.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.AddCommand(
		serveCmd(),
		probeCmd(),
		benchCmd(),
		versionCmd(),
	)
	return cmd
}
