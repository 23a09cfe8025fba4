// Command hubctl inspects a running agent hub.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rickgao/agent-hub/internal/config"
	"github.com/rickgao/agent-hub/internal/hubclient"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// globals holds the connection flags shared by every subcommand.
type globals struct {
	cli config.CliConfig
}

func (g *globals) client() *hubclient.Client {
	return hubclient.NewClient(g.cli.URL, g.cli.Token, hubclient.WithTimeout(g.cli.Timeout))
}

func newRootCmd() *cobra.Command {
	g := &globals{}

	root := &cobra.Command{
		Use:           "hubctl",
		Short:         "Inspect a running agent hub",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Flags default to AGENTHUB_URL / AGENTHUB_TOKEN / AGENTHUB_TIMEOUT.
	defaults, err := config.LoadCliConfig()
	if err != nil {
		defaults = config.CliConfig{URL: "http://localhost:8080"}
	}
	root.PersistentFlags().StringVar(&g.cli.URL, "url", defaults.URL, "hub base URL")
	root.PersistentFlags().StringVar(&g.cli.Token, "token", defaults.Token, "hub auth token")
	root.PersistentFlags().DurationVar(&g.cli.Timeout, "timeout", defaults.Timeout, "HTTP request timeout")

	root.AddCommand(newHealthCmd(g))
	root.AddCommand(newConnectionsCmd(g))
	root.AddCommand(newWatchCmd(g))
	return root
}
