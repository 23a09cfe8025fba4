package main

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/rickgao/agent-hub/internal/health"
)

func newHealthCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show hub health and connection counts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := g.client().Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get health: %w", err)
			}
			printHealth(cmd.OutOrStdout(), resp)
			if resp.Status == health.StatusUnhealthy {
				return fmt.Errorf("hub is %s", resp.Status)
			}
			return nil
		},
	}
}

func printHealth(w io.Writer, resp *health.Response) {
	c := resp.Connections
	uptime := time.Duration(c.UptimeSeconds) * time.Second

	fmt.Fprintf(w, "status:      %s\n", resp.Status)
	fmt.Fprintf(w, "version:     %s (%s)\n", resp.Version.Version, resp.Version.Commit)
	fmt.Fprintf(w, "up since:    %s\n", humanize.Time(resp.Timestamp.Add(-uptime)))
	fmt.Fprintf(w, "connections: %s total (app %d, agent %d, observer %d, unregistered %d)\n",
		humanize.Comma(int64(c.Total)), c.App, c.Agent, c.Observer, c.Unregistered)
	fmt.Fprintf(w, "pending:     %s requests\n", humanize.Comma(int64(c.Pending)))

	names := make([]string, 0, len(resp.Components))
	for name := range resp.Components {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "%-12s %s\n", name+":", resp.Components[name])
	}
}
