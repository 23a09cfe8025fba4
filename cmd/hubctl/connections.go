package main

import (
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/rickgao/agent-hub/internal/health"
)

func newConnectionsCmd(g *globals) *cobra.Command {
	var role string

	cmd := &cobra.Command{
		Use:     "connections",
		Aliases: []string{"conns", "ls"},
		Short:   "List connections",
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := g.client().Connections(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to list connections: %w", err)
			}
			return renderConnections(cmd.OutOrStdout(), filterRole(resp.Connections, role))
		},
	}
	cmd.Flags().StringVarP(&role, "role", "r", "", "only show connections with this role (app, agent, observer, unregistered)")
	return cmd
}

func filterRole(conns []health.ConnectionInfo, role string) []health.ConnectionInfo {
	if role == "" {
		return conns
	}
	out := conns[:0:0]
	for _, c := range conns {
		if c.Role == role {
			out = append(out, c)
		}
	}
	return out
}

func renderConnections(w io.Writer, conns []health.ConnectionInfo) error {
	table := tablewriter.NewWriter(w)
	table.Header("ID", "Role", "Remote", "Connected", "Project")

	for _, c := range conns {
		project := ""
		if c.Project != nil {
			project = c.Project.Path
			if c.Project.Name != "" {
				project = c.Project.Name + " (" + c.Project.Path + ")"
			}
		}
		if err := table.Append([]string{
			c.ID,
			c.Role,
			c.RemoteAddr,
			humanize.Time(c.ConnectedAt),
			project,
		}); err != nil {
			return err
		}
	}

	return table.Render()
}
