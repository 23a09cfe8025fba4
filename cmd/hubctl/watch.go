package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/rickgao/agent-hub/internal/hubclient"
	"github.com/rickgao/agent-hub/internal/protocol"
)

func newWatchCmd(g *globals) *cobra.Command {
	var (
		wsPath    string
		eventType string
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Register as an observer and print notifications",
		RunE: func(cmd *cobra.Command, _ []string) error {
			url, err := hubclient.WebSocketURL(g.cli.URL, wsPath)
			if err != nil {
				return err
			}

			cfg := hubclient.DefaultConnConfig(url)
			cfg.Token = g.cli.Token
			conn, err := hubclient.Dial(cmd.Context(), cfg, nil)
			if err != nil {
				return err
			}
			defer conn.Close()

			id, err := conn.Register(cmd.Context(), protocol.RoleObserver, nil)
			if err != nil {
				return fmt.Errorf("register: %w", err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "watching %s as observer %s\n", url, id)

			return watch(cmd.Context(), conn, cmd.OutOrStdout(), eventType)
		},
	}
	cmd.Flags().StringVar(&wsPath, "ws-path", "/ws", "hub WebSocket path")
	cmd.Flags().StringVarP(&eventType, "event", "e", "", "only print notifications with this eventType")
	return cmd
}

// watch prints one line per notification until ctx ends or the hub closes
// the connection.
func watch(ctx context.Context, conn *hubclient.Conn, w io.Writer, eventType string) error {
	for {
		msg, err := conn.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		f, err := msg.Frame()
		if err != nil {
			continue
		}
		if eventType != "" && f.EventType != eventType {
			continue
		}
		fmt.Fprintln(w, formatNotification(msg, f))
	}
}

func formatNotification(msg hubclient.Message, f hubclient.Frame) string {
	data := f.Data
	var compact bytes.Buffer
	if len(data) > 0 && json.Compact(&compact, data) == nil {
		data = compact.Bytes()
	}

	label := f.EventType
	if label == "" {
		label = f.Type
	}
	return fmt.Sprintf("%s %-11s %s", msg.ReceivedAt.Format("15:04:05.000"), label, data)
}
