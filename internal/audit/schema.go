package audit

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS hub_connection_events (
	id            UUID PRIMARY KEY,
	kind          TEXT        NOT NULL,
	connection_id TEXT        NOT NULL,
	role          TEXT        NOT NULL DEFAULT '',
	remote_addr   TEXT        NOT NULL DEFAULT '',
	project_path  TEXT        NOT NULL DEFAULT '',
	request_id    TEXT        NOT NULL DEFAULT '',
	peer_id       TEXT        NOT NULL DEFAULT '',
	occurred_at   TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS hub_connection_events_conn_idx
	ON hub_connection_events (connection_id, occurred_at);
`

// Execer runs a statement without returning rows. *pgxpool.Pool satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// EnsureSchema creates the events table if it does not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	if _, err := db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("create hub_connection_events: %w", err)
	}
	return nil
}
