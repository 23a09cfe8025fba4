// Package audit journals connection lifecycle events to PostgreSQL.
//
// Events are queued on a bounded channel and batch-inserted into
// hub_connection_events. A full queue drops the event; routing never waits
// on the database.
package audit
