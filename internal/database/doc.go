// Package database opens the PostgreSQL pool used by the audit journal.
//
// The hub keeps all routing state in memory; the database only receives
// connection lifecycle events, so the pool is small and optional.
package database
