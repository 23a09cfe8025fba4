package audit

import (
	"time"

	"github.com/rickgao/agent-hub/internal/config"
)

// Event kinds
const (
	KindRegistered     = "registered"
	KindDisconnected   = "disconnected"
	KindRequestTimeout = "request_timeout"
)

// Config holds batch writer settings.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// DefaultConfig returns the writer defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     config.DefaultBatchSize,
		FlushInterval: config.DefaultFlushInterval,
		BufferSize:    config.DefaultBufferSize,
	}
}

// FromConfig converts the audit section of the hub config.
func FromConfig(c config.AuditConfig) Config {
	return Config{
		BatchSize:     c.BatchSize,
		FlushInterval: c.FlushInterval,
		BufferSize:    c.BufferSize,
	}
}

// Event is one row of hub_connection_events.
type Event struct {
	ID           string
	Kind         string
	ConnectionID string
	Role         string
	RemoteAddr   string
	ProjectPath  string
	RequestID    string
	PeerID       string // target of a timed-out request
	OccurredAt   time.Time
}

// Stats are the writer's counters.
type Stats struct {
	Inserts   int64
	Conflicts int64
	Dropped   int64
	Errors    int64
	Flushes   int64
}
