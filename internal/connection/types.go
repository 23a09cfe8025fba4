package connection

import (
	"errors"
	"time"
)

// Errors
var (
	ErrAlreadyClosed   = errors.New("already closed")
	ErrOutboxFull      = errors.New("outbox full")
	ErrStaleConnection = errors.New("connection stale (no pong)")
)

// Dispatcher receives the frames a session reads. HandleFrame is called
// sequentially in arrival order. A non-nil error closes the session; a
// *protocol.DecodeError is reported to the peer first.
type Dispatcher interface {
	HandleFrame(connID string, raw []byte) error
	Disconnect(connID string)
}

// SessionConfig configures a server-side session.
type SessionConfig struct {
	ReadLimit     int64         // Max inbound frame size in bytes
	WriteTimeout  time.Duration // Write deadline per frame
	PingInterval  time.Duration // How often the hub pings the peer
	PongTimeout   time.Duration // Max silence before the peer is considered dead
	OutboxInitial int           // Initial outbox capacity
	OutboxMax     int           // Hard outbox limit (0 = unbounded)
}

// DefaultSessionConfig returns sensible defaults.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		ReadLimit:     16 << 20, // 16 MiB
		WriteTimeout:  10 * time.Second,
		PingInterval:  30 * time.Second,
		PongTimeout:   90 * time.Second,
		OutboxInitial: 64,
		OutboxMax:     4096,
	}
}
