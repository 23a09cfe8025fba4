package router

import (
	"log/slog"

	"github.com/rickgao/agent-hub/internal/protocol"
	"github.com/rickgao/agent-hub/internal/registry"
)

// DeliveryReport lists which connections a fan-out reached.
type DeliveryReport struct {
	Sent   []string
	Failed []string
}

// Broadcaster fans a frame out to every connection holding a role. A failed
// send to one peer never stops delivery to the rest, and is not retried.
type Broadcaster struct {
	conns  *registry.Registry
	logger *slog.Logger
}

// NewBroadcaster creates a Broadcaster over conns.
func NewBroadcaster(conns *registry.Registry, logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{conns: conns, logger: logger}
}

// Broadcast sends frame to every connection with role except the one whose
// id is except.
func (b *Broadcaster) Broadcast(role protocol.Role, frame []byte, except string) DeliveryReport {
	var report DeliveryReport

	for _, c := range b.conns.ListByRole(role) {
		if c.ID == except {
			continue
		}
		if err := c.Send(frame); err != nil {
			b.logger.Debug("broadcast send failed",
				"conn_id", c.ID,
				"role", role,
				"error", err,
			)
			report.Failed = append(report.Failed, c.ID)
			continue
		}
		report.Sent = append(report.Sent, c.ID)
	}

	return report
}
