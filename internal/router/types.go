package router

import (
	"fmt"
	"time"

	"github.com/rickgao/agent-hub/internal/correlation"
	"github.com/rickgao/agent-hub/internal/protocol"
	"github.com/rickgao/agent-hub/internal/registry"
)

// Config holds configuration for the Router.
type Config struct {
	RequestTimeout            time.Duration // Default: 60s
	BroadcastConnectionEvents bool          // Default: true
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		RequestTimeout:            60 * time.Second,
		BroadcastConnectionEvents: true,
	}
}

// Status is how the router disposed of a frame.
type Status int

const (
	StatusDelivered Status = iota // handed to every destination
	StatusQueued                  // request forwarded, awaiting response
	StatusRejected                // dropped, see Outcome.Err
)

func (s Status) String() string {
	switch s {
	case StatusDelivered:
		return "delivered"
	case StatusQueued:
		return "queued"
	case StatusRejected:
		return "rejected"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Outcome is the result of routing one envelope.
type Outcome struct {
	Status    Status
	RequestID string
	Err       *RouteError
	Report    DeliveryReport // notifications and connection events
}

// RouteError explains a rejected frame.
type RouteError struct {
	Code      protocol.ErrorCode
	RequestID string
	Message   string
}

func (e *RouteError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("%s (request %s): %s", e.Code, e.RequestID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Stats contains runtime statistics.
type Stats struct {
	FramesReceived  int64
	FramesRouted    int64
	FramesRejected  int64
	PendingRequests int
}

// Metrics receives routing events. Implementations must be safe for
// concurrent use.
type Metrics interface {
	FrameReceived(kind protocol.Kind)
	FrameRejected(code protocol.ErrorCode)
	RequestForwarded()
	RequestCompleted(latency time.Duration)
	RequestTimedOut()
	UnsolicitedResponse()
	Broadcast(sent, failed int)
	PendingRequests(n int)
	Connections(stats registry.Stats)
}

// Journal records connection lifecycle events.
type Journal interface {
	ConnectionRegistered(c registry.Connection)
	ConnectionClosed(c registry.Connection)
	RequestTimedOut(p correlation.Pending)
}

type nopMetrics struct{}

func (nopMetrics) FrameReceived(protocol.Kind) {}
func (nopMetrics) FrameRejected(protocol.ErrorCode) {}
func (nopMetrics) RequestForwarded() {}
func (nopMetrics) RequestCompleted(time.Duration) {}
func (nopMetrics) RequestTimedOut() {}
func (nopMetrics) UnsolicitedResponse() {}
func (nopMetrics) Broadcast(int, int) {}
func (nopMetrics) PendingRequests(int) {}
func (nopMetrics) Connections(registry.Stats) {}

type nopJournal struct{}

func (nopJournal) ConnectionRegistered(registry.Connection) {}
func (nopJournal) ConnectionClosed(registry.Connection) {}
func (nopJournal) RequestTimedOut(correlation.Pending) {}
