// Package health reports hub liveness and connection statistics.
package health

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/rickgao/agent-hub/internal/protocol"
	"github.com/rickgao/agent-hub/internal/registry"
	"github.com/rickgao/agent-hub/internal/version"
)

// Status values
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"  // serving, but no app is registered
	StatusUnhealthy = "unhealthy" // a required component is down
)

// ConnectionSource exposes the connection table.
type ConnectionSource interface {
	Stats() registry.Stats
	List() []registry.Connection
}

// PendingSource reports in-flight requests.
type PendingSource interface {
	Len() int
}

// Pinger is an optional dependency checked by /health.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Snapshot is a point-in-time view of the hub.
type Snapshot struct {
	App           int   `json:"app"`
	Agent         int   `json:"agent"`
	Observer      int   `json:"observer"`
	Unregistered  int   `json:"unregistered"`
	Total         int   `json:"total"`
	UptimeSeconds int64 `json:"uptimeSeconds"`
	Pending       int   `json:"pendingRequests"`
}

// Response is the /health body.
type Response struct {
	Status      string            `json:"status"`
	Timestamp   time.Time         `json:"timestamp"`
	Version     version.Info      `json:"version"`
	Connections Snapshot          `json:"connections"`
	Components  map[string]string `json:"components,omitempty"`
}

// ConnectionInfo describes one connection in /connections.
type ConnectionInfo struct {
	ID          string            `json:"id"`
	Role        string            `json:"role"`
	RemoteAddr  string            `json:"remoteAddr"`
	ConnectedAt time.Time         `json:"connectedAt"`
	Project     *protocol.Project `json:"project,omitempty"`
}

// ConnectionsResponse is the /connections body.
type ConnectionsResponse struct {
	Count       int              `json:"count"`
	Connections []ConnectionInfo `json:"connections"`
}

// Reporter builds snapshots and serves them over HTTP.
type Reporter struct {
	conns   ConnectionSource
	pending PendingSource
	db      Pinger
	logger  *slog.Logger
	now     func() time.Time
}

// NewReporter creates a Reporter. db may be nil.
func NewReporter(conns ConnectionSource, pending PendingSource, db Pinger, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{
		conns:   conns,
		pending: pending,
		db:      db,
		logger:  logger,
		now:     time.Now,
	}
}

// Snapshot returns current counts. It reads the registry once, so the
// per-role counts always sum to Total.
func (r *Reporter) Snapshot() Snapshot {
	s := r.conns.Stats()
	snap := Snapshot{
		App:           s.Apps,
		Agent:         s.Agents,
		Observer:      s.Observers,
		Unregistered:  s.Unregistered,
		Total:         s.Total,
		UptimeSeconds: int64(s.Uptime / time.Second),
	}
	if r.pending != nil {
		snap.Pending = r.pending.Len()
	}
	return snap
}

// Check builds the /health response.
func (r *Reporter) Check(ctx context.Context) Response {
	resp := Response{
		Status:      StatusHealthy,
		Timestamp:   r.now().UTC(),
		Version:     version.Get(),
		Connections: r.Snapshot(),
	}

	if r.db != nil {
		resp.Components = make(map[string]string)
		if err := r.db.Ping(ctx); err != nil {
			resp.Status = StatusUnhealthy
			resp.Components["database"] = "disconnected: " + err.Error()
		} else {
			resp.Components["database"] = "connected"
		}
	}

	if resp.Status == StatusHealthy && resp.Connections.App == 0 {
		resp.Status = StatusDegraded
	}
	return resp
}

// HealthHandler serves /health.
func (r *Reporter) HealthHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx, cancel := context.WithTimeout(req.Context(), 5*time.Second)
		defer cancel()

		resp := r.Check(ctx)

		w.Header().Set("Content-Type", "application/json")
		if resp.Status == StatusUnhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			r.logger.Debug("failed to write health response", "error", err)
		}
	})
}

// ConnectionsHandler serves /connections.
func (r *Reporter) ConnectionsHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		conns := r.conns.List()

		resp := ConnectionsResponse{
			Count:       len(conns),
			Connections: make([]ConnectionInfo, 0, len(conns)),
		}
		for _, c := range conns {
			resp.Connections = append(resp.Connections, ConnectionInfo{
				ID:          c.ID,
				Role:        c.Role.String(),
				RemoteAddr:  c.RemoteAddr,
				ConnectedAt: c.ConnectedAt.UTC(),
				Project:     c.Project,
			})
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			r.logger.Debug("failed to write connections response", "error", err)
		}
	})
}
