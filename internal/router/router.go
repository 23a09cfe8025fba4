package router

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/rickgao/agent-hub/internal/correlation"
	"github.com/rickgao/agent-hub/internal/protocol"
	"github.com/rickgao/agent-hub/internal/registry"
)

// Router decides where each decoded envelope goes. It owns no goroutines;
// every connection's reader calls HandleFrame in arrival order.
type Router struct {
	cfg     Config
	conns   *registry.Registry
	pending *correlation.Table
	bcast   *Broadcaster
	metrics Metrics
	journal Journal
	logger  *slog.Logger
	now     func() time.Time

	received atomic.Int64
	routed   atomic.Int64
	rejected atomic.Int64
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

// WithJournal sets the lifecycle journal.
func WithJournal(j Journal) Option {
	return func(r *Router) { r.journal = j }
}

// New creates a Router over a connection registry and a pending-request table.
func New(cfg Config, conns *registry.Registry, pending *correlation.Table, opts ...Option) *Router {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultConfig().RequestTimeout
	}

	r := &Router{
		cfg:     cfg,
		conns:   conns,
		pending: pending,
		metrics: nopMetrics{},
		journal: nopJournal{},
		logger:  slog.Default(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.bcast = NewBroadcaster(conns, r.logger)
	return r
}

// Broadcaster returns the router's fan-out helper.
func (r *Router) Broadcaster() *Broadcaster {
	return r.bcast
}

// Stats returns current statistics.
func (r *Router) Stats() Stats {
	return Stats{
		FramesReceived:  r.received.Load(),
		FramesRouted:    r.routed.Load(),
		FramesRejected:  r.rejected.Load(),
		PendingRequests: r.pending.Len(),
	}
}

// Accept records a new, unregistered connection and returns its id.
func (r *Router) Accept(t registry.Transport, remoteAddr string) string {
	id := r.conns.Add(t, remoteAddr)
	r.logger.Debug("connection accepted", "conn_id", id, "remote_addr", remoteAddr)
	r.metrics.Connections(r.conns.Stats())
	return id
}

// HandleFrame decodes, validates and routes one raw frame from connID. A
// non-nil error means the frame was malformed or broke protocol, and the
// caller should close the connection. A *protocol.DecodeError carries the
// details to report to the peer.
func (r *Router) HandleFrame(connID string, raw []byte) error {
	r.received.Add(1)

	conn, ok := r.conns.Get(connID)
	if !ok {
		return registry.ErrNotFound
	}

	env, err := protocol.Decode(raw)
	if err == nil {
		err = protocol.Validate(env, conn.Role)
	}
	if err != nil {
		r.rejected.Add(1)
		var de *protocol.DecodeError
		if errors.As(err, &de) {
			r.metrics.FrameRejected(de.Kind)
		}
		r.logger.Warn("rejected frame",
			"conn_id", connID,
			"role", conn.Role,
			"error", err,
		)
		return err
	}

	r.metrics.FrameReceived(env.Kind)
	r.Route(connID, env)
	return nil
}

// Route dispatches a validated envelope from originID.
func (r *Router) Route(originID string, env *protocol.Envelope) Outcome {
	origin, ok := r.conns.Get(originID)
	if !ok {
		return r.count(Outcome{
			Status: StatusRejected,
			Err:    &RouteError{Code: protocol.CodePeerDisconnected, RequestID: env.RequestID, Message: "origin is not connected"},
		})
	}

	var out Outcome
	switch env.Kind {
	case protocol.KindRegister:
		out = r.register(origin, env)
	case protocol.KindSetProject:
		out = r.setProject(origin, env)
	case protocol.KindRequest:
		out = r.forward(origin, env)
	case protocol.KindResponse, protocol.KindError:
		out = r.complete(origin, env)
	case protocol.KindNotification:
		report := r.bcast.Broadcast(env.Target, env.Raw, origin.ID)
		r.metrics.Broadcast(len(report.Sent), len(report.Failed))
		out = Outcome{Status: StatusDelivered, Report: report}
	default:
		out = r.reject(origin, &RouteError{
			Code:    protocol.CodeProtocolViolation,
			Message: fmt.Sprintf("%q cannot be routed", env.Type),
		})
	}
	return r.count(out)
}

func (r *Router) count(out Outcome) Outcome {
	if out.Status == StatusRejected {
		r.rejected.Add(1)
		if out.Err != nil {
			r.metrics.FrameRejected(out.Err.Code)
		}
	} else {
		r.routed.Add(1)
	}
	return out
}

func (r *Router) register(origin registry.Connection, env *protocol.Envelope) Outcome {
	conn, err := r.conns.Promote(origin.ID, env.Role, env.Project)
	if err != nil {
		return r.reject(origin, &RouteError{Code: protocol.CodeProtocolViolation, Message: err.Error()})
	}

	if err := conn.Send(protocol.RegisteredFrame(conn.ID, conn.Role)); err != nil {
		r.logger.Warn("failed to send registered reply", "conn_id", conn.ID, "error", err)
	}

	stats := r.conns.Stats()
	if conn.Role == protocol.RoleApp && stats.Apps > 1 {
		r.logger.Warn("multiple apps registered, agent requests will be rejected", "apps", stats.Apps)
	}
	r.logger.Info("connection registered",
		"conn_id", conn.ID,
		"role", conn.Role,
		"project", projectPath(conn.Project),
	)
	r.metrics.Connections(stats)
	r.journal.ConnectionRegistered(conn)

	report := r.announce("registered", conn)
	return Outcome{Status: StatusDelivered, Report: report}
}

func (r *Router) setProject(origin registry.Connection, env *protocol.Envelope) Outcome {
	if err := r.conns.SetProject(origin.ID, env.Project); err != nil {
		return Outcome{Status: StatusRejected, Err: &RouteError{Code: protocol.CodePeerDisconnected, Message: err.Error()}}
	}
	r.logger.Debug("project updated", "conn_id", origin.ID, "project", projectPath(env.Project))
	return Outcome{Status: StatusDelivered}
}

// forward sends a request to its target and records it as pending.
func (r *Router) forward(origin registry.Connection, env *protocol.Envelope) Outcome {
	target, rerr := r.resolveTarget(origin, env)
	if rerr != nil {
		return r.reject(origin, rerr)
	}

	now := r.now()
	p := correlation.Pending{
		RequestID: env.RequestID,
		OriginID:  origin.ID,
		TargetID:  target.ID,
		Type:      env.Type,
		Action:    env.Action,
		CreatedAt: now,
		Deadline:  now.Add(r.cfg.RequestTimeout),
	}
	if err := r.pending.Insert(p); err != nil {
		return r.reject(origin, &RouteError{
			Code:      protocol.CodeDuplicateRequestID,
			RequestID: env.RequestID,
			Message:   "requestId is already in flight",
		})
	}

	// The target may have gone away between resolution and insert; its
	// disconnect cancellation could then have missed this entry.
	if _, alive := r.conns.Get(target.ID); !alive {
		return r.abandon(origin, p, "target disconnected")
	}

	if err := target.Send(env.Raw); err != nil {
		r.logger.Warn("failed to forward request",
			"request_id", env.RequestID,
			"target", target.ID,
			"error", err,
		)
		return r.abandon(origin, p, "target unreachable")
	}

	r.metrics.RequestForwarded()
	r.metrics.PendingRequests(r.pending.Len())
	r.logger.Debug("request forwarded",
		"request_id", env.RequestID,
		"type", env.Type,
		"action", env.Action,
		"origin", origin.ID,
		"target", target.ID,
	)
	return Outcome{Status: StatusQueued, RequestID: env.RequestID}
}

// abandon removes a just-inserted entry and fails it back to origin. When
// a concurrent cancellation already removed it, that path owns the reply.
func (r *Router) abandon(origin registry.Connection, p correlation.Pending, msg string) Outcome {
	rerr := &RouteError{Code: protocol.CodePeerDisconnected, RequestID: p.RequestID, Message: msg}
	if _, ok := r.pending.Resolve(p.RequestID); !ok {
		return Outcome{Status: StatusRejected, RequestID: p.RequestID, Err: rerr}
	}
	return r.reject(origin, rerr)
}

func (r *Router) resolveTarget(origin registry.Connection, env *protocol.Envelope) (registry.Connection, *RouteError) {
	switch origin.Role {
	case protocol.RoleAgent:
		apps := r.conns.ListByRole(protocol.RoleApp)
		switch len(apps) {
		case 0:
			return registry.Connection{}, &RouteError{Code: protocol.CodeNoAppAvailable, RequestID: env.RequestID, Message: "no app is connected"}
		case 1:
			return apps[0], nil
		default:
			return registry.Connection{}, &RouteError{
				Code:      protocol.CodeAmbiguousApp,
				RequestID: env.RequestID,
				Message:   fmt.Sprintf("%d apps are connected", len(apps)),
			}
		}

	case protocol.RoleApp:
		if env.TargetConnectionID != "" {
			c, ok := r.conns.Get(env.TargetConnectionID)
			if !ok || c.Role != protocol.RoleAgent {
				return registry.Connection{}, &RouteError{
					Code:      protocol.CodeTargetNotFound,
					RequestID: env.RequestID,
					Message:   fmt.Sprintf("no agent with connection id %s", env.TargetConnectionID),
				}
			}
			return c, nil
		}
		agents := r.conns.ListByRole(protocol.RoleAgent)
		if len(agents) != 1 {
			return registry.Connection{}, &RouteError{
				Code:      protocol.CodeTargetNotFound,
				RequestID: env.RequestID,
				Message:   fmt.Sprintf("targetConnectionId required, %d agents connected", len(agents)),
			}
		}
		return agents[0], nil
	}

	return registry.Connection{}, &RouteError{
		Code:      protocol.CodeProtocolViolation,
		RequestID: env.RequestID,
		Message:   fmt.Sprintf("%s connections cannot send requests", origin.Role),
	}
}

// complete delivers a response or error frame back to the request origin.
func (r *Router) complete(responder registry.Connection, env *protocol.Envelope) Outcome {
	p, ok, found := r.pending.ResolveFrom(env.RequestID, responder.ID)
	if !ok {
		r.metrics.UnsolicitedResponse()
		r.logger.Warn("unsolicited response",
			"request_id", env.RequestID,
			"type", env.Type,
			"conn_id", responder.ID,
			"pending_elsewhere", found,
		)
		return Outcome{
			Status:    StatusRejected,
			RequestID: env.RequestID,
			Err:       &RouteError{Code: protocol.CodeUnsolicitedResponse, RequestID: env.RequestID, Message: "no matching pending request"},
		}
	}

	r.metrics.RequestCompleted(r.now().Sub(p.CreatedAt))
	r.metrics.PendingRequests(r.pending.Len())

	origin, alive := r.conns.Get(p.OriginID)
	if !alive {
		return Outcome{
			Status:    StatusRejected,
			RequestID: p.RequestID,
			Err:       &RouteError{Code: protocol.CodePeerDisconnected, RequestID: p.RequestID, Message: "origin disconnected"},
		}
	}
	if err := origin.Send(env.Raw); err != nil {
		r.logger.Warn("failed to deliver response",
			"request_id", p.RequestID,
			"origin", origin.ID,
			"error", err,
		)
	}
	return Outcome{Status: StatusDelivered, RequestID: p.RequestID}
}

// reject sends a synthesized error frame to origin.
func (r *Router) reject(origin registry.Connection, rerr *RouteError) Outcome {
	if err := origin.Send(protocol.ErrorFrame(rerr.RequestID, rerr.Code, rerr.Message)); err != nil {
		r.logger.Debug("failed to send error frame", "conn_id", origin.ID, "error", err)
	}
	r.logger.Info("request rejected",
		"conn_id", origin.ID,
		"request_id", rerr.RequestID,
		"code", rerr.Code,
		"reason", rerr.Message,
	)
	return Outcome{Status: StatusRejected, RequestID: rerr.RequestID, Err: rerr}
}

// Disconnect removes connID and settles every request that involved it.
// Requests it originated are dropped silently; requests waiting on it fail
// back to their origins with PeerDisconnected.
func (r *Router) Disconnect(connID string) {
	conn, ok := r.conns.Remove(connID)
	if !ok {
		return
	}

	dropped := r.pending.CancelAllFrom(connID)
	stranded := r.pending.CancelByTarget(connID)
	for _, p := range stranded {
		origin, alive := r.conns.Get(p.OriginID)
		if !alive {
			continue
		}
		msg := fmt.Sprintf("%s %s disconnected before responding", conn.Role, conn.ID)
		if err := origin.Send(protocol.ErrorFrame(p.RequestID, protocol.CodePeerDisconnected, msg)); err != nil {
			r.logger.Debug("failed to send error frame", "conn_id", origin.ID, "error", err)
		}
	}

	r.logger.Info("connection closed",
		"conn_id", conn.ID,
		"role", conn.Role,
		"dropped_requests", len(dropped),
		"failed_requests", len(stranded),
	)
	r.metrics.Connections(r.conns.Stats())
	r.metrics.PendingRequests(r.pending.Len())
	r.journal.ConnectionClosed(conn)

	if conn.Role != protocol.RoleUnregistered {
		r.announce("disconnected", conn)
	}
}

// HandleExpired fails timed-out requests back to their origins.
func (r *Router) HandleExpired(expired []correlation.Pending) {
	for _, p := range expired {
		r.metrics.RequestTimedOut()
		r.journal.RequestTimedOut(p)

		origin, alive := r.conns.Get(p.OriginID)
		if !alive {
			continue
		}
		msg := fmt.Sprintf("no response to %s %q within %s", p.Type, p.Action, r.cfg.RequestTimeout)
		if err := origin.Send(protocol.ErrorFrame(p.RequestID, protocol.CodeTimeout, msg)); err != nil {
			r.logger.Debug("failed to send timeout", "conn_id", origin.ID, "error", err)
		}
		r.logger.Info("request timed out",
			"request_id", p.RequestID,
			"origin", p.OriginID,
			"target", p.TargetID,
		)
	}
	r.metrics.PendingRequests(r.pending.Len())
}

// announce tells observers about a connection change.
func (r *Router) announce(event string, conn registry.Connection) DeliveryReport {
	if !r.cfg.BroadcastConnectionEvents {
		return DeliveryReport{}
	}
	frame := protocol.ConnectionEventFrame(protocol.ConnectionEvent{
		Event:        event,
		ConnectionID: conn.ID,
		Role:         conn.Role,
		Project:      conn.Project,
		At:           r.now().UTC(),
	})
	report := r.bcast.Broadcast(protocol.RoleObserver, frame, conn.ID)
	r.metrics.Broadcast(len(report.Sent), len(report.Failed))
	return report
}

func projectPath(p *protocol.Project) string {
	if p == nil {
		return ""
	}
	return p.Path
}
