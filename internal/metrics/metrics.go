package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rickgao/agent-hub/internal/protocol"
	"github.com/rickgao/agent-hub/internal/registry"
)

const namespace = "agenthub"

// Hub holds the hub's collectors on a private registry so instances do
// not collide in tests.
type Hub struct {
	reg *prometheus.Registry

	connections     *prometheus.GaugeVec
	framesReceived  *prometheus.CounterVec
	framesRejected  *prometheus.CounterVec
	forwarded       prometheus.Counter
	completed       prometheus.Counter
	timeouts        prometheus.Counter
	unsolicited     prometheus.Counter
	broadcastSent   prometheus.Counter
	broadcastFailed prometheus.Counter
	pending         prometheus.Gauge
	latency         prometheus.Histogram
}

// New registers the hub collectors plus the Go and process collectors.
func New() *Hub {
	h := &Hub{
		reg: prometheus.NewRegistry(),
		connections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connections",
			Help:      "Live connections by role.",
		}, []string{"role"}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Valid frames received by kind.",
		}, []string{"kind"}),
		framesRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_rejected_total",
			Help:      "Frames rejected by error code.",
		}, []string{"code"}),
		forwarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_forwarded_total",
			Help:      "Requests forwarded to a target.",
		}),
		completed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_completed_total",
			Help:      "Requests answered by their target.",
		}),
		timeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_timed_out_total",
			Help:      "Requests failed with Timeout.",
		}),
		unsolicited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "unsolicited_responses_total",
			Help:      "Responses with no matching pending request.",
		}),
		broadcastSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_deliveries_total",
			Help:      "Frames delivered by fan-out.",
		}),
		broadcastFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_failures_total",
			Help:      "Fan-out deliveries that failed.",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_requests",
			Help:      "Requests awaiting a response.",
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from forward to response.",
			Buckets:   []float64{.005, .01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		}),
	}

	h.reg.MustRegister(
		h.connections,
		h.framesReceived,
		h.framesRejected,
		h.forwarded,
		h.completed,
		h.timeouts,
		h.unsolicited,
		h.broadcastSent,
		h.broadcastFailed,
		h.pending,
		h.latency,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return h
}

// Handler serves the registry in the Prometheus exposition format.
func (h *Hub) Handler() http.Handler {
	return promhttp.HandlerFor(h.reg, promhttp.HandlerOpts{Registry: h.reg})
}

// Registry returns the underlying registry.
func (h *Hub) Registry() *prometheus.Registry {
	return h.reg
}

func (h *Hub) FrameReceived(kind protocol.Kind) {
	h.framesReceived.WithLabelValues(string(kind)).Inc()
}

func (h *Hub) FrameRejected(code protocol.ErrorCode) {
	h.framesRejected.WithLabelValues(string(code)).Inc()
}

func (h *Hub) RequestForwarded() { h.forwarded.Inc() }

func (h *Hub) RequestCompleted(latency time.Duration) {
	h.completed.Inc()
	h.latency.Observe(latency.Seconds())
}

func (h *Hub) RequestTimedOut() { h.timeouts.Inc() }

func (h *Hub) UnsolicitedResponse() { h.unsolicited.Inc() }

func (h *Hub) Broadcast(sent, failed int) {
	h.broadcastSent.Add(float64(sent))
	h.broadcastFailed.Add(float64(failed))
}

func (h *Hub) PendingRequests(n int) { h.pending.Set(float64(n)) }

func (h *Hub) Connections(s registry.Stats) {
	h.connections.WithLabelValues(protocol.RoleApp.String()).Set(float64(s.Apps))
	h.connections.WithLabelValues(protocol.RoleAgent.String()).Set(float64(s.Agents))
	h.connections.WithLabelValues(protocol.RoleObserver.String()).Set(float64(s.Observers))
	h.connections.WithLabelValues(protocol.RoleUnregistered.String()).Set(float64(s.Unregistered))
}
