// Package hub wires the registry, router, sweeper and HTTP surface into a
// running server.
//
// Routes:
//   - <ws_path> (default /ws): WebSocket upgrade, token-checked when auth.token is set
//   - /health: liveness and connection counts
//   - /connections: connection list, token-checked when auth.token is set
//   - <metrics.path> (default /metrics): Prometheus exposition, when enabled
package hub
