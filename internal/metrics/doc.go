// Package metrics provides Prometheus metrics for monitoring.
//
// Key metrics:
//   - Live connections by role
//   - Frames received and rejected by kind and code
//   - Pending requests, completions, timeouts and their latency
//   - Unsolicited responses and failed broadcast deliveries
package metrics
