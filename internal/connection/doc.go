// Package connection implements the hub side of a peer's WebSocket.
//
// Each Session:
//   - Reads frames and hands them to a Dispatcher one at a time, in order
//   - Owns the only writer on its socket, draining a bounded Outbox
//   - Pings the peer and drops it when pongs stop arriving
//   - Tells the Dispatcher exactly once when the peer is gone
package connection
