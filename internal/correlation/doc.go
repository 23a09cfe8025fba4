// Package correlation tracks requests forwarded through the hub until they
// get a response, time out or lose a peer.
//
// The Table is the single source of truth for in-flight requests:
//   - Insert rejects a requestId that is already pending
//   - Resolve paths remove the entry so a second response is unsolicited
//   - SweepExpired and the Cancel helpers hand back the removed entries so
//     the caller can notify origins
//
// The Sweeper runs SweepExpired on a fixed interval.
package correlation
