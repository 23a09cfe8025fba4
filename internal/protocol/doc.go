// Package protocol implements the hub's wire envelope.
//
// Every frame is one JSON object with a "type" discriminator. Decode maps a
// raw frame onto a closed set of envelope kinds:
//   - register / registered (connection handshake)
//   - setProject (workspace rebinding)
//   - <domain>Event requests, which expect exactly one response or error
//   - <...>Response and error frames, terminal for their requestId
//   - notification frames, fanned out by role and never correlated
//
// Domain payloads stay opaque: only the discriminator, requestId and the
// routing fields are typed. The original bytes travel in Envelope.Raw so the
// router can forward frames verbatim.
package protocol
