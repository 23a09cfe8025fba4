// Package hubclient talks to a running hub: Conn is a WebSocket peer that
// can register as any role, Client reads the HTTP status endpoints.
package hubclient
