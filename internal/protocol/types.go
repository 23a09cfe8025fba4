package protocol

import (
	"encoding/json"
	"strings"
)

// Kind is the decoded class of an envelope.
type Kind string

const (
	KindRegister     Kind = "register"
	KindRegistered   Kind = "registered"
	KindSetProject   Kind = "setProject"
	KindRequest      Kind = "request"
	KindResponse     Kind = "response"
	KindError        Kind = "error"
	KindNotification Kind = "notification"
)

// Role identifies what kind of peer sits behind a connection.
type Role string

const (
	RoleUnregistered Role = ""
	RoleApp          Role = "app"
	RoleAgent        Role = "agent"
	RoleObserver     Role = "observer"
)

// ParseRole converts a wire role string. ok is false for anything that is
// not app, agent or observer.
func ParseRole(s string) (Role, bool) {
	switch Role(s) {
	case RoleApp, RoleAgent, RoleObserver:
		return Role(s), true
	}
	return RoleUnregistered, false
}

// String returns the wire form, or "unregistered".
func (r Role) String() string {
	if r == RoleUnregistered {
		return "unregistered"
	}
	return string(r)
}

// ErrorCode is the machine-readable code carried by error frames.
type ErrorCode string

const (
	// Decode errors
	CodeUnknownType       ErrorCode = "UnknownType"
	CodeSchemaViolation   ErrorCode = "SchemaViolation"
	CodeProtocolViolation ErrorCode = "ProtocolViolation"

	// Route errors
	CodeNoAppAvailable     ErrorCode = "NoAppAvailable"
	CodeAmbiguousApp       ErrorCode = "AmbiguousApp"
	CodeTargetNotFound     ErrorCode = "TargetNotFound"
	CodeDuplicateRequestID ErrorCode = "DuplicateRequestId"

	// Correlation errors
	CodeTimeout             ErrorCode = "Timeout"
	CodePeerDisconnected    ErrorCode = "PeerDisconnected"
	CodeUnsolicitedResponse ErrorCode = "UnsolicitedResponse"
)

// Project is the workspace an App or Agent is bound to.
type Project struct {
	Path     string          `json:"path,omitempty"`
	Name     string          `json:"name,omitempty"`
	Type     string          `json:"type,omitempty"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// Envelope is one decoded frame. Which fields are populated depends on Kind.
type Envelope struct {
	Kind Kind
	Type string // raw discriminator, e.g. "fsEvent"

	// register
	Role Role

	// register, setProject
	Project *Project

	// registered
	ConnectionID string

	// request, response, error
	RequestID string

	// request
	Domain             string
	Action             string
	TargetConnectionID string

	// response, error
	Success *bool

	// error
	Message string
	Code    ErrorCode

	// notification
	EventType string
	Target    Role

	// message (request), data (response, notification)
	Payload json.RawMessage

	// Raw is the frame exactly as received.
	Raw []byte
}

// NotificationEventTypes are the eventType values peers may publish.
var NotificationEventTypes = map[string]struct{}{
	"debug":    {},
	"git":      {},
	"browser":  {},
	"terminal": {},
	"console":  {},
	"preview":  {},
	"planner":  {},
	"editor":   {},
}

// EventConnections is the eventType of hub-originated connection updates.
const EventConnections = "connections"

const (
	requestSuffix  = "Event"
	responseSuffix = "Response"
)

// classify maps a discriminator onto a Kind.
func classify(typ string) (Kind, bool) {
	switch typ {
	case string(KindRegister):
		return KindRegister, true
	case string(KindRegistered):
		return KindRegistered, true
	case string(KindSetProject):
		return KindSetProject, true
	case string(KindError):
		return KindError, true
	case string(KindNotification):
		return KindNotification, true
	}
	if len(typ) > len(requestSuffix) && strings.HasSuffix(typ, requestSuffix) {
		return KindRequest, true
	}
	if len(typ) > len(responseSuffix) && strings.HasSuffix(typ, responseSuffix) {
		return KindResponse, true
	}
	return "", false
}

// domainOf returns "fs" for "fsEvent".
func domainOf(typ string) string {
	return strings.TrimSuffix(typ, requestSuffix)
}
