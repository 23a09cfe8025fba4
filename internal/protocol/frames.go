package protocol

import (
	"encoding/json"
	"time"
)

// registeredFrame is the wire format for "registered".
type registeredFrame struct {
	Type         string `json:"type"`
	ConnectionID string `json:"connectionId"`
	Role         Role   `json:"role"`
}

// errorFrame is the wire format for hub-synthesized "error" frames.
type errorFrame struct {
	Type      string    `json:"type"`
	RequestID string    `json:"requestId,omitempty"`
	Success   bool      `json:"success"`
	Code      ErrorCode `json:"code"`
	Error     string    `json:"error"`
	Field     string    `json:"field,omitempty"`
}

// notificationFrame is the wire format for hub-originated notifications.
type notificationFrame struct {
	Type      string `json:"type"`
	EventType string `json:"eventType"`
	Data      any    `json:"data"`
}

// ConnectionEvent is the data of a hub-originated "connections" notification.
type ConnectionEvent struct {
	Event        string    `json:"event"` // "registered" or "disconnected"
	ConnectionID string    `json:"connectionId"`
	Role         Role      `json:"role"`
	Project      *Project  `json:"project,omitempty"`
	At           time.Time `json:"at"`
}

// RegisteredFrame builds the reply to a successful register.
func RegisteredFrame(connectionID string, role Role) []byte {
	data, _ := json.Marshal(registeredFrame{
		Type:         string(KindRegistered),
		ConnectionID: connectionID,
		Role:         role,
	})
	return data
}

// ErrorFrame builds an error frame terminal for requestID.
func ErrorFrame(requestID string, code ErrorCode, message string) []byte {
	data, _ := json.Marshal(errorFrame{
		Type:      string(KindError),
		RequestID: requestID,
		Code:      code,
		Error:     message,
	})
	return data
}

// DecodeErrorFrame builds the best-effort frame sent before closing a
// misbehaving connection.
func DecodeErrorFrame(err *DecodeError) []byte {
	data, _ := json.Marshal(errorFrame{
		Type:  string(KindError),
		Code:  err.Kind,
		Error: err.Message,
		Field: err.Field,
	})
	return data
}

// ConnectionEventFrame builds a "connections" notification for observers.
func ConnectionEventFrame(ev ConnectionEvent) []byte {
	data, _ := json.Marshal(notificationFrame{
		Type:      string(KindNotification),
		EventType: EventConnections,
		Data:      ev,
	})
	return data
}
