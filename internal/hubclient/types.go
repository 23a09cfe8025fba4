package hubclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotConnected    = errors.New("not connected")
	ErrStaleConnection = errors.New("connection stale: hub stopped pinging")
)

// ConnConfig holds WebSocket client settings.
type ConnConfig struct {
	URL              string
	Token            string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	// PingTimeout is how long the client tolerates silence from the hub's
	// heartbeat. Zero disables the check.
	PingTimeout time.Duration
	BufferSize  int
}

// DefaultConnConfig returns settings for url.
func DefaultConnConfig(url string) ConnConfig {
	return ConnConfig{
		URL:              url,
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     5 * time.Second,
		BufferSize:       256,
	}
}

// Message is one frame received from the hub.
type Message struct {
	Data       []byte
	ReceivedAt time.Time
}

// Frame is the subset of fields hubclient inspects on incoming frames.
type Frame struct {
	Type         string          `json:"type"`
	ConnectionID string          `json:"connectionId,omitempty"`
	Role         string          `json:"role,omitempty"`
	RequestID    string          `json:"requestId,omitempty"`
	Code         string          `json:"code,omitempty"`
	Error        string          `json:"error,omitempty"`
	Field        string          `json:"field,omitempty"`
	EventType    string          `json:"eventType,omitempty"`
	Data         json.RawMessage `json:"data,omitempty"`
}

// Frame decodes the message's common fields.
func (m Message) Frame() (Frame, error) {
	var f Frame
	if err := json.Unmarshal(m.Data, &f); err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	return f, nil
}

// HubError is an error frame returned by the hub.
type HubError struct {
	RequestID string
	Code      string
	Message   string
}

func (e *HubError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("hub error %s for %s: %s", e.Code, e.RequestID, e.Message)
	}
	return fmt.Sprintf("hub error %s: %s", e.Code, e.Message)
}
