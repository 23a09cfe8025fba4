package hubclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/agent-hub/internal/auth"
	"github.com/rickgao/agent-hub/internal/protocol"
)

// Conn is a WebSocket connection to the hub.
type Conn struct {
	cfg    ConnConfig
	logger *slog.Logger

	conn *websocket.Conn

	// Output channels
	messages chan Message
	errors   chan error
	done     chan struct{}

	// Write serialization
	writeMu sync.Mutex

	// State
	mu         sync.RWMutex
	connected  bool
	closed     bool
	lastPingAt time.Time
	id         string
}

// Dial connects to the hub. The returned Conn is not yet registered.
func Dial(ctx context.Context, cfg ConnConfig, logger *slog.Logger) (*Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConnConfig(cfg.URL)
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, auth.Headers(cfg.Token))
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s: %w (status %d)", cfg.URL, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	c := &Conn{
		cfg:        cfg,
		logger:     logger,
		conn:       conn,
		messages:   make(chan Message, cfg.BufferSize),
		errors:     make(chan error, 1),
		done:       make(chan struct{}),
		connected:  true,
		lastPingAt: time.Now(),
	}

	// The hub pings, we answer.
	conn.SetPingHandler(func(data string) error {
		c.mu.Lock()
		c.lastPingAt = time.Now()
		c.mu.Unlock()

		return conn.WriteControl(
			websocket.PongMessage,
			[]byte(data),
			time.Now().Add(time.Second),
		)
	})

	go c.readLoop()
	if cfg.PingTimeout > 0 {
		go c.heartbeatLoop()
	}

	logger.Debug("websocket connected", "url", cfg.URL)
	return c, nil
}

// Register sends a register frame and waits for the hub's reply. It must be
// called before anything else reads Messages.
func (c *Conn) Register(ctx context.Context, role protocol.Role, project *protocol.Project) (string, error) {
	req := map[string]any{"type": string(protocol.KindRegister), "role": string(role)}
	if project != nil {
		req["project"] = project
	}
	if err := c.SendJSON(req); err != nil {
		return "", err
	}

	msg, err := c.Next(ctx)
	if err != nil {
		return "", fmt.Errorf("await registered: %w", err)
	}
	f, err := msg.Frame()
	if err != nil {
		return "", err
	}

	switch f.Type {
	case string(protocol.KindRegistered):
		c.mu.Lock()
		c.id = f.ConnectionID
		c.mu.Unlock()
		c.logger = c.logger.With("conn_id", f.ConnectionID, "role", role)
		return f.ConnectionID, nil
	case string(protocol.KindError):
		return "", &HubError{Code: f.Code, Message: f.Error}
	default:
		return "", fmt.Errorf("unexpected %q frame before registered", f.Type)
	}
}

// ID returns the hub-assigned connection id, or "" before Register.
func (c *Conn) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.id
}

// Send writes raw bytes to the connection.
func (c *Conn) Send(data []byte) error {
	c.mu.RLock()
	if !c.connected {
		c.mu.RUnlock()
		return ErrNotConnected
	}
	c.mu.RUnlock()

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// SendJSON marshals v and sends it.
func (c *Conn) SendJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	return c.Send(data)
}

// Messages returns the messages channel. It is closed when the read loop
// exits.
func (c *Conn) Messages() <-chan Message {
	return c.messages
}

// Errors returns the errors channel.
func (c *Conn) Errors() <-chan error {
	return c.errors
}

// Next returns the next message or the error that ended the connection.
func (c *Conn) Next(ctx context.Context) (Message, error) {
	select {
	case msg, ok := <-c.messages:
		if ok {
			return msg, nil
		}
		select {
		case err := <-c.errors:
			return Message{}, err
		default:
			return Message{}, ErrNotConnected
		}
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// IsConnected returns the current connection state.
func (c *Conn) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Close sends a normal close frame and closes the socket.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.connected = false
	c.mu.Unlock()

	close(c.done)

	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	return c.conn.Close()
}

func (c *Conn) readLoop() {
	defer func() {
		c.mu.Lock()
		c.connected = false
		c.mu.Unlock()
		close(c.messages)
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		receivedAt := time.Now()

		if err != nil {
			// Ignore errors after Close() is called
			select {
			case <-c.done:
			default:
				select {
				case c.errors <- err:
				default:
				}
			}
			return
		}

		select {
		case c.messages <- Message{Data: data, ReceivedAt: receivedAt}:
		case <-c.done:
			return
		}
	}
}

// heartbeatLoop reports a stale connection when the hub stops pinging.
func (c *Conn) heartbeatLoop() {
	ticker := time.NewTicker(c.cfg.PingTimeout / 2)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.RLock()
			lastPing := c.lastPingAt
			connected := c.connected
			c.mu.RUnlock()

			if !connected {
				return
			}
			if time.Since(lastPing) > c.cfg.PingTimeout {
				c.logger.Warn("no ping received, connection stale",
					"last_ping", lastPing,
					"timeout", c.cfg.PingTimeout,
				)
				select {
				case c.errors <- ErrStaleConnection:
				default:
				}
				c.conn.Close()
				return
			}
		}
	}
}
