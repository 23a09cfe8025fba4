package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/rickgao/agent-hub/internal/protocol"
)

// Session is the hub's end of one peer WebSocket. It implements
// registry.Transport: Send only queues, the session's writer goroutine is
// the sole writer on the socket.
type Session struct {
	cfg    SessionConfig
	conn   *websocket.Conn
	outbox *Outbox[[]byte]
	logger *slog.Logger

	id string

	// Close state
	mu          sync.Mutex
	closing     bool
	closeCode   int
	closeReason string

	readDone  chan struct{}
	aborted   chan struct{}
	abortOnce sync.Once
}

// NewSession wraps an upgraded connection.
func NewSession(conn *websocket.Conn, cfg SessionConfig, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = DefaultSessionConfig().PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = DefaultSessionConfig().PongTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = DefaultSessionConfig().WriteTimeout
	}

	return &Session{
		cfg:       cfg,
		conn:      conn,
		outbox:    NewOutbox[[]byte](cfg.OutboxInitial, cfg.OutboxMax),
		logger:    logger,
		closeCode: websocket.CloseNormalClosure,
		readDone:  make(chan struct{}),
		aborted:   make(chan struct{}),
	}
}

// RemoteAddr returns the peer's network address.
func (s *Session) RemoteAddr() string {
	return s.conn.RemoteAddr().String()
}

// Send queues a frame for the writer. A full outbox means the peer is not
// keeping up; the session is dropped and ErrOutboxFull returned.
func (s *Session) Send(frame []byte) error {
	err := s.outbox.Push(frame)
	if errors.Is(err, ErrOutboxFull) {
		s.logger.Warn("outbox full, dropping slow peer",
			"conn_id", s.id,
			"queued", s.outbox.Len(),
		)
		s.abort()
	}
	return err
}

// Close starts a graceful close: queued frames are flushed, then a close
// frame with code and reason is sent. Only the first call's code is used.
func (s *Session) Close(code int, reason string) {
	s.mu.Lock()
	if !s.closing {
		s.closing = true
		s.closeCode = code
		s.closeReason = reason
	}
	s.mu.Unlock()

	s.outbox.Close()
}

// Stats returns the session's outbox statistics.
func (s *Session) Stats() OutboxStats {
	return s.outbox.Stats()
}

// Run serves the session until the peer goes away or ctx is cancelled.
// Disconnect is called on d exactly once, after the last frame is handled.
func (s *Session) Run(ctx context.Context, id string, d Dispatcher) {
	s.id = id
	s.logger = s.logger.With("conn_id", id)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()

	stop := context.AfterFunc(ctx, func() {
		s.Close(websocket.CloseGoingAway, "hub shutting down")
	})
	defer stop()

	s.readLoop(d)
	close(s.readDone)

	d.Disconnect(id)
	s.Close(websocket.CloseNormalClosure, "")

	<-writerDone
	s.conn.Close()
}

func (s *Session) readLoop(d Dispatcher) {
	if s.cfg.ReadLimit > 0 {
		s.conn.SetReadLimit(s.cfg.ReadLimit)
	}
	s.extendReadDeadline()
	s.conn.SetPongHandler(func(string) error {
		s.extendReadDeadline()
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadError(err)
			return
		}
		s.extendReadDeadline()

		if err := s.dispatch(d, data); err != nil {
			var de *protocol.DecodeError
			if errors.As(err, &de) {
				s.Send(protocol.DecodeErrorFrame(de))
				s.Close(websocket.ClosePolicyViolation, string(de.Kind))
			} else {
				s.logger.Warn("closing connection", "error", err)
				s.Close(websocket.CloseInternalServerErr, "internal error")
			}
			return
		}
	}
}

// dispatch hands one frame to d. A panic while handling the frame closes
// this connection only.
func (s *Session) dispatch(d Dispatcher, data []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic handling frame", "panic", r)
			err = fmt.Errorf("panic handling frame: %v", r)
		}
	}()
	return d.HandleFrame(s.id, data)
}

func (s *Session) extendReadDeadline() {
	s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
}

func (s *Session) logReadError(err error) {
	var netErr net.Error
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.logger.Warn("frame exceeds read limit", "limit", s.cfg.ReadLimit)
	case errors.As(err, &netErr) && netErr.Timeout():
		s.logger.Info("peer stopped answering pings", "error", ErrStaleConnection, "timeout", s.cfg.PongTimeout)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
		s.logger.Debug("peer closed connection", "error", err)
	default:
		if !s.isClosing() {
			s.logger.Debug("read error", "error", err)
		}
	}
}

func (s *Session) writeLoop() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.aborted:
			return

		case <-s.outbox.Ready():
			for _, frame := range s.outbox.Drain(0) {
				s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
				if err := s.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
					s.logger.Debug("write failed", "error", err)
					s.abort()
					return
				}
			}
			if s.outbox.Closed() && s.outbox.Len() == 0 {
				s.finish()
				return
			}

		case <-ticker.C:
			deadline := time.Now().Add(s.cfg.WriteTimeout)
			if err := s.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.logger.Debug("failed to send ping", "error", err)
				s.abort()
				return
			}
		}
	}
}

// finish sends the close frame and tears the socket down once the reader
// has stopped or the peer fails to answer in time.
func (s *Session) finish() {
	s.mu.Lock()
	code, reason := s.closeCode, s.closeReason
	s.mu.Unlock()

	deadline := time.Now().Add(s.cfg.WriteTimeout)
	s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)

	select {
	case <-s.readDone:
	case <-time.After(s.cfg.WriteTimeout):
	}
	s.conn.Close()
}

// abort drops the connection without flushing.
func (s *Session) abort() {
	s.abortOnce.Do(func() {
		close(s.aborted)
		s.outbox.Close()
		s.conn.Close()
	})
}

func (s *Session) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}
