package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/agent-hub/internal/audit"
	"github.com/rickgao/agent-hub/internal/auth"
	"github.com/rickgao/agent-hub/internal/config"
	"github.com/rickgao/agent-hub/internal/connection"
	"github.com/rickgao/agent-hub/internal/correlation"
	"github.com/rickgao/agent-hub/internal/health"
	"github.com/rickgao/agent-hub/internal/metrics"
	"github.com/rickgao/agent-hub/internal/registry"
	"github.com/rickgao/agent-hub/internal/router"
)

// ErrNoDatabase is returned by New when database.enabled is set but no
// pool was supplied with WithDatabase.
var ErrNoDatabase = errors.New("database enabled but no pool supplied")

// Database is what the hub needs from PostgreSQL. *pgxpool.Pool satisfies it.
type Database interface {
	health.Pinger
	audit.BatchSender
	audit.Execer
}

// Server is a running hub instance.
type Server struct {
	cfg    *config.HubConfig
	logger *slog.Logger

	conns    *registry.Registry
	pending  *correlation.Table
	router   *router.Router
	sweeper  *correlation.Sweeper
	reporter *health.Reporter
	metrics  *metrics.Hub
	journal  *audit.Writer
	db       Database
	token    *auth.Token

	upgrader   websocket.Upgrader
	sessionCfg connection.SessionConfig
	httpServer *http.Server

	// Sessions outlive their HTTP handlers' view of the server, so they
	// are tracked separately from http.Server.Shutdown.
	sessionCtx    context.Context
	closeSessions context.CancelFunc
	sessions      sync.WaitGroup

	shutdownOnce sync.Once
	shutdownErr  error
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithDatabase supplies the pool used for the audit journal and the
// database health check.
func WithDatabase(db Database) Option {
	return func(s *Server) { s.db = db }
}

// New builds a Server from cfg. cfg must already be validated.
func New(cfg *config.HubConfig, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: slog.Default(),
		conns:  registry.New(),
		token:  auth.NewToken(cfg.Auth.Token),
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.Database.Enabled && s.db == nil {
		return nil, ErrNoDatabase
	}
	if !cfg.Database.Enabled {
		s.db = nil
	}

	s.pending = correlation.NewTable()

	routerOpts := []router.Option{router.WithLogger(s.logger.With("component", "router"))}
	if cfg.Metrics.On() {
		s.metrics = metrics.New()
		routerOpts = append(routerOpts, router.WithMetrics(s.metrics))
	}
	var pinger health.Pinger
	if s.db != nil {
		s.journal = audit.NewWriter(audit.FromConfig(cfg.Audit), s.db, s.logger)
		routerOpts = append(routerOpts, router.WithJournal(s.journal))
		pinger = s.db
	}

	s.router = router.New(router.Config{
		RequestTimeout:            cfg.Routing.RequestTimeout,
		BroadcastConnectionEvents: cfg.Routing.ConnectionEvents(),
	}, s.conns, s.pending, routerOpts...)

	s.sweeper = correlation.NewSweeper(
		correlation.SweeperConfig{Interval: cfg.Routing.SweepInterval},
		s.pending,
		s.router,
		s.logger.With("component", "sweeper"),
	)

	s.reporter = health.NewReporter(s.conns, s.pending, pinger, s.logger)

	s.sessionCfg = connection.SessionConfig{
		ReadLimit:     cfg.Server.ReadLimitBytes,
		WriteTimeout:  cfg.Server.WriteTimeout,
		PingInterval:  cfg.Server.PingInterval,
		PongTimeout:   cfg.Server.PongTimeout,
		OutboxInitial: cfg.Server.OutboxInitial,
		OutboxMax:     cfg.Server.OutboxMax,
	}
	s.upgrader = websocket.Upgrader{
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      originChecker(cfg.Server.AllowedOrigins),
	}

	s.sessionCtx, s.closeSessions = context.WithCancel(context.Background())
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Registry returns the connection registry.
func (s *Server) Registry() *registry.Registry {
	return s.conns
}

// Router returns the router.
func (s *Server) Router() *router.Router {
	return s.router
}

// Handler returns the hub's HTTP routes.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.Handle(s.cfg.Server.WSPath, s.token.Middleware(http.HandlerFunc(s.handleWebSocket))).Methods(http.MethodGet)
	r.Handle("/health", s.reporter.HealthHandler()).Methods(http.MethodGet)
	r.Handle("/connections", s.token.Middleware(s.reporter.ConnectionsHandler())).Methods(http.MethodGet)
	if s.metrics != nil {
		r.Handle(s.cfg.Metrics.Path, s.metrics.Handler()).Methods(http.MethodGet)
	}

	return r
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.sessionCtx.Err() != nil {
		http.Error(w, "hub shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		s.logger.Debug("websocket upgrade failed",
			"remote_addr", r.RemoteAddr,
			"origin", r.Header.Get("Origin"),
			"error", err,
		)
		return
	}

	s.sessions.Add(1)
	defer s.sessions.Done()

	session := connection.NewSession(conn, s.sessionCfg, s.logger.With("component", "session"))
	id := s.router.Accept(session, session.RemoteAddr())
	session.Run(s.sessionCtx, id, s.router)
}

// Start launches the background workers: the timeout sweeper and, when a
// database is configured, the audit journal.
func (s *Server) Start(ctx context.Context) error {
	if s.journal != nil {
		if err := audit.EnsureSchema(ctx, s.db); err != nil {
			return err
		}
		if err := s.journal.Start(ctx); err != nil {
			return fmt.Errorf("start audit writer: %w", err)
		}
	}
	if err := s.sweeper.Start(ctx); err != nil {
		return fmt.Errorf("start sweeper: %w", err)
	}
	return nil
}

// Run listens on server.listen_addr and serves until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.cfg.Server.ListenAddr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve starts the workers and serves on ln until ctx is cancelled, then
// shuts everything down.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	if err := s.Start(ctx); err != nil {
		ln.Close()
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("hub listening",
			"addr", ln.Addr().String(),
			"ws_path", s.cfg.Server.WSPath,
			"auth", s.token.Enabled(),
			"metrics", s.metrics != nil,
			"audit", s.journal != nil,
		)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*s.cfg.Server.WriteTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown stops accepting connections, closes every session with
// CloseGoingAway, stops the sweeper and flushes the audit journal.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown(ctx)
	})
	return s.shutdownErr
}

func (s *Server) shutdown(ctx context.Context) error {
	s.logger.Info("shutting down hub", "connections", s.conns.Stats().Total)

	var errs []error
	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	s.closeSessions()
	done := make(chan struct{})
	go func() {
		s.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("sessions did not close in time", "remaining", s.conns.Stats().Total)
	}

	if err := s.sweeper.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop sweeper: %w", err))
	}
	if s.journal != nil {
		if err := s.journal.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop audit writer: %w", err))
		}
	}

	s.logger.Info("hub stopped")
	return errors.Join(errs...)
}
