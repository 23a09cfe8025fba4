package correlation

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// ExpiryHandler receives entries removed by a sweep.
type ExpiryHandler interface {
	HandleExpired(expired []Pending)
}

// ExpiryHandlerFunc is a function adapter for ExpiryHandler.
type ExpiryHandlerFunc func([]Pending)

func (f ExpiryHandlerFunc) HandleExpired(expired []Pending) {
	f(expired)
}

// SweeperConfig holds sweeper configuration.
type SweeperConfig struct {
	Interval time.Duration // Sweep interval (default: 1s)
}

// DefaultSweeperConfig returns sensible defaults.
func DefaultSweeperConfig() SweeperConfig {
	return SweeperConfig{Interval: time.Second}
}

// Sweeper periodically expires overdue requests.
type Sweeper struct {
	cfg     SweeperConfig
	table   *Table
	handler ExpiryHandler
	logger  *slog.Logger
	now     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewSweeper creates a Sweeper over table.
func NewSweeper(cfg SweeperConfig, table *Table, handler ExpiryHandler, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSweeperConfig().Interval
	}
	return &Sweeper{
		cfg:     cfg,
		table:   table,
		handler: handler,
		logger:  logger,
		now:     time.Now,
	}
}

// Start begins the sweep loop.
func (s *Sweeper) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("request sweeper started", "interval", s.cfg.Interval)
	return nil
}

// Stop shuts the loop down and waits for an in-progress sweep.
func (s *Sweeper) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("request sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Sweeper) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// Sweep expires overdue entries once and returns how many were removed.
func (s *Sweeper) Sweep() int {
	expired := s.table.SweepExpired(s.now())
	if len(expired) == 0 {
		return 0
	}

	s.logger.Debug("expired pending requests", "count", len(expired))
	if s.handler != nil {
		s.handler.HandleExpired(expired)
	}
	return len(expired)
}
