package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"golang.org/x/sync/errgroup"

	"github.com/rickgao/agent-hub/internal/correlation"
	"github.com/rickgao/agent-hub/internal/registry"
)

const insertSQL = `
	INSERT INTO hub_connection_events
		(id, kind, connection_id, role, remote_addr, project_path, request_id, peer_id, occurred_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (id) DO NOTHING
`

// flushTimeout bounds a single batch insert, including the final one
// issued after the writer's context is cancelled.
const flushTimeout = 5 * time.Second

// BatchSender sends a pgx batch. *pgxpool.Pool satisfies it.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Writer consumes lifecycle events and writes them to hub_connection_events.
// It implements router.Journal.
type Writer struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	// Input from the router
	input chan Event

	// Database
	db BatchSender

	// Batching
	batch       []Event
	batchMu     sync.Mutex
	flushTicker *time.Ticker

	// Lifecycle
	cancel context.CancelFunc
	group  *errgroup.Group

	// Metrics
	metrics Stats
}

// NewWriter creates a new Writer.
func NewWriter(cfg Config, db BatchSender, logger *slog.Logger) *Writer {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Writer{
		cfg:    cfg,
		logger: logger.With("component", "audit"),
		now:    time.Now,
		input:  make(chan Event, cfg.BufferSize),
		db:     db,
		batch:  make([]Event, 0, cfg.BatchSize),
	}
}

// ConnectionRegistered records a successful register.
func (w *Writer) ConnectionRegistered(c registry.Connection) {
	w.enqueue(w.connectionEvent(KindRegistered, c))
}

// ConnectionClosed records a disconnect of a registered connection.
func (w *Writer) ConnectionClosed(c registry.Connection) {
	w.enqueue(w.connectionEvent(KindDisconnected, c))
}

// RequestTimedOut records a request whose deadline passed unanswered.
func (w *Writer) RequestTimedOut(p correlation.Pending) {
	w.enqueue(Event{
		ID:           uuid.NewString(),
		Kind:         KindRequestTimeout,
		ConnectionID: p.OriginID,
		RequestID:    p.RequestID,
		PeerID:       p.TargetID,
		OccurredAt:   w.now().UTC(),
	})
}

func (w *Writer) connectionEvent(kind string, c registry.Connection) Event {
	ev := Event{
		ID:           uuid.NewString(),
		Kind:         kind,
		ConnectionID: c.ID,
		Role:         c.Role.String(),
		RemoteAddr:   c.RemoteAddr,
		OccurredAt:   w.now().UTC(),
	}
	if c.Project != nil {
		ev.ProjectPath = c.Project.Path
	}
	return ev
}

// enqueue never blocks. Events that do not fit are dropped.
func (w *Writer) enqueue(ev Event) {
	select {
	case w.input <- ev:
	default:
		w.batchMu.Lock()
		w.metrics.Dropped++
		w.batchMu.Unlock()
		w.logger.Warn("audit buffer full, dropping event",
			"kind", ev.Kind,
			"conn_id", ev.ConnectionID,
			"buffer_size", w.cfg.BufferSize,
		)
	}
}

// Start begins consuming events and writing to the database.
func (w *Writer) Start(ctx context.Context) error {
	ctx, w.cancel = context.WithCancel(ctx)
	w.flushTicker = time.NewTicker(w.cfg.FlushInterval)

	w.group, ctx = errgroup.WithContext(ctx)
	w.group.Go(func() error { return w.consumeLoop(ctx) })
	w.group.Go(func() error { return w.flushLoop(ctx) })

	w.logger.Info("audit writer started",
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
		"buffer_size", w.cfg.BufferSize,
	)
	return nil
}

// Stop shuts down the writer and flushes whatever is still queued.
func (w *Writer) Stop(ctx context.Context) error {
	w.logger.Info("stopping audit writer")

	if w.cancel != nil {
		w.cancel()
	}
	if w.flushTicker != nil {
		w.flushTicker.Stop()
	}

	if w.group != nil {
		done := make(chan struct{})
		go func() {
			w.group.Wait()
			close(done)
		}()

		select {
		case <-done:
			w.logger.Info("audit writer stopped")
		case <-ctx.Done():
			w.logger.Warn("audit writer stop timed out")
			return ctx.Err()
		}
	}

	// Final flush
	w.drainInput()
	w.flush()

	return nil
}

// Stats returns current metrics.
func (w *Writer) Stats() Stats {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *Writer) consumeLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-w.input:
			w.handleEvent(ev)
		}
	}
}

func (w *Writer) flushLoop(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.flushTicker.C:
			w.flush()
		}
	}
}

func (w *Writer) drainInput() {
	for {
		select {
		case ev := <-w.input:
			w.batchMu.Lock()
			w.batch = append(w.batch, ev)
			w.batchMu.Unlock()
		default:
			return
		}
	}
}

func (w *Writer) handleEvent(ev Event) {
	w.batchMu.Lock()
	w.batch = append(w.batch, ev)
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush()
	}
}

// flush writes the current batch to the database. A failed batch is
// logged and discarded.
func (w *Writer) flush() {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]Event, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	conflicts, err := w.batchInsert(batch)
	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		w.batchMu.Lock()
		w.metrics.Errors++
		w.batchMu.Unlock()
		return
	}

	w.batchMu.Lock()
	w.metrics.Inserts += int64(len(batch) - conflicts)
	w.metrics.Conflicts += int64(conflicts)
	w.metrics.Flushes++
	w.batchMu.Unlock()

	w.logger.Debug("flushed audit events",
		"count", len(batch),
		"conflicts", conflicts,
		"duration", time.Since(start),
	)
}

func (w *Writer) batchInsert(rows []Event) (conflicts int, err error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertSQL,
			r.ID, r.Kind, r.ConnectionID, r.Role, r.RemoteAddr,
			r.ProjectPath, r.RequestID, r.PeerID, r.OccurredAt,
		)
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return 0, err
		}
		if ct.RowsAffected() == 0 {
			conflicts++
		}
	}

	return conflicts, nil
}
