package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tablekit/schemahub/internal/room"
)

// Config holds journal batching settings.
type Config struct {
	BatchSize     int
	FlushInterval time.Duration
	BufferSize    int
}

// Metrics counts journal activity.
type Metrics struct {
	Inserts int64
	Flushes int64
	Errors  int64
}

// Journal consumes registry lifecycle events and writes them to the
// session_events table in batches.
type Journal struct {
	cfg    Config
	logger *slog.Logger

	input <-chan room.Event
	spool *Spool[room.Event]
	db    *pgxpool.Pool

	flushTicker *time.Ticker

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	metrics Metrics
}

// New creates a journal over an event stream. db must be an open pool.
func New(cfg Config, input <-chan room.Event, db *pgxpool.Pool, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	return &Journal{
		cfg:    cfg,
		logger: logger,
		input:  input,
		spool:  NewSpool[room.Event](cfg.BufferSize),
		db:     db,
	}
}

// Start begins consuming events and flushing batches.
func (j *Journal) Start(ctx context.Context) error {
	j.ctx, j.cancel = context.WithCancel(ctx)
	j.flushTicker = time.NewTicker(j.cfg.FlushInterval)

	j.wg.Add(1)
	go j.consumeLoop()

	j.wg.Add(1)
	go j.flushLoop()

	j.logger.Info("journal started",
		"batch_size", j.cfg.BatchSize,
		"flush_interval", j.cfg.FlushInterval,
	)
	return nil
}

// Stop shuts the journal down, flushing whatever remains.
func (j *Journal) Stop(ctx context.Context) error {
	j.logger.Info("stopping journal")

	if j.cancel != nil {
		j.cancel()
	}
	if j.flushTicker != nil {
		j.flushTicker.Stop()
	}

	done := make(chan struct{})
	go func() {
		j.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		j.logger.Info("journal stopped")
	case <-ctx.Done():
		j.logger.Warn("journal stop timed out")
	}

	j.spool.Close()
	j.flush(context.Background())

	return nil
}

// Stats returns current metrics.
func (j *Journal) Stats() Metrics {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.metrics
}

func (j *Journal) consumeLoop() {
	defer j.wg.Done()

	for {
		select {
		case <-j.ctx.Done():
			return
		case ev, ok := <-j.input:
			if !ok {
				return
			}
			j.spool.Put(ev)
			if j.spool.Len() >= j.cfg.BatchSize {
				j.flush(j.ctx)
			}
		}
	}
}

func (j *Journal) flushLoop() {
	defer j.wg.Done()

	for {
		select {
		case <-j.ctx.Done():
			return
		case <-j.flushTicker.C:
			j.flush(j.ctx)
		}
	}
}

// flush drains the spool and writes one batch per call until empty.
func (j *Journal) flush(ctx context.Context) {
	for {
		events := j.spool.Drain(j.cfg.BatchSize)
		if len(events) == 0 {
			return
		}

		start := time.Now()
		if err := j.batchInsert(ctx, events); err != nil {
			j.logger.Error("journal batch insert failed", "error", err, "count", len(events))
			j.mu.Lock()
			j.metrics.Errors++
			j.mu.Unlock()
			return
		}

		j.mu.Lock()
		j.metrics.Inserts += int64(len(events))
		j.metrics.Flushes++
		j.mu.Unlock()

		j.logger.Debug("flushed session events",
			"count", len(events),
			"duration", time.Since(start),
		)
	}
}

func (j *Journal) batchInsert(ctx context.Context, events []room.Event) error {
	batch := &pgx.Batch{}
	for _, ev := range events {
		batch.Queue(`
			INSERT INTO session_events (kind, room_id, conn_id, user_id, change_type, occurred_at)
			VALUES ($1, $2, $3, $4, $5, $6)
		`, string(ev.Kind), ev.RoomID, ev.ConnID, ev.UserID, ev.ChangeType, ev.At)
	}

	results := j.db.SendBatch(ctx, batch)
	defer results.Close()

	for range events {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}
