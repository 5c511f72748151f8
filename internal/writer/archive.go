package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/rickgao/market-stream/internal/compat"
)

const insertPayloadSQL = `
	INSERT INTO stream_payloads (stream_key, received_at, payload)
	VALUES ($1, $2, $3)
`

// WriterConfig holds batching settings.
type WriterConfig struct {
	BatchSize     int           // Rows per insert batch (default: 1000)
	FlushInterval time.Duration // Max time a row waits before flush (default: 1s)
}

// DefaultWriterConfig returns sensible defaults.
func DefaultWriterConfig() WriterConfig {
	return WriterConfig{
		BatchSize:     1000,
		FlushInterval: time.Second,
	}
}

// WriterMetrics counts archive activity.
type WriterMetrics struct {
	Received int64
	Inserts  int64
	Errors   int64
	Flushes  int64
}

// BatchSender is satisfied by *pgxpool.Pool.
type BatchSender interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Subscriber is satisfied by *compat.Adapter. Handlers must outlive idle
// reaping of their stream.
type Subscriber interface {
	SubscribePersistent(key string, h compat.Handler) (func(), error)
}

type payloadRow struct {
	StreamKey  string
	ReceivedAt int64 // Unix microseconds
	Payload    json.RawMessage
}

// ArchiveWriter batches payloads from a set of streams into stream_payloads.
type ArchiveWriter struct {
	cfg    WriterConfig
	keys   []string
	source Subscriber
	db     BatchSender
	logger *slog.Logger
	now    func() time.Time

	// Batching
	batch   []payloadRow
	batchMu sync.Mutex

	unsubs []func()

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics WriterMetrics
}

// NewArchiveWriter creates an ArchiveWriter for keys.
func NewArchiveWriter(
	cfg WriterConfig,
	keys []string,
	source Subscriber,
	db BatchSender,
	logger *slog.Logger,
) *ArchiveWriter {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultWriterConfig()
	if cfg.BatchSize < 1 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	return &ArchiveWriter{
		cfg:    cfg,
		keys:   keys,
		source: source,
		db:     db,
		logger: logger,
		now:    time.Now,
		batch:  make([]payloadRow, 0, cfg.BatchSize),
	}
}

// Start subscribes to every key and begins periodic flushing. On a
// subscribe failure the subscriptions already made are released.
func (w *ArchiveWriter) Start(ctx context.Context) error {
	w.ctx, w.cancel = context.WithCancel(ctx)

	for _, key := range w.keys {
		unsub, err := w.source.SubscribePersistent(key, w.handler(key))
		if err != nil {
			w.release()
			w.cancel()
			return fmt.Errorf("archive subscribe %q: %w", key, err)
		}
		w.unsubs = append(w.unsubs, unsub)
	}

	w.wg.Add(1)
	go w.flushLoop()

	w.logger.Info("archive writer started",
		"streams", len(w.keys),
		"batch_size", w.cfg.BatchSize,
		"flush_interval", w.cfg.FlushInterval,
	)
	return nil
}

// Stop releases the subscriptions, stops flushing and writes what is left.
func (w *ArchiveWriter) Stop(ctx context.Context) error {
	w.logger.Info("stopping archive writer")

	w.release()
	if w.cancel != nil {
		w.cancel()
	}

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		w.logger.Warn("archive writer stop timed out")
	}

	// Final flush
	w.flush(ctx)

	w.logger.Info("archive writer stopped")
	return nil
}

// Stats returns current metrics.
func (w *ArchiveWriter) Stats() WriterMetrics {
	w.batchMu.Lock()
	defer w.batchMu.Unlock()
	return w.metrics
}

func (w *ArchiveWriter) release() {
	for _, unsub := range w.unsubs {
		unsub()
	}
	w.unsubs = nil
}

func (w *ArchiveWriter) handler(key string) compat.Handler {
	return func(payload json.RawMessage) {
		w.handleMessage(key, payload)
	}
}

// handleMessage adds a payload to the batch.
func (w *ArchiveWriter) handleMessage(key string, payload json.RawMessage) {
	row := payloadRow{
		StreamKey:  key,
		ReceivedAt: w.now().UnixMicro(),
		Payload:    payload,
	}

	w.batchMu.Lock()
	w.batch = append(w.batch, row)
	w.metrics.Received++
	shouldFlush := len(w.batch) >= w.cfg.BatchSize
	w.batchMu.Unlock()

	if shouldFlush {
		w.flush(w.ctx)
	}
}

// flushLoop periodically flushes the batch.
func (w *ArchiveWriter) flushLoop() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.flush(w.ctx)
		}
	}
}

// flush writes the current batch to the database.
func (w *ArchiveWriter) flush(ctx context.Context) {
	w.batchMu.Lock()
	if len(w.batch) == 0 {
		w.batchMu.Unlock()
		return
	}

	// Take ownership of current batch
	batch := w.batch
	w.batch = make([]payloadRow, 0, w.cfg.BatchSize)
	w.batchMu.Unlock()

	start := time.Now()

	inserted, err := w.batchInsert(ctx, batch)

	w.batchMu.Lock()
	w.metrics.Inserts += int64(inserted)
	if err != nil {
		w.metrics.Errors++
	} else {
		w.metrics.Flushes++
	}
	w.batchMu.Unlock()

	if err != nil {
		w.logger.Error("batch insert failed", "error", err, "count", len(batch))
		return
	}

	w.logger.Debug("flushed payloads",
		"count", len(batch),
		"duration", time.Since(start),
	)
}

// batchInsert inserts rows with a single pgx.Batch round trip.
func (w *ArchiveWriter) batchInsert(ctx context.Context, rows []payloadRow) (int, error) {
	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(insertPayloadSQL, r.StreamKey, r.ReceivedAt, string(r.Payload))
	}

	results := w.db.SendBatch(ctx, batch)
	defer results.Close()

	inserted := 0
	for range rows {
		ct, err := results.Exec()
		if err != nil {
			return inserted, err
		}
		inserted += int(ct.RowsAffected())
	}

	return inserted, nil
}
