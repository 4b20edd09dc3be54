package pipeline

import (
	"context"
	"log/slog"
	"time"

	"moto-alarm/ingestion/internal/domain"
	"moto-alarm/ingestion/internal/metrics"
)

// AccessLogStore persists request log entries in bulk.
type AccessLogStore interface {
	BatchInsertAccessLogs(ctx context.Context, entries []*domain.AccessLogEntry) error
}

type AccessLogWriter struct {
	ch         <-chan *domain.AccessLogEntry
	db         AccessLogStore
	batchSize  int
	flushMS    int
	retryDelay time.Duration
	logger     *slog.Logger
}

func NewAccessLogWriter(
	ch <-chan *domain.AccessLogEntry,
	db AccessLogStore,
	batchSize int,
	flushMS int,
	logger *slog.Logger,
) *AccessLogWriter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if batchSize <= 0 {
		batchSize = 1
	}
	if flushMS <= 0 {
		flushMS = 1000
	}
	return &AccessLogWriter{
		ch:         ch,
		db:         db,
		batchSize:  batchSize,
		flushMS:    flushMS,
		retryDelay: 500 * time.Millisecond,
		logger:     logger,
	}
}

func (w *AccessLogWriter) Run(ctx context.Context) {
	batch := make([]*domain.AccessLogEntry, 0, w.batchSize)
	ticker := time.NewTicker(time.Duration(w.flushMS) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case e, ok := <-w.ch:
			if !ok {
				if len(batch) > 0 {
					w.flush(context.Background(), batch)
				}
				return
			}
			batch = append(batch, e)
			if len(batch) >= w.batchSize {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			if len(batch) > 0 {
				flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				w.flush(flushCtx, batch)
				cancel()
			}
			return
		}
	}
}

// flush retries once after a short pause, then gives the batch up.
func (w *AccessLogWriter) flush(ctx context.Context, batch []*domain.AccessLogEntry) {
	err := w.db.BatchInsertAccessLogs(ctx, batch)
	if err != nil {
		w.logger.Warn("access_log_write_failed", "batch", len(batch), "error", err, "retrying", true)
		time.Sleep(w.retryDelay)
		err = w.db.BatchInsertAccessLogs(ctx, batch)
		if err != nil {
			w.logger.Error("access_log_write_dropped", "batch", len(batch), "error", err)
			metrics.AccessLogWriteFailure.Add(int64(len(batch)))
			return
		}
	}
	metrics.AccessLogWriteSuccess.Add(int64(len(batch)))
}
