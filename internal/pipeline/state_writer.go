package pipeline

import (
	"context"
	"log/slog"
	"time"

	"moto-alarm/ingestion/internal/domain"
)

// StatePublisher pushes live state and alerts to subscribers.
type StatePublisher interface {
	PublishState(ctx context.Context, sample *domain.Sample, st domain.AlarmState) error
	PublishAlert(ctx context.Context, ev domain.AlertEvent) error
}

type StateWriter struct {
	ch     <-chan *StateUpdate
	pub    StatePublisher
	logger *slog.Logger
}

func NewStateWriter(ch <-chan *StateUpdate, pub StatePublisher, logger *slog.Logger) *StateWriter {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &StateWriter{ch: ch, pub: pub, logger: logger}
}

func (w *StateWriter) Run(ctx context.Context) {
	batch := make([]*StateUpdate, 0, 50)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case u, ok := <-w.ch:
			if !ok {
				w.flushBatch(context.Background(), batch)
				return
			}
			batch = append(batch, u)
			if len(batch) >= cap(batch) {
				w.flushBatch(ctx, batch)
				batch = batch[:0]
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flushBatch(ctx, batch)
				batch = batch[:0]
			}

		case <-ctx.Done():
			// ctx is already cancelled; give the final flush its own deadline.
			flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			w.flushBatch(flushCtx, batch)
			cancel()
			return
		}
	}
}

func (w *StateWriter) flushBatch(ctx context.Context, batch []*StateUpdate) {
	for _, u := range batch {
		if err := w.pub.PublishState(ctx, u.Sample, u.State); err != nil {
			w.logger.Error("state_publish_failed", "entity", u.Sample.EntityID, "error", err)
		}
		if u.Alert != nil {
			if err := w.pub.PublishAlert(ctx, *u.Alert); err != nil {
				w.logger.Error("alert_publish_failed", "entity", u.Alert.EntityID, "error", err)
			}
		}
	}
}
