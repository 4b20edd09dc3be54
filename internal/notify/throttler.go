package notify

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"

	"moto-alarm/ingestion/internal/domain"
	"moto-alarm/ingestion/internal/metrics"
)

// RecordStore persists the last-notification time per throttling key.
// GetNotificationRecord returns nil, nil when no record exists.
type RecordStore interface {
	GetNotificationRecord(ctx context.Context, key string) (*domain.NotificationRecord, error)
	UpsertNotificationRecord(ctx context.Context, key, category string, at time.Time) error
	DeleteNotificationRecord(ctx context.Context, key string) error
}

// Throttler decides whether a notification for a key may go out now.
// Lookup failures fail open: over-notifying beats a silent security alert.
type Throttler struct {
	store  RecordStore
	logger *slog.Logger
	now    func() time.Time

	locks [lockStripes]sync.Mutex
}

// lockStripes bounds the per-key locks; keys sharing a stripe only
// serialise with each other.
const lockStripes = 64

func NewThrottler(store RecordStore, logger *slog.Logger) *Throttler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Throttler{store: store, logger: logger, now: time.Now}
}

func (t *Throttler) stripe(key string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(key))
	return &t.locks[h.Sum32()%lockStripes]
}

func (t *Throttler) lock(key string) func() {
	mu := t.stripe(key)
	mu.Lock()
	return mu.Unlock
}

// ShouldNotify reports whether key is due for a notification in category c.
func (t *Throttler) ShouldNotify(ctx context.Context, key string, c Category) bool {
	rec, err := t.store.GetNotificationRecord(ctx, key)
	if err != nil {
		t.logger.Error("notification_record_lookup_failed", "key", key, "category", c.Name, "error", err)
		return true
	}
	if rec == nil {
		return true
	}
	return t.now().Sub(rec.LastNotification) >= c.MinInterval
}

// RecordNotification stamps key with the current time and bumps its count.
func (t *Throttler) RecordNotification(ctx context.Context, key string, c Category) error {
	if err := t.store.UpsertNotificationRecord(ctx, key, c.Name, t.now()); err != nil {
		return fmt.Errorf("failed to record notification for %s: %w", key, err)
	}
	return nil
}

// Acquire checks and records in one step under a per-key lock, so two
// racing callers can never both be told to send.
func (t *Throttler) Acquire(ctx context.Context, key string, c Category) bool {
	return t.AcquireFunc(ctx, key, c, func() bool { return true })
}

// AcquireFunc is Acquire with the send in the middle: send runs only when key
// is due, and the record is written only if send reports success.
func (t *Throttler) AcquireFunc(ctx context.Context, key string, c Category, send func() bool) bool {
	unlock := t.lock(key)
	defer unlock()

	if !t.ShouldNotify(ctx, key, c) {
		metrics.NotificationsThrottled.Add(1)
		return false
	}
	if !send() {
		return false
	}
	if err := t.RecordNotification(ctx, key, c); err != nil {
		t.logger.Error("notification_record_update_failed", "key", key, "category", c.Name, "error", err)
	}
	return true
}

// Forget drops the record for key so its next notification fires at once.
func (t *Throttler) Forget(ctx context.Context, key string) error {
	unlock := t.lock(key)
	defer unlock()

	if err := t.store.DeleteNotificationRecord(ctx, key); err != nil {
		return fmt.Errorf("failed to forget notification record %s: %w", key, err)
	}
	return nil
}
