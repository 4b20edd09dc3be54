// Package monitor runs the periodic background checks that watch the
// tracker from the outside: connectivity and battery.
package monitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"moto-alarm/ingestion/internal/domain"
	"moto-alarm/ingestion/internal/notify"
)

// SampleReader returns the newest persisted sample, or nil when the entity
// has never reported.
type SampleReader interface {
	GetLatestSample(ctx context.Context, entityID string) (*domain.Sample, error)
}

// Notifier sends a throttled push notification and reports whether one was
// queued.
type Notifier interface {
	Notify(ctx context.Context, key string, c notify.Category, body string) bool
}

// runGuard keeps ticks of one monitor from overlapping.
type runGuard struct {
	running atomic.Bool
}

func (g *runGuard) tryStart() bool { return g.running.CompareAndSwap(false, true) }
func (g *runGuard) done()          { g.running.Store(false) }

// runEvery calls tick on every period until ctx is done. A tick that finds
// the previous one still running is skipped. It returns only after the last
// tick has finished.
func runEvery(ctx context.Context, period time.Duration, guard *runGuard, logger *slog.Logger, name string, tick func(context.Context)) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	var inflight sync.WaitGroup
	defer inflight.Wait()

	logger.Info("monitor_started", "monitor", name, "period", period.String())
	for {
		select {
		case <-ticker.C:
			if !guard.tryStart() {
				logger.Warn("monitor_tick_skipped", "monitor", name, "reason", "previous run in progress")
				continue
			}
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				defer guard.done()
				tick(ctx)
			}()
		case <-ctx.Done():
			logger.Info("monitor_stopped", "monitor", name)
			return
		}
	}
}

func sampleTime(s *domain.Sample) time.Time {
	if s.Timestamp.IsZero() {
		return s.ReceivedAt
	}
	return s.Timestamp
}
