package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"moto-alarm/ingestion/internal/notify"
)

type Status struct {
	Connected bool `json:"is_connected"`
	// LastSeen is nil when no sample was ever received.
	LastSeen     *time.Time `json:"last_seen"`
	MinutesSince *int       `json:"time_since_last_seen"`
	Notified     bool       `json:"notified"`
}

type ConnectivityMonitor struct {
	entityID  string
	samples   SampleReader
	notifier  Notifier
	period    time.Duration
	threshold time.Duration
	logger    *slog.Logger
	now       func() time.Time
	guard     runGuard
}

func NewConnectivityMonitor(entityID string, samples SampleReader, n Notifier, period, threshold time.Duration, logger *slog.Logger) *ConnectivityMonitor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &ConnectivityMonitor{
		entityID:  entityID,
		samples:   samples,
		notifier:  n,
		period:    period,
		threshold: threshold,
		logger:    logger,
		now:       time.Now,
	}
}

// Check reads the newest sample and raises a throttled notification when the
// tracker has been silent for longer than the threshold, or has never
// reported at all.
func (m *ConnectivityMonitor) Check(ctx context.Context) (Status, error) {
	latest, err := m.samples.GetLatestSample(ctx, m.entityID)
	if err != nil {
		return Status{}, fmt.Errorf("connectivity check for %s: %w", m.entityID, err)
	}

	var st Status
	if latest != nil {
		seen := sampleTime(latest)
		elapsed := m.now().Sub(seen)
		minutes := int(math.Round(elapsed.Minutes()))
		st.LastSeen = &seen
		st.MinutesSince = &minutes
		st.Connected = elapsed <= m.threshold
	}
	if st.Connected {
		return st, nil
	}

	st.Notified = m.notifier.Notify(ctx, notify.KeyDeviceDisconnected, notify.DeviceDisconnected, m.message(st))
	if st.Notified {
		m.logger.Warn("device_disconnected", "entity", m.entityID, "minutes_since", st.MinutesSince)
	}
	return st, nil
}

func (m *ConnectivityMonitor) message(st Status) string {
	now := m.now().Format(time.RFC1123)
	if st.LastSeen == nil {
		return fmt.Sprintf("DEVICE DISCONNECTED!\n\nNo data has ever been received from the device\nLast seen: Never\nTime: %s", now)
	}
	return fmt.Sprintf("DEVICE DISCONNECTED!\n\nDevice has been offline for %d minutes\nLast seen: %s\nTime: %s",
		*st.MinutesSince, st.LastSeen.Format(time.RFC1123), now)
}

// Run checks on every period until ctx is cancelled.
func (m *ConnectivityMonitor) Run(ctx context.Context) {
	runEvery(ctx, m.period, &m.guard, m.logger, "connectivity", func(ctx context.Context) {
		if _, err := m.Check(ctx); err != nil {
			m.logger.Error("connectivity_check_failed", "error", err)
		}
	})
}
