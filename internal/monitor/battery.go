package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"moto-alarm/ingestion/internal/notify"
)

type BatteryStatus struct {
	Level    *int `json:"battery_level"`
	Low      bool `json:"is_low"`
	Stale    bool `json:"is_stale"`
	Notified bool `json:"notified"`
}

// BatteryMonitor warns when the latest fresh sample reports a battery below
// the threshold. Stale samples are left to the connectivity monitor.
type BatteryMonitor struct {
	entityID  string
	samples   SampleReader
	notifier  Notifier
	period    time.Duration
	threshold int
	maxAge    time.Duration
	logger    *slog.Logger
	now       func() time.Time
	guard     runGuard
}

func NewBatteryMonitor(entityID string, samples SampleReader, n Notifier, period time.Duration, threshold int, maxAge time.Duration, logger *slog.Logger) *BatteryMonitor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &BatteryMonitor{
		entityID:  entityID,
		samples:   samples,
		notifier:  n,
		period:    period,
		threshold: threshold,
		maxAge:    maxAge,
		logger:    logger,
		now:       time.Now,
	}
}

func (m *BatteryMonitor) Check(ctx context.Context) (BatteryStatus, error) {
	latest, err := m.samples.GetLatestSample(ctx, m.entityID)
	if err != nil {
		return BatteryStatus{}, fmt.Errorf("battery check for %s: %w", m.entityID, err)
	}
	if latest == nil || latest.BatteryLevel == nil {
		return BatteryStatus{}, nil
	}

	level := *latest.BatteryLevel
	st := BatteryStatus{
		Level: &level,
		Low:   level < m.threshold,
		Stale: m.now().Sub(sampleTime(latest)) > m.maxAge,
	}
	if !st.Low || st.Stale {
		return st, nil
	}

	body := fmt.Sprintf("LOW BATTERY!\n\nBattery level: %d%%\nCharging time left: %s\nTime: %s",
		level, orUnknown(latest.BatteryChargingTimeLeft), m.now().Format(time.RFC1123))
	st.Notified = m.notifier.Notify(ctx, notify.LowBatteryKey(m.entityID), notify.LowBattery, body)
	if st.Notified {
		m.logger.Warn("low_battery", "entity", m.entityID, "level", level)
	}
	return st, nil
}

func (m *BatteryMonitor) Run(ctx context.Context) {
	runEvery(ctx, m.period, &m.guard, m.logger, "battery", func(ctx context.Context) {
		if _, err := m.Check(ctx); err != nil {
			m.logger.Error("battery_check_failed", "error", err)
		}
	})
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
