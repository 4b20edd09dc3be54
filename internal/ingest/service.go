package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"moto-alarm/ingestion/internal/alarm"
	"moto-alarm/ingestion/internal/domain"
	"moto-alarm/ingestion/internal/metrics"
	"moto-alarm/ingestion/internal/notify"
	"moto-alarm/ingestion/internal/pipeline"
)

// SampleStore persists telemetry. GetLatestSample returns nil, nil for an
// entity that never reported.
type SampleStore interface {
	GetLatestSample(ctx context.Context, entityID string) (*domain.Sample, error)
	AppendSample(ctx context.Context, entityID string, sample *domain.Sample) (*domain.Sample, error)
}

type Notifier interface {
	Notify(ctx context.Context, key string, c notify.Category, body string) bool
}

type StateDispatcher interface {
	DispatchState(u *pipeline.StateUpdate) bool
}

type Outcome struct {
	Sample     *domain.Sample `json:"-"`
	Triggered  bool           `json:"triggered"`
	Reason     string         `json:"reason"`
	LowBattery bool           `json:"low_battery"`
}

type Options struct {
	// LowBatteryPercent is the per-sample warning level; readings strictly
	// below it warn.
	LowBatteryPercent int
	AlarmCategory     notify.Category
}

type Service struct {
	registry   *alarm.Registry
	samples    SampleStore
	notifier   Notifier
	dispatcher StateDispatcher
	opts       Options
	logger     *slog.Logger
	now        func() time.Time
}

func NewService(reg *alarm.Registry, samples SampleStore, n Notifier, d StateDispatcher, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if opts.LowBatteryPercent == 0 {
		opts.LowBatteryPercent = 20
	}
	if opts.AlarmCategory.Name == "" {
		opts.AlarmCategory = notify.AlarmTriggered
	}
	return &Service{
		registry:   reg,
		samples:    samples,
		notifier:   n,
		dispatcher: d,
		opts:       opts,
		logger:     logger,
		now:        time.Now,
	}
}

// Ingest evaluates and stores one sample. A nil sample is the "no data"
// case: it is evaluated but nothing is persisted. A storage failure is
// returned; the alarm state keeps the evaluation.
func (s *Service) Ingest(ctx context.Context, entityID string, sample *domain.Sample) (Outcome, error) {
	metrics.SamplesReceived.Add(1)

	if sample == nil {
		res, err := s.registry.Evaluate(ctx, entityID, nil)
		if err != nil {
			return Outcome{}, fmt.Errorf("evaluate empty sample for %s: %w", entityID, err)
		}
		return Outcome{Triggered: res.Triggered, Reason: res.Reason}, nil
	}

	sample.ID = uuid.NewString()
	sample.EntityID = entityID
	sample.ReceivedAt = s.now().UTC()
	if sample.Timestamp.IsZero() {
		sample.Timestamp = sample.ReceivedAt
	}

	res, st, err := s.registry.EvaluateState(ctx, entityID, sample)
	if err != nil {
		return Outcome{}, fmt.Errorf("evaluate sample for %s: %w", entityID, err)
	}

	stored, err := s.samples.AppendSample(ctx, entityID, sample)
	if err != nil {
		metrics.SampleStoreFailures.Add(1)
		return Outcome{}, fmt.Errorf("store sample for %s: %w", entityID, err)
	}

	out := Outcome{Sample: stored, Triggered: res.Triggered, Reason: res.Reason}

	var alert *domain.AlertEvent
	if res.Triggered {
		metrics.AlarmsTriggered.Add(1)
		alert = &domain.AlertEvent{
			EntityID:    entityID,
			Category:    s.opts.AlarmCategory.Name,
			Reason:      res.Reason,
			TriggeredAt: sample.ReceivedAt,
		}
		body := fmt.Sprintf("ALARM TRIGGERED!\n\n%s\nTime: %s", res.Reason, sample.ReceivedAt.Format(time.RFC1123))
		s.notifier.Notify(ctx, notify.AlarmKey(entityID), s.opts.AlarmCategory, body)
	}

	if lvl := sample.BatteryLevel; lvl != nil && *lvl < s.opts.LowBatteryPercent && st.Mode != domain.ModeDisabled {
		out.LowBattery = true
		body := fmt.Sprintf("LOW BATTERY!\n\nBattery level: %d%%\nCharging time left: %s", *lvl, unknownIfEmpty(sample.BatteryChargingTimeLeft))
		s.notifier.Notify(ctx, notify.LowBatteryKey(entityID), notify.LowBattery, body)
	}

	if s.dispatcher != nil {
		s.dispatcher.DispatchState(&pipeline.StateUpdate{Sample: stored, State: st, Alert: alert})
	}

	s.logger.Debug("sample_ingested", "entity", entityID, "sample_id", stored.ID, "triggered", res.Triggered)
	return out, nil
}

// Latest returns the newest stored sample for entityID, or nil.
func (s *Service) Latest(ctx context.Context, entityID string) (*domain.Sample, error) {
	return s.samples.GetLatestSample(ctx, entityID)
}

func unknownIfEmpty(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}
