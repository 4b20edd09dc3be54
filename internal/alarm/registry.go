package alarm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"moto-alarm/ingestion/internal/domain"
)

var ErrInvalidArming = errors.New("invalid arming settings")

// StateStore persists alarm state between restarts.
type StateStore interface {
	LoadAlarmState(ctx context.Context, entityID string) (*domain.AlarmState, error)
	SaveAlarmState(ctx context.Context, entityID string, state domain.AlarmState) error
}

// ArmingUpdate carries the externally controlled settings. Nil fields are
// left unchanged.
type ArmingUpdate struct {
	Mode                    *domain.Mode `json:"mode,omitempty"`
	MovementSensitivity     *int         `json:"movement_sensitivity,omitempty"`
	DataPullIntervalSeconds *int         `json:"data_pull_interval_seconds,omitempty"`
}

func (u ArmingUpdate) validate() error {
	if u.Mode != nil {
		if _, err := domain.ParseMode(string(*u.Mode)); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArming, err)
		}
	}
	if u.MovementSensitivity != nil && *u.MovementSensitivity < 0 {
		return fmt.Errorf("%w: movement sensitivity must be >= 0", ErrInvalidArming)
	}
	if u.DataPullIntervalSeconds != nil && *u.DataPullIntervalSeconds <= 0 {
		return fmt.Errorf("%w: data pull interval must be > 0", ErrInvalidArming)
	}
	return nil
}

type entry struct {
	mu     sync.Mutex
	loaded bool
	state  domain.AlarmState
}

// Registry owns the alarm state of every tracked entity. Evaluations and
// arming changes for one entity run one at a time; different entities do
// not contend.
type Registry struct {
	store  StateStore
	logger *slog.Logger

	mu      sync.Mutex
	entries map[string]*entry
}

// NewRegistry builds a registry. store may be nil, in which case state
// lives only in memory.
func NewRegistry(store StateStore, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Registry{
		store:   store,
		logger:  logger,
		entries: make(map[string]*entry),
	}
}

func (r *Registry) entry(entityID string) *entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[entityID]
	if !ok {
		e = &entry{}
		r.entries[entityID] = e
	}
	return e
}

// load must be called with e.mu held.
func (r *Registry) load(ctx context.Context, entityID string, e *entry) error {
	if e.loaded {
		return nil
	}
	e.state = domain.NewAlarmState()
	if r.store != nil {
		st, err := r.store.LoadAlarmState(ctx, entityID)
		if err != nil {
			return fmt.Errorf("failed to load alarm state for %s: %w", entityID, err)
		}
		if st != nil {
			e.state = *st
		}
	}
	e.loaded = true
	return nil
}

// Evaluate runs the evaluator for one sample and commits the new state in
// memory before persisting it. A failed save is logged; the committed state
// is kept.
func (r *Registry) Evaluate(ctx context.Context, entityID string, sample *domain.Sample) (Result, error) {
	res, _, err := r.EvaluateState(ctx, entityID, sample)
	return res, err
}

// EvaluateState is Evaluate that also returns a copy of the state the
// evaluation committed.
func (r *Registry) EvaluateState(ctx context.Context, entityID string, sample *domain.Sample) (Result, domain.AlarmState, error) {
	e := r.entry(entityID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := r.load(ctx, entityID, e); err != nil {
		return Result{}, domain.AlarmState{}, err
	}

	res := Evaluate(e.state, sample)
	e.state = Apply(e.state, res)

	if res.Triggered {
		r.logger.Warn("alarm_triggered", "entity", entityID, "mode", e.state.Mode, "reason", res.Reason)
	}
	r.persist(ctx, entityID, e.state)

	st := e.state
	st.Snapshot = st.Snapshot.Clone()
	return res, st, nil
}

// State returns a copy of the current state of entityID.
func (r *Registry) State(ctx context.Context, entityID string) (domain.AlarmState, error) {
	e := r.entry(entityID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := r.load(ctx, entityID, e); err != nil {
		return domain.AlarmState{}, err
	}
	st := e.state
	st.Snapshot = st.Snapshot.Clone()
	return st, nil
}

// Configure applies an arming change. The change is persisted first and only
// committed in memory when the save succeeds.
func (r *Registry) Configure(ctx context.Context, entityID string, u ArmingUpdate) (domain.AlarmState, error) {
	if err := u.validate(); err != nil {
		return domain.AlarmState{}, err
	}

	e := r.entry(entityID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := r.load(ctx, entityID, e); err != nil {
		return domain.AlarmState{}, err
	}

	next := e.state
	if u.Mode != nil {
		next.Mode = *u.Mode
	}
	if u.MovementSensitivity != nil {
		next.MovementSensitivity = *u.MovementSensitivity
	}
	if u.DataPullIntervalSeconds != nil {
		next.DataPullIntervalSeconds = *u.DataPullIntervalSeconds
	}
	if next.Mode == domain.ModeDisabled {
		next.Triggered = false
		next.Reason = ""
	}

	if err := r.save(ctx, entityID, next); err != nil {
		return domain.AlarmState{}, err
	}
	e.state = next
	r.logger.Info("alarm_configured", "entity", entityID, "mode", next.Mode,
		"movement_sensitivity", next.MovementSensitivity, "data_pull_interval_seconds", next.DataPullIntervalSeconds)
	return next, nil
}

// Rearm forgets the snapshot and any pending trigger, keeping the arming
// settings.
func (r *Registry) Rearm(ctx context.Context, entityID string) (domain.AlarmState, error) {
	e := r.entry(entityID)
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := r.load(ctx, entityID, e); err != nil {
		return domain.AlarmState{}, err
	}

	next := e.state
	next.Snapshot = domain.Snapshot{}
	next.Triggered = false
	next.Reason = ""

	if err := r.save(ctx, entityID, next); err != nil {
		return domain.AlarmState{}, err
	}
	e.state = next
	r.logger.Info("alarm_rearmed", "entity", entityID, "mode", next.Mode)
	return next, nil
}

func (r *Registry) save(ctx context.Context, entityID string, st domain.AlarmState) error {
	if r.store == nil {
		return nil
	}
	if err := r.store.SaveAlarmState(ctx, entityID, st); err != nil {
		return fmt.Errorf("failed to save alarm state for %s: %w", entityID, err)
	}
	return nil
}

func (r *Registry) persist(ctx context.Context, entityID string, st domain.AlarmState) {
	if err := r.save(ctx, entityID, st); err != nil {
		r.logger.Error("alarm_state_persist_failed", "entity", entityID, "error", err)
	}
}
