package alarm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"moto-alarm/ingestion/internal/domain"
)

type fakeStateStore struct {
	mu      sync.Mutex
	states  map[string]domain.AlarmState
	loadErr error
	saveErr error
	saves   int
}

func newFakeStateStore() *fakeStateStore {
	return &fakeStateStore{states: make(map[string]domain.AlarmState)}
}

func (f *fakeStateStore) LoadAlarmState(_ context.Context, id string) (*domain.AlarmState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	st, ok := f.states[id]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (f *fakeStateStore) SaveAlarmState(_ context.Context, id string, st domain.AlarmState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	f.states[id] = st
	f.saves++
	return nil
}

func ptrMode(m domain.Mode) *domain.Mode { return &m }

func TestRegistryLoadsPersistedState(t *testing.T) {
	store := newFakeStateStore()
	persisted := domain.NewAlarmState()
	persisted.Mode = domain.ModeLocked
	persisted.Snapshot.LastKnownLightSensitivity = domain.Float(5)
	store.states["bike-1"] = persisted

	reg := NewRegistry(store, nil)
	res, err := reg.Evaluate(context.Background(), "bike-1", &domain.Sample{LightSensitivity: domain.Float(9)})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if !res.Triggered {
		t.Fatalf("persisted locked state should trigger on light change")
	}

	st, _ := reg.State(context.Background(), "bike-1")
	if !st.Triggered || *st.Snapshot.LastKnownLightSensitivity != 9 {
		t.Fatalf("state not committed: %+v", st)
	}
	if !store.states["bike-1"].Triggered {
		t.Fatalf("state not saved")
	}
}

func TestRegistryLoadErrorRetries(t *testing.T) {
	store := newFakeStateStore()
	store.loadErr = errors.New("redis down")
	reg := NewRegistry(store, nil)

	if _, err := reg.Evaluate(context.Background(), "bike-1", &domain.Sample{}); err == nil {
		t.Fatalf("expected load error")
	}

	store.loadErr = nil
	if _, err := reg.Evaluate(context.Background(), "bike-1", &domain.Sample{}); err != nil {
		t.Fatalf("second attempt should load: %v", err)
	}
}

func TestRegistrySaveFailureKeepsCommittedState(t *testing.T) {
	store := newFakeStateStore()
	reg := NewRegistry(store, nil)
	ctx := context.Background()

	if _, err := reg.Configure(ctx, "bike-1", ArmingUpdate{Mode: ptrMode(domain.ModeUnlocked)}); err != nil {
		t.Fatalf("configure: %v", err)
	}

	store.saveErr = errors.New("redis down")
	ts := time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC)
	if _, err := reg.Evaluate(ctx, "bike-1", &domain.Sample{Timestamp: ts}); err != nil {
		t.Fatalf("evaluate must not fail on save error: %v", err)
	}

	st, _ := reg.State(ctx, "bike-1")
	if !st.Snapshot.LastDataReceived.Equal(ts) {
		t.Fatalf("in-memory state lost after save failure")
	}
}

func TestRegistryConfigure(t *testing.T) {
	reg := NewRegistry(nil, nil)
	ctx := context.Background()

	sens := 12
	interval := 30
	st, err := reg.Configure(ctx, "bike-1", ArmingUpdate{
		Mode:                    ptrMode(domain.ModeLocked),
		MovementSensitivity:     &sens,
		DataPullIntervalSeconds: &interval,
	})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	if st.Mode != domain.ModeLocked || st.MovementSensitivity != 12 || st.DataPullIntervalSeconds != 30 {
		t.Fatalf("unexpected state %+v", st)
	}

	bad := -1
	if _, err := reg.Configure(ctx, "bike-1", ArmingUpdate{MovementSensitivity: &bad}); !errors.Is(err, ErrInvalidArming) {
		t.Fatalf("expected ErrInvalidArming, got %v", err)
	}
	if _, err := reg.Configure(ctx, "bike-1", ArmingUpdate{Mode: ptrMode("armed")}); !errors.Is(err, ErrInvalidArming) {
		t.Fatalf("expected ErrInvalidArming for unknown mode, got %v", err)
	}
}

func TestRegistryDisableClearsTrigger(t *testing.T) {
	reg := NewRegistry(nil, nil)
	ctx := context.Background()

	reg.Configure(ctx, "bike-1", ArmingUpdate{Mode: ptrMode(domain.ModeLocked)})
	reg.Evaluate(ctx, "bike-1", &domain.Sample{MagneticField: domain.Float(0)})
	res, _ := reg.Evaluate(ctx, "bike-1", &domain.Sample{MagneticField: domain.Float(50)})
	if !res.Triggered {
		t.Fatalf("expected trigger before disabling")
	}

	st, err := reg.Configure(ctx, "bike-1", ArmingUpdate{Mode: ptrMode(domain.ModeDisabled)})
	if err != nil {
		t.Fatalf("configure: %v", err)
	}
	if st.Triggered || st.Reason != "" {
		t.Fatalf("disabled state must not carry a trigger: %+v", st)
	}
}

func TestRegistryRearm(t *testing.T) {
	reg := NewRegistry(nil, nil)
	ctx := context.Background()

	reg.Configure(ctx, "bike-1", ArmingUpdate{Mode: ptrMode(domain.ModeLocked)})
	reg.Evaluate(ctx, "bike-1", &domain.Sample{Location: loc(50, 15)})

	st, err := reg.Rearm(ctx, "bike-1")
	if err != nil {
		t.Fatalf("rearm: %v", err)
	}
	if st.Mode != domain.ModeLocked || st.Snapshot.LastKnownLocation != nil {
		t.Fatalf("rearm must keep mode and clear snapshot: %+v", st)
	}

	res, _ := reg.Evaluate(ctx, "bike-1", &domain.Sample{Location: loc(60, 15)})
	if res.Triggered {
		t.Fatalf("first sample after rearm has nothing to compare against")
	}
}

func TestRegistrySerializesPerEntity(t *testing.T) {
	reg := NewRegistry(nil, nil)
	ctx := context.Background()
	reg.Configure(ctx, "bike-1", ArmingUpdate{Mode: ptrMode(domain.ModeUnlocked)})

	const n = 200
	var wg sync.WaitGroup
	for i := 1; i <= n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			reg.Evaluate(ctx, "bike-1", &domain.Sample{
				Timestamp:     time.Unix(int64(i), 0),
				MagneticField: domain.Float(float64(i)),
			})
		}(i)
	}
	wg.Wait()

	st, _ := reg.State(ctx, "bike-1")
	if st.Snapshot.LastKnownMagneticField == nil {
		t.Fatalf("snapshot lost")
	}
	if float64(st.Snapshot.LastDataReceived.Unix()) != *st.Snapshot.LastKnownMagneticField {
		t.Fatalf("snapshot fields come from different samples: %+v", st.Snapshot)
	}
}
