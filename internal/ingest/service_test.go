package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"moto-alarm/ingestion/internal/alarm"
	"moto-alarm/ingestion/internal/domain"
	"moto-alarm/ingestion/internal/notify"
	"moto-alarm/ingestion/internal/pipeline"
	"moto-alarm/ingestion/internal/store"
)

type notice struct {
	key      string
	category string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notice
}

func (n *fakeNotifier) Notify(_ context.Context, key string, c notify.Category, _ string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notice{key: key, category: c.Name})
	return true
}

type failingStore struct{ store.MemoryStore }

func (*failingStore) AppendSample(context.Context, string, *domain.Sample) (*domain.Sample, error) {
	return nil, errors.New("disk full")
}

type harness struct {
	svc      *Service
	reg      *alarm.Registry
	samples  *store.MemoryStore
	notifier *fakeNotifier
	pipe     *pipeline.Dispatcher
}

func newHarness(t *testing.T, mode domain.Mode) *harness {
	t.Helper()
	reg := alarm.NewRegistry(nil, nil)
	if _, err := reg.Configure(context.Background(), "bike", alarm.ArmingUpdate{Mode: &mode}); err != nil {
		t.Fatalf("configure: %v", err)
	}
	h := &harness{
		reg:      reg,
		samples:  store.NewMemoryStore(),
		notifier: &fakeNotifier{},
		pipe:     pipeline.NewDispatcher(10, 10),
	}
	h.svc = NewService(reg, h.samples, h.notifier, h.pipe, Options{}, nil)
	return h
}

func at(lat, lon float64) *domain.Location {
	return &domain.Location{Latitude: domain.Float(lat), Longitude: domain.Float(lon)}
}

func TestIngestStoresAndDispatches(t *testing.T) {
	h := newHarness(t, domain.ModeUnlocked)
	out, err := h.svc.Ingest(context.Background(), "bike", &domain.Sample{Location: at(52, 4)})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if out.Triggered || out.Sample == nil || out.Sample.ID == "" || out.Sample.ReceivedAt.IsZero() {
		t.Fatalf("outcome = %+v", out)
	}
	if !out.Sample.Timestamp.Equal(out.Sample.ReceivedAt) {
		t.Fatalf("missing timestamp must default to receive time")
	}
	if h.samples.SampleCount("bike") != 1 {
		t.Fatalf("sample not persisted")
	}
	select {
	case u := <-h.pipe.StateChan:
		if u.Sample.ID != out.Sample.ID || u.State.Mode != domain.ModeUnlocked || u.Alert != nil {
			t.Fatalf("state update = %+v", u)
		}
	default:
		t.Fatalf("no state update dispatched")
	}
}

func TestIngestTriggersAlarm(t *testing.T) {
	h := newHarness(t, domain.ModeLocked)
	ctx := context.Background()

	h.svc.Ingest(ctx, "bike", &domain.Sample{Location: at(52, 4)})
	<-h.pipe.StateChan

	out, err := h.svc.Ingest(ctx, "bike", &domain.Sample{Location: at(52.001, 4)})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if !out.Triggered || out.Reason == "" {
		t.Fatalf("outcome = %+v", out)
	}
	if len(h.notifier.sent) != 1 || h.notifier.sent[0].key != notify.AlarmKey("bike") || h.notifier.sent[0].category != "alarm_triggered" {
		t.Fatalf("sent = %+v", h.notifier.sent)
	}
	u := <-h.pipe.StateChan
	if u.Alert == nil || u.Alert.Reason != out.Reason || !u.State.Triggered {
		t.Fatalf("state update = %+v", u)
	}
}

func TestIngestNilSampleIsNoData(t *testing.T) {
	h := newHarness(t, domain.ModeLocked)
	out, err := h.svc.Ingest(context.Background(), "bike", nil)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if out.Triggered || out.Reason != alarm.ReasonNoData {
		t.Fatalf("outcome = %+v", out)
	}
	if h.samples.SampleCount("bike") != 0 || len(h.pipe.StateChan) != 0 {
		t.Fatalf("no-data evaluation must not persist or publish")
	}
}

func TestIngestLowBattery(t *testing.T) {
	tests := []struct {
		name  string
		mode  domain.Mode
		level int
		want  bool
	}{
		{"low while armed", domain.ModeLocked, 19, true},
		{"at threshold", domain.ModeLocked, 20, false},
		{"low while disabled", domain.ModeDisabled, 5, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.mode)
			out, err := h.svc.Ingest(context.Background(), "bike", &domain.Sample{BatteryLevel: domain.Int(tt.level)})
			if err != nil {
				t.Fatalf("ingest: %v", err)
			}
			if out.LowBattery != tt.want || (len(h.notifier.sent) == 1) != tt.want {
				t.Fatalf("low battery = %v sent = %+v, want %v", out.LowBattery, h.notifier.sent, tt.want)
			}
		})
	}
}

func TestIngestStoreFailureKeepsEvaluation(t *testing.T) {
	reg := alarm.NewRegistry(nil, nil)
	mode := domain.ModeLocked
	reg.Configure(context.Background(), "bike", alarm.ArmingUpdate{Mode: &mode})
	svc := NewService(reg, &failingStore{}, &fakeNotifier{}, nil, Options{}, nil)

	if _, err := svc.Ingest(context.Background(), "bike", &domain.Sample{LightSensitivity: domain.Float(4)}); err == nil {
		t.Fatalf("expected store error")
	}
	st, _ := reg.State(context.Background(), "bike")
	if st.Snapshot.LastKnownLightSensitivity == nil || *st.Snapshot.LastKnownLightSensitivity != 4 {
		t.Fatalf("snapshot = %+v, evaluation must stay committed", st.Snapshot)
	}
}
