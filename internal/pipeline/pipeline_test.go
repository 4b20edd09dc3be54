package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"moto-alarm/ingestion/internal/domain"
)

func TestDispatcherDropsWhenFull(t *testing.T) {
	d := NewDispatcher(1, 1)
	s := &domain.Sample{EntityID: "bike"}

	if !d.DispatchState(&StateUpdate{Sample: s}) {
		t.Fatalf("first state dispatch must succeed")
	}
	if d.DispatchState(&StateUpdate{Sample: s}) {
		t.Fatalf("full state channel must drop")
	}
	if !d.DispatchAccessLog(&domain.AccessLogEntry{Path: "/a"}) || d.DispatchAccessLog(&domain.AccessLogEntry{Path: "/b"}) {
		t.Fatalf("access log channel must hold exactly one entry")
	}
}

type fakePublisher struct {
	mu     sync.Mutex
	states []string
	alerts []domain.AlertEvent
	done   chan struct{}
}

func (p *fakePublisher) PublishState(_ context.Context, s *domain.Sample, _ domain.AlarmState) error {
	p.mu.Lock()
	p.states = append(p.states, s.ID)
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) PublishAlert(_ context.Context, ev domain.AlertEvent) error {
	p.mu.Lock()
	p.alerts = append(p.alerts, ev)
	p.mu.Unlock()
	p.done <- struct{}{}
	return nil
}

func TestStateWriterPublishesStateAndAlerts(t *testing.T) {
	d := NewDispatcher(10, 10)
	pub := &fakePublisher{done: make(chan struct{}, 1)}
	w := NewStateWriter(d.StateChan, pub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	d.DispatchState(&StateUpdate{Sample: &domain.Sample{ID: "s1", EntityID: "bike"}})
	d.DispatchState(&StateUpdate{
		Sample: &domain.Sample{ID: "s2", EntityID: "bike"},
		Alert:  &domain.AlertEvent{EntityID: "bike", Category: "alarm_triggered", Reason: "moved"},
	})

	select {
	case <-pub.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("alert was not published")
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	if len(pub.states) != 2 || pub.states[0] != "s1" || pub.states[1] != "s2" {
		t.Fatalf("states = %v", pub.states)
	}
	if len(pub.alerts) != 1 || pub.alerts[0].Reason != "moved" {
		t.Fatalf("alerts = %+v", pub.alerts)
	}
}

type flakyLogStore struct {
	mu       sync.Mutex
	failures int
	calls    int
	stored   []*domain.AccessLogEntry
}

func (s *flakyLogStore) BatchInsertAccessLogs(_ context.Context, entries []*domain.AccessLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return errors.New("connection reset")
	}
	s.stored = append(s.stored, entries...)
	return nil
}

func TestAccessLogWriterBatchesAndRetries(t *testing.T) {
	ch := make(chan *domain.AccessLogEntry, 10)
	store := &flakyLogStore{failures: 1}
	w := NewAccessLogWriter(ch, store, 2, 10000, nil)
	w.retryDelay = time.Millisecond

	ch <- &domain.AccessLogEntry{Path: "/1"}
	ch <- &domain.AccessLogEntry{Path: "/2"}
	ch <- &domain.AccessLogEntry{Path: "/3"}
	close(ch)

	w.Run(context.Background())

	if len(store.stored) != 3 {
		t.Fatalf("stored %d entries, want 3", len(store.stored))
	}
	// one failed attempt, its retry, then the trailing partial batch
	if store.calls != 3 {
		t.Fatalf("calls = %d, want 3", store.calls)
	}
}

func TestAccessLogWriterDropsAfterSecondFailure(t *testing.T) {
	ch := make(chan *domain.AccessLogEntry, 1)
	store := &flakyLogStore{failures: 2}
	w := NewAccessLogWriter(ch, store, 1, 10000, nil)
	w.retryDelay = time.Millisecond

	ch <- &domain.AccessLogEntry{Path: "/lost"}
	close(ch)
	w.Run(context.Background())

	if len(store.stored) != 0 || store.calls != 2 {
		t.Fatalf("stored=%d calls=%d, want 0 stored after 2 attempts", len(store.stored), store.calls)
	}
}
