package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"moto-alarm/ingestion/internal/domain"
)

type recordingSender struct {
	mu   sync.Mutex
	got  []domain.Notification
	err  error
	sent chan struct{}
}

func newRecordingSender() *recordingSender {
	return &recordingSender{sent: make(chan struct{}, 16)}
}

func (s *recordingSender) Send(_ context.Context, n domain.Notification) error {
	s.mu.Lock()
	s.got = append(s.got, n)
	s.mu.Unlock()
	s.sent <- struct{}{}
	return s.err
}

func waitSent(t *testing.T, s *recordingSender) {
	t.Helper()
	select {
	case <-s.sent:
	case <-time.After(2 * time.Second):
		t.Fatalf("notification was not delivered")
	}
}

func TestDispatcherDelivers(t *testing.T) {
	sender := newRecordingSender()
	d := NewDispatcher(sender, 4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	if !d.Enqueue(DeviceDisconnected.Notification("offline")) {
		t.Fatalf("enqueue refused")
	}
	waitSent(t, sender)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	n := sender.got[0]
	if n.Title != DeviceDisconnected.Title || n.Sound != "falling" || n.Priority != domain.PriorityHigh || n.Body != "offline" {
		t.Fatalf("unexpected notification %+v", n)
	}
}

func TestDispatcherDropsWhenFull(t *testing.T) {
	d := NewDispatcher(newRecordingSender(), 1, nil)
	if !d.Enqueue(LowBattery.Notification("a")) {
		t.Fatalf("first enqueue must succeed")
	}
	if d.Enqueue(LowBattery.Notification("b")) {
		t.Fatalf("enqueue on a full queue must drop instead of blocking")
	}
}

func TestDispatcherSurvivesSendFailure(t *testing.T) {
	sender := newRecordingSender()
	sender.err = errors.New("push provider down")
	d := NewDispatcher(sender, 4, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	d.Enqueue(AlarmTriggered.Notification("one"))
	waitSent(t, sender)
	d.Enqueue(AlarmTriggered.Notification("two"))
	waitSent(t, sender)

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if len(sender.got) != 2 {
		t.Fatalf("expected two attempts without retries, got %d", len(sender.got))
	}
}

func TestNotifierThrottlesBeforeQueueing(t *testing.T) {
	th, clk := newTestThrottler(newMemRecords())
	d := NewDispatcher(newRecordingSender(), 8, nil)
	n := NewNotifier(th, d)
	ctx := context.Background()

	if !n.Notify(ctx, "low_battery:bike-1", LowBattery, "15%") {
		t.Fatalf("first notify must queue")
	}
	if n.Notify(ctx, "low_battery:bike-1", LowBattery, "14%") {
		t.Fatalf("second notify inside interval must be throttled")
	}
	clk.Advance(LowBattery.MinInterval)
	if !n.Notify(ctx, "low_battery:bike-1", LowBattery, "13%") {
		t.Fatalf("notify after interval must queue")
	}
	if len(d.ch) != 2 {
		t.Fatalf("queue holds %d messages, want 2", len(d.ch))
	}
}

func TestNotifierDroppedMessageKeepsKeyDue(t *testing.T) {
	store := newMemRecords()
	th, _ := newTestThrottler(store)
	n := NewNotifier(th, NewDispatcher(newRecordingSender(), 0, nil))
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if n.Notify(ctx, KeyDeviceDisconnected, DeviceDisconnected, "offline") {
			t.Fatalf("a full queue cannot accept the message")
		}
		if rec, _ := store.GetNotificationRecord(ctx, KeyDeviceDisconnected); rec != nil {
			t.Fatalf("attempt %d: dropped message stamped the record %+v", i, rec)
		}
	}
}

func TestNotifierFailedSendReleasesKey(t *testing.T) {
	store := newMemRecords()
	th, _ := newTestThrottler(store)
	sender := newRecordingSender()
	sender.err = errors.New("push provider down")
	d := NewDispatcher(sender, 4, nil)
	n := NewNotifier(th, d)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !n.Notify(ctx, "203.0.113.7", BlockedAccess, "blocked") {
		t.Fatalf("first notify must queue")
	}
	if rec, _ := store.GetNotificationRecord(ctx, "203.0.113.7"); rec == nil {
		t.Fatalf("queued message must stamp the record")
	}

	go d.Run(ctx)
	waitSent(t, sender)

	deadline := time.Now().Add(2 * time.Second)
	for {
		rec, _ := store.GetNotificationRecord(ctx, "203.0.113.7")
		if rec == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("failed send left record %+v", rec)
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !n.Notify(ctx, "203.0.113.7", BlockedAccess, "blocked again") {
		t.Fatalf("key must be due again after a failed send")
	}
}
