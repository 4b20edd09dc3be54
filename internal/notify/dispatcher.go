package notify

import (
	"context"
	"log/slog"
	"time"

	"moto-alarm/ingestion/internal/domain"
	"moto-alarm/ingestion/internal/metrics"
)

// Sender delivers one push notification.
type Sender interface {
	Send(ctx context.Context, n domain.Notification) error
}

// Dispatcher sends notifications in the background. Enqueue never blocks:
// a full queue drops the message. Failed sends are logged and dropped, never
// retried.
type Dispatcher struct {
	ch          chan job
	sender      Sender
	logger      *slog.Logger
	sendTimeout time.Duration
}

type job struct {
	n      domain.Notification
	onFail func()
}

func NewDispatcher(sender Sender, queueSize int, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Dispatcher{
		ch:          make(chan job, queueSize),
		sender:      sender,
		logger:      logger,
		sendTimeout: 15 * time.Second,
	}
}

func (d *Dispatcher) Enqueue(n domain.Notification) bool {
	return d.enqueue(job{n: n})
}

func (d *Dispatcher) enqueue(j job) bool {
	select {
	case d.ch <- j:
		return true
	default:
		metrics.NotificationDrops.Add(1)
		d.logger.Warn("notification_dropped", "title", j.n.Title, "reason", "queue full")
		return false
	}
}

// Run consumes the queue until ctx is cancelled. Start several for parallel
// delivery.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case j := <-d.ch:
			d.send(ctx, j)
		case <-ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) send(ctx context.Context, j job) {
	n := j.n
	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	if err := d.sender.Send(sendCtx, n); err != nil {
		metrics.NotificationFailures.Add(1)
		d.logger.Error("notification_send_failed", "title", n.Title, "error", err)
		if j.onFail != nil {
			j.onFail()
		}
		return
	}
	metrics.NotificationsSent.Add(1)
	d.logger.Info("notification_sent", "title", n.Title, "priority", n.Priority)
}

// Notifier combines throttling with background delivery.
type Notifier struct {
	throttler  *Throttler
	dispatcher *Dispatcher
}

func NewNotifier(t *Throttler, d *Dispatcher) *Notifier {
	return &Notifier{throttler: t, dispatcher: d}
}

// Notify enqueues body under category c if key is due. It reports whether a
// message was queued. A dropped or failed message leaves key due again.
func (n *Notifier) Notify(ctx context.Context, key string, c Category, body string) bool {
	return n.throttler.AcquireFunc(ctx, key, c, func() bool {
		return n.dispatcher.enqueue(job{
			n:      c.Notification(body),
			onFail: func() { n.release(key) },
		})
	})
}

// release forgets key after a failed send. It runs on the dispatcher
// goroutine, after the request that queued the message has returned.
func (n *Notifier) release(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.throttler.Forget(ctx, key); err != nil {
		n.dispatcher.logger.Error("notification_record_release_failed", "key", key, "error", err)
	}
}

func (n *Notifier) Throttler() *Throttler {
	return n.throttler
}
