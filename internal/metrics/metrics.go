package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	SamplesReceived     atomic.Int64
	SampleStoreFailures atomic.Int64
	AlarmsTriggered     atomic.Int64

	NotificationsSent      atomic.Int64
	NotificationFailures   atomic.Int64
	NotificationDrops      atomic.Int64
	NotificationsThrottled atomic.Int64

	StateChannelDrops     atomic.Int64
	AccessLogChannelDrops atomic.Int64
	AccessLogWriteSuccess atomic.Int64
	AccessLogWriteFailure atomic.Int64

	BlockedRequests atomic.Int64
)

func HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	fmt.Fprintf(w, "ingestion_samples_received_total %d\n", SamplesReceived.Load())
	fmt.Fprintf(w, "ingestion_sample_store_failures_total %d\n", SampleStoreFailures.Load())
	fmt.Fprintf(w, "ingestion_alarms_triggered_total %d\n", AlarmsTriggered.Load())
	fmt.Fprintf(w, "ingestion_notifications_sent_total %d\n", NotificationsSent.Load())
	fmt.Fprintf(w, "ingestion_notification_failures_total %d\n", NotificationFailures.Load())
	fmt.Fprintf(w, "ingestion_notification_drops_total %d\n", NotificationDrops.Load())
	fmt.Fprintf(w, "ingestion_notifications_throttled_total %d\n", NotificationsThrottled.Load())
	fmt.Fprintf(w, "ingestion_state_channel_drops_total %d\n", StateChannelDrops.Load())
	fmt.Fprintf(w, "ingestion_access_log_channel_drops_total %d\n", AccessLogChannelDrops.Load())
	fmt.Fprintf(w, "ingestion_access_log_write_success_total %d\n", AccessLogWriteSuccess.Load())
	fmt.Fprintf(w, "ingestion_access_log_write_failures_total %d\n", AccessLogWriteFailure.Load())
	fmt.Fprintf(w, "ingestion_blocked_requests_total %d\n", BlockedRequests.Load())
}
