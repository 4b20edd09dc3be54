package domain

import "time"

// NotificationRecord tracks when a throttling key last produced an outbound
// notification. Key is an IP address or a fixed type string such as
// "device_disconnected".
type NotificationRecord struct {
	Key              string    `json:"key"`
	Category         string    `json:"category"`
	LastNotification time.Time `json:"last_notification"`
	Count            int       `json:"notification_count"`
}

// Push priorities as understood by the push provider.
const (
	PriorityNormal    = 0
	PriorityHigh      = 1
	PriorityEmergency = 2
)

// Notification is one outbound push message.
type Notification struct {
	Title    string
	Body     string
	Priority int
	Sound    string
}

type AlertEvent struct {
	EntityID    string    `json:"entity_id"`
	Category    string    `json:"category"`
	Reason      string    `json:"reason"`
	TriggeredAt time.Time `json:"triggered_at"`
}
