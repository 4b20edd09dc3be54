package notify

import (
	"time"

	"moto-alarm/ingestion/internal/domain"
)

// Category groups notifications that share a throttling interval and a
// presentation. The interval belongs to the category, not to the system.
type Category struct {
	Name        string
	MinInterval time.Duration
	Title       string
	Priority    int
	Sound       string
}

const (
	KeyDeviceDisconnected = "device_disconnected"
)

// LowBatteryKey is shared by ingestion and the periodic battery check so
// both throttle together.
func LowBatteryKey(entityID string) string { return "low_battery:" + entityID }

func AlarmKey(entityID string) string { return "alarm:" + entityID }

var (
	BlockedAccess = Category{
		Name:        "blocked_access",
		MinInterval: time.Hour,
		Title:       "MotoDataLogger - Blocked Access",
		Priority:    domain.PriorityHigh,
		Sound:       "siren",
	}
	DeviceDisconnected = Category{
		Name:        "device_disconnected",
		MinInterval: 30 * time.Minute,
		Title:       "MotoDataLogger - Device Disconnected",
		Priority:    domain.PriorityHigh,
		Sound:       "falling",
	}
	LowBattery = Category{
		Name:        "low_battery",
		MinInterval: 30 * time.Minute,
		Title:       "MotoDataLogger - Low Battery Alert",
		Priority:    domain.PriorityHigh,
		Sound:       "falling",
	}
	AlarmTriggered = Category{
		Name:        "alarm_triggered",
		MinInterval: time.Minute,
		Title:       "MotoDataLogger - Alarm Triggered",
		Priority:    domain.PriorityEmergency,
		Sound:       "siren",
	}
	NewDevice = Category{
		Name:     "new_device",
		Title:    "MotoDataLogger - New Device Alert",
		Priority: domain.PriorityHigh,
		Sound:    "siren",
	}
)

// WithInterval returns a copy of c using d as its minimum interval.
func (c Category) WithInterval(d time.Duration) Category {
	c.MinInterval = d
	return c
}

func (c Category) Notification(body string) domain.Notification {
	return domain.Notification{
		Title:    c.Title,
		Body:     body,
		Priority: c.Priority,
		Sound:    c.Sound,
	}
}
