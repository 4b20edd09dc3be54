package domain

import "time"

// Sample is one telemetry reading from a tracker. Every measurement is
// optional: a nil pointer means the device did not report it.
type Sample struct {
	ID         string    `json:"id,omitempty"`
	EntityID   string    `json:"entity_id,omitempty"`
	ReceivedAt time.Time `json:"received_at"`

	Timestamp time.Time `json:"Timestamp"`

	Location *Location    `json:"Location,omitempty"`
	Angle    *Orientation `json:"Angle_Data,omitempty"`

	LightSensitivity *float64 `json:"Light_Sensitivity,omitempty"`
	MagneticField    *float64 `json:"Magnetic_Field,omitempty"`

	BatteryLevel            *int   `json:"Battery_Level,omitempty"`
	BatteryChargingTimeLeft string `json:"Battery_Charging_Time_Left,omitempty"`

	RawPayload []byte `json:"-"`
}

type Location struct {
	Latitude  *float64 `json:"Latitude,omitempty"`
	Longitude *float64 `json:"Longitude,omitempty"`
	Altitude  *float64 `json:"Altitude,omitempty"`
	Angle     *float64 `json:"Angle,omitempty"`
	Speed     *float64 `json:"Speed,omitempty"`
	Accuracy  *float64 `json:"Accuracy,omitempty"`
	Time      *float64 `json:"Time,omitempty"`
	Provider  string   `json:"Provider,omitempty"`
}

// HasCoordinates reports whether both latitude and longitude are present.
func (l *Location) HasCoordinates() bool {
	return l != nil && l.Latitude != nil && l.Longitude != nil
}

// Clone returns a deep copy so callers never share pointer fields.
func (l *Location) Clone() *Location {
	if l == nil {
		return nil
	}
	return &Location{
		Latitude:  cloneFloat(l.Latitude),
		Longitude: cloneFloat(l.Longitude),
		Altitude:  cloneFloat(l.Altitude),
		Angle:     cloneFloat(l.Angle),
		Speed:     cloneFloat(l.Speed),
		Accuracy:  cloneFloat(l.Accuracy),
		Time:      cloneFloat(l.Time),
		Provider:  l.Provider,
	}
}

type Orientation struct {
	Azimuth *float64 `json:"Azimuth,omitempty"`
	Pitch   *float64 `json:"Pitch,omitempty"`
	Roll    *float64 `json:"Roll,omitempty"`
}

// Float returns a pointer to v. Handy for building samples in code and tests.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }

func cloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
