package domain

import (
	"errors"
	"testing"
	"time"
)

func TestParseSampleDeviceFormat(t *testing.T) {
	raw := []byte(`{
		"Timestamp": "2024-01-01T10:00:00Z",
		"Location": {"Latitude": "50.0001", "Longitude": 15.0, "Provider": "gps"},
		"Light_Sensitivity": 8.5,
		"Magnetic_Field": "41.2",
		"Angle_Data": {"Azimuth": 10, "Pitch": "1.5", "Roll": null},
		"Battery_Level": "17",
		"Battery_Charging_Time_Left": "unknown"
	}`)

	s, err := ParseSample(raw)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if want := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC); !s.Timestamp.Equal(want) {
		t.Fatalf("timestamp = %v, want %v", s.Timestamp, want)
	}
	if !s.Location.HasCoordinates() || *s.Location.Latitude != 50.0001 || *s.Location.Longitude != 15.0 {
		t.Fatalf("unexpected location: %+v", s.Location)
	}
	if s.Location.Altitude != nil {
		t.Fatalf("altitude should be absent")
	}
	if s.LightSensitivity == nil || *s.LightSensitivity != 8.5 {
		t.Fatalf("light = %v", s.LightSensitivity)
	}
	if s.MagneticField == nil || *s.MagneticField != 41.2 {
		t.Fatalf("magnetic = %v", s.MagneticField)
	}
	if s.Angle == nil || s.Angle.Roll != nil || *s.Angle.Pitch != 1.5 {
		t.Fatalf("unexpected angle: %+v", s.Angle)
	}
	if s.BatteryLevel == nil || *s.BatteryLevel != 17 {
		t.Fatalf("battery = %v", s.BatteryLevel)
	}
	if s.BatteryChargingTimeLeft != "unknown" {
		t.Fatalf("charging time = %q", s.BatteryChargingTimeLeft)
	}
	if len(s.RawPayload) == 0 {
		t.Fatalf("raw payload not kept")
	}
}

func TestParseSampleEmpty(t *testing.T) {
	for _, body := range []string{"", "   ", "null"} {
		if _, err := ParseSample([]byte(body)); !errors.Is(err, ErrEmptyPayload) {
			t.Fatalf("body %q: expected ErrEmptyPayload, got %v", body, err)
		}
	}
}

func TestParseSampleMalformed(t *testing.T) {
	cases := []string{
		`{"Timestamp":`,
		`{"Light_Sensitivity":"bright"}`,
		`{"Timestamp":"yesterday"}`,
	}
	for _, body := range cases {
		_, err := ParseSample([]byte(body))
		if err == nil || errors.Is(err, ErrEmptyPayload) {
			t.Fatalf("body %q: expected decode error, got %v", body, err)
		}
	}
}

func TestParseSampleLocalTimestamp(t *testing.T) {
	s, err := ParseSample([]byte(`{"Timestamp":"2024-03-05T08:30:00.123"}`))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if s.Timestamp.Hour() != 8 || s.Timestamp.Minute() != 30 {
		t.Fatalf("timestamp = %v", s.Timestamp)
	}
	if s.Location != nil || s.LightSensitivity != nil {
		t.Fatalf("absent fields must stay nil")
	}
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("locked"); err != nil || m != ModeLocked {
		t.Fatalf("ParseMode(locked) = %v, %v", m, err)
	}
	if _, err := ParseMode("armed"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestLocationCloneIsDeep(t *testing.T) {
	orig := &Location{Latitude: Float(1), Longitude: Float(2), Provider: "gps"}
	cp := orig.Clone()
	*cp.Latitude = 99
	if *orig.Latitude != 1 {
		t.Fatalf("clone shares latitude pointer")
	}
	var nilLoc *Location
	if nilLoc.Clone() != nil || nilLoc.HasCoordinates() {
		t.Fatalf("nil location must clone to nil and have no coordinates")
	}
}

func TestParseSampleRejectsNonFiniteNumbers(t *testing.T) {
	bodies := []string{
		`{"Light_Sensitivity": "NaN"}`,
		`{"Location": {"Latitude": "Infinity", "Longitude": 15}}`,
		`{"Magnetic_Field": "-Inf"}`,
		`{"Battery_Level": "+Inf"}`,
		`{"Timestamp": 1e300}`,
	}
	for _, body := range bodies {
		if _, err := ParseSample([]byte(body)); err == nil || errors.Is(err, ErrEmptyPayload) {
			t.Fatalf("body %s: expected a decode error, got %v", body, err)
		}
	}
}

func TestParseSampleBatteryRange(t *testing.T) {
	tests := []struct {
		raw  string
		want *int
	}{
		{`{"Battery_Level": 42.6}`, Int(43)},
		{`{"Battery_Level": 250}`, Int(100)},
		{`{"Battery_Level": "1e12"}`, Int(100)},
		{`{"Battery_Level": -1}`, nil},
		{`{}`, nil},
	}
	for _, tt := range tests {
		s, err := ParseSample([]byte(tt.raw))
		if err != nil {
			t.Fatalf("%s: %v", tt.raw, err)
		}
		switch {
		case tt.want == nil && s.BatteryLevel != nil:
			t.Fatalf("%s: battery = %d, want unknown", tt.raw, *s.BatteryLevel)
		case tt.want != nil && (s.BatteryLevel == nil || *s.BatteryLevel != *tt.want):
			t.Fatalf("%s: battery = %v, want %d", tt.raw, s.BatteryLevel, *tt.want)
		}
	}
}
