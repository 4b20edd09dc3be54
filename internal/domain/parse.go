package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// ErrEmptyPayload is returned by ParseSample when the body carries no sample
// at all (empty or JSON null). Callers treat it as a "no data" event.
var ErrEmptyPayload = errors.New("empty telemetry payload")

// Trackers send numbers either as JSON numbers or as numeric strings,
// depending on firmware. flexFloat accepts both, plus null and "".
type flexFloat struct {
	v *float64
}

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q: %w", s, err)
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return fmt.Errorf("invalid number %q: not finite", s)
	}
	f.v = &n
	return nil
}

// maxEpochSeconds keeps seconds*1e9 inside int64.
const maxEpochSeconds = math.MaxInt64 / float64(time.Second)

type flexTime struct {
	t time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (f *flexTime) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		return nil
	}
	if !strings.HasPrefix(s, `"`) {
		secs, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid timestamp %s: %w", s, err)
		}
		if math.IsNaN(secs) || math.IsInf(secs, 0) || math.Abs(secs) > maxEpochSeconds {
			return fmt.Errorf("invalid timestamp %s: out of range", s)
		}
		f.t = time.Unix(0, int64(secs*float64(time.Second))).UTC()
		return nil
	}
	s = strings.Trim(s, `"`)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			f.t = t.UTC()
			return nil
		}
	}
	return fmt.Errorf("unrecognised timestamp %q", s)
}

type wireLocation struct {
	Latitude  flexFloat `json:"Latitude"`
	Longitude flexFloat `json:"Longitude"`
	Altitude  flexFloat `json:"Altitude"`
	Angle     flexFloat `json:"Angle"`
	Speed     flexFloat `json:"Speed"`
	Accuracy  flexFloat `json:"Accuracy"`
	Time      flexFloat `json:"Time"`
	Provider  string    `json:"Provider"`
}

type wireAngle struct {
	Azimuth flexFloat `json:"Azimuth"`
	Pitch   flexFloat `json:"Pitch"`
	Roll    flexFloat `json:"Roll"`
}

type wireSample struct {
	Timestamp               flexTime      `json:"Timestamp"`
	Location                *wireLocation `json:"Location"`
	Angle                   *wireAngle    `json:"Angle_Data"`
	LightSensitivity        flexFloat     `json:"Light_Sensitivity"`
	MagneticField           flexFloat     `json:"Magnetic_Field"`
	BatteryLevel            flexFloat     `json:"Battery_Level"`
	BatteryChargingTimeLeft any           `json:"Battery_Charging_Time_Left"`
}

// ParseSample decodes a tracker payload. It returns ErrEmptyPayload for an
// empty body or a bare null so the caller can run the "no data" path.
func ParseSample(raw []byte) (*Sample, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrEmptyPayload
	}

	var w wireSample
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return nil, fmt.Errorf("failed to decode telemetry: %w", err)
	}

	s := &Sample{
		Timestamp:        w.Timestamp.t,
		LightSensitivity: w.LightSensitivity.v,
		MagneticField:    w.MagneticField.v,
		RawPayload:       append([]byte(nil), trimmed...),
	}
	if w.Location != nil {
		s.Location = &Location{
			Latitude:  w.Location.Latitude.v,
			Longitude: w.Location.Longitude.v,
			Altitude:  w.Location.Altitude.v,
			Angle:     w.Location.Angle.v,
			Speed:     w.Location.Speed.v,
			Accuracy:  w.Location.Accuracy.v,
			Time:      w.Location.Time.v,
			Provider:  w.Location.Provider,
		}
	}
	if w.Angle != nil {
		s.Angle = &Orientation{
			Azimuth: w.Angle.Azimuth.v,
			Pitch:   w.Angle.Pitch.v,
			Roll:    w.Angle.Roll.v,
		}
	}
	s.BatteryLevel = batteryPercent(w.BatteryLevel.v)
	switch v := w.BatteryChargingTimeLeft.(type) {
	case string:
		s.BatteryChargingTimeLeft = v
	case float64:
		s.BatteryChargingTimeLeft = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return s, nil
}

// batteryPercent rounds a reported level into 0..100. Negative levels are
// how some firmware reports "unknown" and map to nil.
func batteryPercent(v *float64) *int {
	if v == nil || *v < 0 {
		return nil
	}
	return Int(int(math.Round(math.Min(*v, 100))))
}
