package domain

import (
	"fmt"
	"time"
)

type Mode string

const (
	ModeUnlocked Mode = "unlocked"
	ModeLocked   Mode = "locked"
	ModeDisabled Mode = "disabled"
)

func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeUnlocked, ModeLocked, ModeDisabled:
		return m, nil
	default:
		return "", fmt.Errorf("unknown alarm mode %q", s)
	}
}

const (
	DefaultMovementSensitivity     = 5
	DefaultDataPullIntervalSeconds = 60
)

// Snapshot is the most recently observed value per field. Values are sticky:
// a field the latest sample omitted keeps its previous value.
type Snapshot struct {
	LastDataReceived          time.Time `json:"last_data_received"`
	LastKnownLocation         *Location `json:"last_known_location,omitempty"`
	LastKnownLightSensitivity *float64  `json:"last_known_light_sensitivity,omitempty"`
	LastKnownMagneticField    *float64  `json:"last_known_magnetic_field,omitempty"`
}

// Clone returns a copy that shares no pointers with s.
func (s Snapshot) Clone() Snapshot {
	return Snapshot{
		LastDataReceived:          s.LastDataReceived,
		LastKnownLocation:         s.LastKnownLocation.Clone(),
		LastKnownLightSensitivity: cloneFloat(s.LastKnownLightSensitivity),
		LastKnownMagneticField:    cloneFloat(s.LastKnownMagneticField),
	}
}

// AlarmState is the arming configuration of one tracked asset plus the
// evaluator's last snapshot and verdict. Triggered is false and Reason is
// empty whenever Mode is ModeDisabled.
type AlarmState struct {
	Mode                    Mode     `json:"mode"`
	MovementSensitivity     int      `json:"movement_sensitivity"`
	DataPullIntervalSeconds int      `json:"data_pull_interval_seconds"`
	Snapshot                Snapshot `json:"snapshot"`
	Triggered               bool     `json:"triggered"`
	Reason                  string   `json:"reason"`
}

func NewAlarmState() AlarmState {
	return AlarmState{
		Mode:                    ModeDisabled,
		MovementSensitivity:     DefaultMovementSensitivity,
		DataPullIntervalSeconds: DefaultDataPullIntervalSeconds,
	}
}
