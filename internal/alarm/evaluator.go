package alarm

import (
	"fmt"
	"math"
	"strings"

	"moto-alarm/ingestion/internal/domain"
)

const (
	lightThreshold    = 2.0
	magneticThreshold = 10.0

	ReasonNoData = "No data received"
)

// Result is the verdict of one evaluation together with the snapshot the
// state should carry afterwards.
type Result struct {
	Triggered bool
	Reason    string
	Snapshot  domain.Snapshot
}

// Evaluate compares sample against the snapshot held in state and decides
// whether the alarm fires. It never mutates state; fold the result back with
// Apply.
func Evaluate(state domain.AlarmState, sample *domain.Sample) Result {
	snap := state.Snapshot.Clone()

	if state.Mode == domain.ModeDisabled {
		return Result{Snapshot: advance(snap, sample)}
	}
	if sample == nil {
		return Result{Reason: ReasonNoData, Snapshot: snap}
	}

	var (
		triggered bool
		reason    strings.Builder
	)

	if state.Mode == domain.ModeLocked {
		if snap.LastKnownLocation != nil && sample.Location != nil {
			moved := Distance(snap.LastKnownLocation, sample.Location)
			if moved > float64(state.MovementSensitivity) {
				triggered = true
				fmt.Fprintf(&reason, "Moved %s meters from the last known location. ", formatMeters(moved))
			}
		}
		if snap.LastKnownLightSensitivity != nil && sample.LightSensitivity != nil {
			if math.Abs(*snap.LastKnownLightSensitivity-*sample.LightSensitivity) > lightThreshold {
				triggered = true
				reason.WriteString("Light sensitivity changed significantly. ")
			}
		}
		if snap.LastKnownMagneticField != nil && sample.MagneticField != nil {
			if math.Abs(*snap.LastKnownMagneticField-*sample.MagneticField) > magneticThreshold {
				triggered = true
				reason.WriteString("Magnetic field changed significantly. ")
			}
		}
	}

	return Result{
		Triggered: triggered,
		Reason:    reason.String(),
		Snapshot:  advance(snap, sample),
	}
}

// Apply returns state with the verdict and snapshot of r.
func Apply(state domain.AlarmState, r Result) domain.AlarmState {
	state.Triggered = r.Triggered
	state.Reason = r.Reason
	state.Snapshot = r.Snapshot
	if state.Mode == domain.ModeDisabled {
		state.Triggered = false
		state.Reason = ""
	}
	return state
}

func advance(snap domain.Snapshot, sample *domain.Sample) domain.Snapshot {
	if sample == nil {
		return snap
	}
	snap.LastDataReceived = sample.Timestamp
	if sample.Location != nil {
		snap.LastKnownLocation = sample.Location.Clone()
	}
	if sample.LightSensitivity != nil {
		v := *sample.LightSensitivity
		snap.LastKnownLightSensitivity = &v
	}
	if sample.MagneticField != nil {
		v := *sample.MagneticField
		snap.LastKnownMagneticField = &v
	}
	return snap
}

func formatMeters(m float64) string {
	return fmt.Sprintf("%.2f", m)
}
