package motion

import (
	"time"
)

// State is the motion state of the vehicle.
type State string

const (
	Idle  State = "idle"
	Drive State = "drive"
	Stop  State = "stop"
)

// States lists every motion state.
var States = []State{Idle, Drive, Stop}

// VehicleSignals are the latched telemetry values the state is derived from.
type VehicleSignals struct {
	Ignition    bool
	CarMoving   bool
	StopCommand bool
}

// Derive maps the latched signals to a motion state. The combination
// "moving without ignition" has no mapping and keeps current.
func Derive(s VehicleSignals, current State) State {
	switch {
	case s.Ignition && s.CarMoving:
		return Drive
	case !s.Ignition && !s.CarMoving:
		return Stop
	case s.Ignition && !s.CarMoving:
		return Idle
	default:
		return current
	}
}

// StateChanged is emitted once per actual change of the motion state.
type StateChanged struct {
	Old State
	New State
	At  time.Time
}

// Snapshot is an immutable copy of the machine's state.
type Snapshot struct {
	State   State
	Signals VehicleSignals

	// IdleSince is set iff State is Idle.
	IdleSince *time.Time
}

// IdleFor returns how long the vehicle has been idle at now, or zero when
// it is not idle.
func (s Snapshot) IdleFor(now time.Time) time.Duration {
	if s.State != Idle || s.IdleSince == nil {
		return 0
	}
	return now.Sub(*s.IdleSince)
}
