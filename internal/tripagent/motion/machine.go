package motion

import (
	"context"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	"github.com/capsule-io/timelapse-trip/internal/pkg/metrics"
	fsmutil "github.com/capsule-io/timelapse-trip/internal/pkg/util/fsm"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/telemetry"
	"github.com/capsule-io/timelapse-trip/pkg/log"
)

const (
	EventToIdle  = "to_idle"
	EventToDrive = "to_drive"
	EventToStop  = "to_stop"
)

var eventFor = map[State]string{
	Idle:  EventToIdle,
	Drive: EventToDrive,
	Stop:  EventToStop,
}

// Machine owns the vehicle signals and the motion state derived from them.
// All access is serialized by one mutex.
type Machine struct {
	mu        sync.Mutex
	fsm       *fsm.FSM
	signals   VehicleSignals
	idleSince *time.Time

	clock clock.PassiveClock
	log   log.Logger
}

func NewMachine(clk clock.PassiveClock) *Machine {
	m := &Machine{
		clock: clk,
		log:   log.WithName("motion"),
	}

	events := fsm.Events{
		{Name: EventToIdle, Src: []string{string(Drive), string(Stop)}, Dst: string(Idle)},
		{Name: EventToDrive, Src: []string{string(Idle), string(Stop)}, Dst: string(Drive)},
		{Name: EventToStop, Src: []string{string(Idle), string(Drive)}, Dst: string(Stop)},
	}

	callbacks := fsm.Callbacks{
		"enter_" + string(Idle): fsmutil.WrapEvent(m.actionEnterIdle),
		"leave_" + string(Idle): fsmutil.WrapEvent(m.actionLeaveIdle),
		"enter_state":           fsmutil.WrapEvent(m.actionEnterState),
	}

	m.fsm = fsm.NewFSM(string(Idle), events, callbacks)

	// The initial state is idle, so the timer starts armed.
	now := clk.Now()
	m.idleSince = &now
	publishState(Idle)

	return m
}

// Apply latches sig and re-derives the motion state. It returns the change
// and true only if the state actually changed.
func (m *Machine) Apply(ctx context.Context, sig telemetry.Signal) (StateChanged, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch sig.Kind {
	case telemetry.Ignition:
		m.signals.Ignition = sig.Value
	case telemetry.Motion:
		m.signals.CarMoving = sig.Value
	case telemetry.StopCommand:
		m.signals.StopCommand = sig.Value
		m.log.Info("Stop command updated", "stopCommand", sig.Value)
		return StateChanged{}, false
	default:
		m.log.Warn("Ignoring signal of unknown kind", "kind", sig.Kind)
		return StateChanged{}, false
	}

	current := State(m.fsm.Current())
	if m.signals.CarMoving && !m.signals.Ignition {
		m.log.Debug("Moving without ignition, keeping state", "state", current)
	}

	next := Derive(m.signals, current)
	if next == current {
		return StateChanged{}, false
	}

	if err := m.fsm.Event(context.WithoutCancel(ctx), eventFor[next]); fsmutil.IsRealError(err) {
		m.log.Error(err, "Motion transition failed", "from", current, "to", next)
		return StateChanged{}, false
	}

	change := StateChanged{Old: current, New: next, At: m.clock.Now()}
	m.log.Info("Motion state changed", "from", change.Old, "to", change.New)
	return change, true
}

// Snapshot returns a copy of the current state, signals and idle timer.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Snapshot{
		State:   State(m.fsm.Current()),
		Signals: m.signals,
	}
	if m.idleSince != nil {
		t := *m.idleSince
		s.IdleSince = &t
	}
	return s
}

func (m *Machine) actionEnterIdle(_ context.Context, _ *fsm.Event) error {
	now := m.clock.Now()
	m.idleSince = &now
	return nil
}

func (m *Machine) actionLeaveIdle(_ context.Context, _ *fsm.Event) error {
	m.idleSince = nil
	return nil
}

func (m *Machine) actionEnterState(_ context.Context, e *fsm.Event) error {
	publishState(State(e.Dst))
	return nil
}

func publishState(current State) {
	for _, s := range States {
		v := 0.0
		if s == current {
			v = 1
		}
		metrics.MotionState.WithLabelValues(string(s)).Set(v)
	}
}
