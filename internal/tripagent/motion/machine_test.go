package motion

import (
	"context"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"github.com/capsule-io/timelapse-trip/internal/tripagent/telemetry"
)

func sig(kind telemetry.Kind, v bool) telemetry.Signal {
	return telemetry.Signal{Kind: kind, Value: v}
}

func TestDerive(t *testing.T) {
	tests := []struct {
		name    string
		signals VehicleSignals
		current State
		want    State
	}{
		{"driving", VehicleSignals{Ignition: true, CarMoving: true}, Idle, Drive},
		{"parked", VehicleSignals{}, Drive, Stop},
		{"idling", VehicleSignals{Ignition: true}, Drive, Idle},
		{"moving without ignition keeps drive", VehicleSignals{CarMoving: true}, Drive, Drive},
		{"moving without ignition keeps stop", VehicleSignals{CarMoving: true}, Stop, Stop},
		{"stop command does not matter", VehicleSignals{Ignition: true, CarMoving: true, StopCommand: true}, Stop, Drive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Derive(tt.signals, tt.current); got != tt.want {
				t.Errorf("Derive() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestApplyEmitsOnlyOnChange(t *testing.T) {
	clk := clocktesting.NewFakeClock(time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC))
	m := NewMachine(clk)
	ctx := context.Background()

	steps := []struct {
		sig         telemetry.Signal
		wantChanged bool
		wantState   State
	}{
		{sig(telemetry.Ignition, true), false, Idle},
		{sig(telemetry.Motion, true), true, Drive},
		{sig(telemetry.Motion, true), false, Drive},
		{sig(telemetry.Ignition, true), false, Drive},
		{sig(telemetry.StopCommand, true), false, Drive},
		{sig(telemetry.Motion, false), true, Idle},
		{sig(telemetry.Ignition, false), true, Stop},
		{sig(telemetry.Motion, true), false, Stop},
		{sig(telemetry.Ignition, true), true, Drive},
	}

	for i, step := range steps {
		change, changed := m.Apply(ctx, step.sig)
		if changed != step.wantChanged {
			t.Fatalf("step %d: changed = %v, want %v", i, changed, step.wantChanged)
		}
		if changed && change.New != step.wantState {
			t.Errorf("step %d: change.New = %s, want %s", i, change.New, step.wantState)
		}
		if got := m.Snapshot().State; got != step.wantState {
			t.Errorf("step %d: state = %s, want %s", i, got, step.wantState)
		}
	}
}

func TestIdleTimerInvariant(t *testing.T) {
	start := time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)
	clk := clocktesting.NewFakeClock(start)
	m := NewMachine(clk)
	ctx := context.Background()

	check := func(label string) {
		t.Helper()
		s := m.Snapshot()
		if (s.IdleSince != nil) != (s.State == Idle) {
			t.Fatalf("%s: state %s with IdleSince %v", label, s.State, s.IdleSince)
		}
	}

	check("initial")
	if s := m.Snapshot(); !s.IdleSince.Equal(start) {
		t.Errorf("initial IdleSince = %v, want %v", s.IdleSince, start)
	}

	m.Apply(ctx, sig(telemetry.Ignition, true))
	m.Apply(ctx, sig(telemetry.Motion, true))
	check("drive")

	clk.Step(time.Minute)
	m.Apply(ctx, sig(telemetry.Motion, false))
	check("idle")
	idleAt := *m.Snapshot().IdleSince
	if !idleAt.Equal(start.Add(time.Minute)) {
		t.Errorf("IdleSince = %v, want %v", idleAt, start.Add(time.Minute))
	}

	// A repeated idle-deriving signal must not reset the timer.
	clk.Step(3 * time.Second)
	m.Apply(ctx, sig(telemetry.Ignition, true))
	if got := *m.Snapshot().IdleSince; !got.Equal(idleAt) {
		t.Errorf("IdleSince reset to %v", got)
	}
	if got := m.Snapshot().IdleFor(clk.Now()); got != 3*time.Second {
		t.Errorf("IdleFor = %v, want 3s", got)
	}

	m.Apply(ctx, sig(telemetry.Ignition, false))
	check("stop")
}

func TestSnapshotIsACopy(t *testing.T) {
	m := NewMachine(clocktesting.NewFakeClock(time.Now()))
	s := m.Snapshot()
	*s.IdleSince = time.Time{}

	if m.Snapshot().IdleSince.IsZero() {
		t.Error("mutating a snapshot changed the machine")
	}
}

func TestInitialSnapshot(t *testing.T) {
	m := NewMachine(clocktesting.NewFakeClock(time.Now()))
	s := m.Snapshot()

	if s.State != Idle || s.IdleSince == nil {
		t.Errorf("state = %s idleSince = %v, want idle with the timer armed", s.State, s.IdleSince)
	}
	// Capture is allowed until a stop command is received.
	if s.Signals != (VehicleSignals{}) {
		t.Errorf("signals = %+v, want all false", s.Signals)
	}
}
