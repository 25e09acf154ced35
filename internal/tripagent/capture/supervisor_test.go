package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"github.com/capsule-io/timelapse-trip/internal/tripagent/motion"
)

type fakeProcess struct {
	mu         sync.Mutex
	done       chan struct{}
	exitOnStop bool
	stops      int
	kills      int
}

func newFakeProcess(exitOnStop bool) *fakeProcess {
	return &fakeProcess{done: make(chan struct{}), exitOnStop: exitOnStop}
}

func (p *fakeProcess) Pid() int { return 4242 }

func (p *fakeProcess) RequestStop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	if p.exitOnStop {
		p.exitLocked()
	}
	return nil
}

func (p *fakeProcess) Kill() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.kills++
	p.exitLocked()
	return nil
}

func (p *fakeProcess) exit() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.exitLocked()
}

func (p *fakeProcess) exitLocked() {
	select {
	case <-p.done:
	default:
		close(p.done)
	}
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }
func (p *fakeProcess) Err() error            { return nil }

func (p *fakeProcess) counts() (stops, kills int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stops, p.kills
}

type fakeLauncher struct {
	mu         sync.Mutex
	launches   int
	rates      []float64
	err        error
	ignoreQuit bool
	procs      []*fakeProcess
}

func (l *fakeLauncher) Launch(_ context.Context, frameRate float64) (Process, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.launches++
	l.rates = append(l.rates, frameRate)
	if l.err != nil {
		return nil, l.err
	}
	p := newFakeProcess(!l.ignoreQuit)
	l.procs = append(l.procs, p)
	return p, nil
}

func (l *fakeLauncher) last() *fakeProcess {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.procs[len(l.procs)-1]
}

type fakeAccessory struct {
	calls int
	err   error
}

func (a *fakeAccessory) PowerOn(context.Context) error {
	a.calls++
	return a.err
}

var t0 = time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)

func newTestSupervisor(l *fakeLauncher, a *fakeAccessory) (*Supervisor, *clocktesting.FakeClock) {
	clk := clocktesting.NewFakeClock(t0)
	cfg := DefaultConfig()
	cfg.FrameRate = 2
	return NewSupervisor(cfg, l, a, clk), clk
}

func toDrive() motion.StateChanged {
	return motion.StateChanged{Old: motion.Idle, New: motion.Drive}
}

func driving() motion.Snapshot {
	return motion.Snapshot{State: motion.Drive, Signals: motion.VehicleSignals{Ignition: true, CarMoving: true}}
}

func TestDriveEntryStartsOneProcess(t *testing.T) {
	l := &fakeLauncher{}
	a := &fakeAccessory{}
	s, _ := newTestSupervisor(l, a)
	ctx := context.Background()

	snap := driving()
	s.OnStateChanged(ctx, toDrive(), snap)
	s.OnStateChanged(ctx, toDrive(), snap)

	if l.launches != 1 {
		t.Fatalf("launches = %d, want 1", l.launches)
	}
	if l.rates[0] != 2 {
		t.Errorf("frame rate = %v, want 2", l.rates[0])
	}
	if a.calls != 1 {
		t.Errorf("accessory calls = %d, want 1", a.calls)
	}
	if !s.Capturing() {
		t.Error("Capturing() = false after start")
	}
	if state, _ := s.Status(); state != StateRunning {
		t.Errorf("lifecycle state = %s, want %s", state, StateRunning)
	}
}

func TestNoStartOnOtherStatesOrStopCommand(t *testing.T) {
	l := &fakeLauncher{}
	s, _ := newTestSupervisor(l, &fakeAccessory{})
	ctx := context.Background()

	s.OnStateChanged(ctx, motion.StateChanged{Old: motion.Drive, New: motion.Idle}, motion.Snapshot{State: motion.Idle})

	snap := driving()
	snap.Signals.StopCommand = true
	s.OnStateChanged(ctx, toDrive(), snap)

	if l.launches != 0 {
		t.Errorf("launches = %d, want 0", l.launches)
	}
}

func TestStartFailureRetriesOnNextDrive(t *testing.T) {
	l := &fakeLauncher{err: errors.New("no camera")}
	a := &fakeAccessory{err: errors.New("router unreachable")}
	s, _ := newTestSupervisor(l, a)
	ctx := context.Background()
	snap := driving()

	s.OnStateChanged(ctx, toDrive(), snap)
	if s.Capturing() {
		t.Fatal("Capturing() = true after a failed start")
	}

	l.err = nil
	s.OnStateChanged(ctx, toDrive(), snap)
	if !s.Capturing() {
		t.Fatal("Capturing() = false, accessory failure must not prevent the start")
	}
	if l.launches != 2 {
		t.Errorf("launches = %d, want 2", l.launches)
	}
}

func TestTickStopsGracefully(t *testing.T) {
	tests := []struct {
		name string
		snap func(now time.Time) motion.Snapshot
		stop bool
	}{
		{"stop state", func(time.Time) motion.Snapshot { return motion.Snapshot{State: motion.Stop} }, true},
		{"stop command", func(time.Time) motion.Snapshot {
			s := driving()
			s.Signals.StopCommand = true
			return s
		}, true},
		{"idle past timeout", func(now time.Time) motion.Snapshot {
			since := now.Add(-11 * time.Second)
			return motion.Snapshot{State: motion.Idle, IdleSince: &since}
		}, true},
		{"idle within timeout", func(now time.Time) motion.Snapshot {
			since := now.Add(-5 * time.Second)
			return motion.Snapshot{State: motion.Idle, IdleSince: &since}
		}, false},
		{"still driving", func(time.Time) motion.Snapshot { return driving() }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := &fakeLauncher{}
			s, clk := newTestSupervisor(l, &fakeAccessory{})
			ctx := context.Background()
			s.OnStateChanged(ctx, toDrive(), driving())

			s.Tick(ctx, tt.snap(clk.Now()))

			stops, kills := l.last().counts()
			if tt.stop {
				if stops != 1 || kills != 0 {
					t.Errorf("stops = %d kills = %d, want 1 and 0", stops, kills)
				}
				if s.Capturing() {
					t.Error("process not released")
				}
				select {
				case <-s.Closed():
				default:
					t.Error("Closed() not signalled")
				}
				return
			}
			if stops != 0 || !s.Capturing() {
				t.Errorf("process should keep running, stops = %d", stops)
			}
		})
	}
}

func TestStopKillsAfterGracePeriod(t *testing.T) {
	l := &fakeLauncher{ignoreQuit: true}
	s, clk := newTestSupervisor(l, &fakeAccessory{})
	ctx := context.Background()
	s.OnStateChanged(ctx, toDrive(), driving())

	finished := make(chan struct{})
	go func() {
		s.Tick(ctx, motion.Snapshot{State: motion.Stop})
		close(finished)
	}()

	deadline := time.After(5 * time.Second)
	for !clk.HasWaiters() {
		select {
		case <-deadline:
			t.Fatal("supervisor never waited on the grace timer")
		case <-time.After(time.Millisecond):
		}
	}
	clk.Step(DefaultConfig().GracePeriod)

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("Tick did not return after the grace period")
	}

	stops, kills := l.last().counts()
	if stops != 1 || kills != 1 {
		t.Errorf("stops = %d kills = %d, want 1 and 1", stops, kills)
	}
	if s.Capturing() {
		t.Error("process not released after kill")
	}
}

func TestUnexpectedExitIsNotRestarted(t *testing.T) {
	l := &fakeLauncher{}
	s, _ := newTestSupervisor(l, &fakeAccessory{})
	ctx := context.Background()
	s.OnStateChanged(ctx, toDrive(), driving())

	l.last().exit()
	s.Tick(ctx, driving())
	s.Tick(ctx, driving())

	if s.Capturing() {
		t.Error("exited process still held")
	}
	if l.launches != 1 {
		t.Errorf("launches = %d, want 1", l.launches)
	}
	if stops, _ := l.last().counts(); stops != 0 {
		t.Errorf("quit sent to an exited process")
	}
}

func TestShutdownAndQuiesce(t *testing.T) {
	l := &fakeLauncher{}
	s, _ := newTestSupervisor(l, &fakeAccessory{})
	ctx, cancel := context.WithCancel(context.Background())
	s.OnStateChanged(ctx, toDrive(), driving())

	ran := false
	err := s.Quiesce(func() error {
		ran = true
		return nil
	})
	if !errors.Is(err, ErrCapturing) || ran {
		t.Errorf("Quiesce during capture = %v (ran %v), want ErrCapturing", err, ran)
	}

	// Shutdown runs with the run context already canceled.
	cancel()
	s.Shutdown(ctx)

	if stops, _ := l.last().counts(); stops != 1 {
		t.Errorf("stops = %d, want 1", stops)
	}
	if s.Capturing() {
		t.Error("process still held after Shutdown")
	}
	s.Shutdown(ctx)

	if err := s.Quiesce(func() error { ran = true; return nil }); err != nil || !ran {
		t.Errorf("Quiesce after shutdown = %v (ran %v)", err, ran)
	}
}

func TestDriveAfterUnreapedExitRelaunches(t *testing.T) {
	l := &fakeLauncher{}
	s, _ := newTestSupervisor(l, &fakeAccessory{})
	ctx := context.Background()
	s.OnStateChanged(ctx, toDrive(), driving())

	first := l.last()
	first.exit()
	s.OnStateChanged(ctx, motion.StateChanged{Old: motion.Drive, New: motion.Idle}, motion.Snapshot{State: motion.Idle})
	s.OnStateChanged(ctx, toDrive(), driving())

	if l.launches != 2 {
		t.Fatalf("launches = %d, want 2", l.launches)
	}
	if l.last() == first || !s.Capturing() {
		t.Error("exited process still held instead of a fresh one")
	}
	select {
	case <-s.Closed():
	default:
		t.Error("Closed() not signalled for the exited process")
	}
}
