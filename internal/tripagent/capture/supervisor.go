package capture

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/looplab/fsm"
	"k8s.io/utils/clock"

	"github.com/capsule-io/timelapse-trip/internal/pkg/metrics"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/hal"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/motion"
	"github.com/capsule-io/timelapse-trip/pkg/log"
)

// Reasons a capture process stopped.
const (
	ReasonStop        = "stop"
	ReasonStopCommand = "stop_command"
	ReasonIdleTimeout = "idle_timeout"
	ReasonShutdown    = "shutdown"
	ReasonExited      = "exited"
	ReasonKilled      = "killed"
)

// ErrCapturing is returned by Quiesce while a capture process is live.
var ErrCapturing = errors.New("capture process is live")

type Config struct {
	// FrameRate is passed to the capture process.
	FrameRate float64

	// IdleTimeout is how long the vehicle may idle before capture stops.
	IdleTimeout time.Duration

	// GracePeriod bounds the wait for exit after the quit instruction.
	GracePeriod time.Duration
}

func DefaultConfig() Config {
	return Config{
		FrameRate:   1,
		IdleTimeout: 10 * time.Second,
		GracePeriod: 5 * time.Second,
	}
}

type handle struct {
	proc      Process
	lifecycle *fsm.FSM
	startedAt time.Time
}

// Supervisor owns the single capture process handle.
type Supervisor struct {
	mu      sync.Mutex
	current *handle

	cfg       Config
	launcher  Launcher
	accessory hal.Accessory
	clock     clock.Clock
	log       log.Logger

	closed chan struct{}
}

func NewSupervisor(cfg Config, launcher Launcher, accessory hal.Accessory, clk clock.Clock) *Supervisor {
	return &Supervisor{
		cfg:       cfg,
		launcher:  launcher,
		accessory: accessory,
		clock:     clk,
		log:       log.WithName("capture"),
		closed:    make(chan struct{}, 1),
	}
}

// OnStateChanged starts a capture process when the vehicle enters drive and
// no stop command is latched.
func (s *Supervisor) OnStateChanged(ctx context.Context, change motion.StateChanged, snap motion.Snapshot) {
	if change.New != motion.Drive {
		return
	}
	if snap.Signals.StopCommand {
		s.log.Info("Entered drive with stop command set, not capturing")
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.startLocked(ctx)
}

// Tick stops the running process when the motion snapshot asks for it, and
// releases a process that exited on its own.
func (s *Supervisor) Tick(ctx context.Context, snap motion.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := s.current
	if h == nil {
		return
	}

	select {
	case <-h.proc.Done():
		s.releaseExitedLocked(ctx, snap.State)
		return
	default:
	}

	if reason := s.stopReason(snap); reason != "" {
		s.stopLocked(ctx, reason)
	}
}

// Shutdown applies the graceful-stop protocol to the running process, if any.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return
	}
	select {
	case <-s.current.proc.Done():
		s.releaseExitedLocked(ctx, "")
	default:
		s.stopLocked(ctx, ReasonShutdown)
	}
}

// Quiesce runs fn while no process is live and none can be started. It
// returns ErrCapturing without running fn when a process is live.
func (s *Supervisor) Quiesce(fn func() error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != nil {
		return ErrCapturing
	}
	return fn()
}

// Capturing reports whether a capture process is live.
func (s *Supervisor) Capturing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current != nil
}

// Status describes the process lifecycle state, "none" without a process.
func (s *Supervisor) Status() (state string, since time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return "none", time.Time{}
	}
	return s.current.lifecycle.Current(), s.current.startedAt
}

// Closed is signalled each time a process has been reaped, i.e. a session
// directory has been closed.
func (s *Supervisor) Closed() <-chan struct{} {
	return s.closed
}

func (s *Supervisor) stopReason(snap motion.Snapshot) string {
	switch {
	case snap.State == motion.Stop:
		return ReasonStop
	case snap.Signals.StopCommand:
		return ReasonStopCommand
	case snap.State == motion.Idle && snap.IdleFor(s.clock.Now()) > s.cfg.IdleTimeout:
		return ReasonIdleTimeout
	default:
		return ""
	}
}

func (s *Supervisor) startLocked(ctx context.Context) {
	if s.current != nil {
		select {
		case <-s.current.proc.Done():
			// Exited between ticks; a new drive gets a fresh process.
			s.releaseExitedLocked(ctx, "")
		default:
			s.log.Debug("Capture process already running")
			return
		}
	}

	if err := s.accessory.PowerOn(ctx); err != nil {
		s.log.Error(err, "Failed to power on the camera accessory")
	}

	proc, err := s.launcher.Launch(ctx, s.cfg.FrameRate)
	if err != nil {
		metrics.CaptureStartsTotal.WithLabelValues("failure").Inc()
		s.log.Error(err, "Failed to start capture process, waiting for the next drive")
		return
	}

	h := &handle{
		proc:      proc,
		lifecycle: newLifecycle(s.log),
		startedAt: s.clock.Now(),
	}
	fire(ctx, h.lifecycle, eventStarted, s.log)
	s.current = h

	metrics.CaptureStartsTotal.WithLabelValues("success").Inc()
	metrics.CaptureRunning.Set(1)
	s.log.Info("Capture started", "pid", proc.Pid(), "frameRate", s.cfg.FrameRate)
}

// stopLocked blocks for at most the grace period plus reaping.
func (s *Supervisor) stopLocked(ctx context.Context, reason string) {
	h := s.current
	s.log.Info("Stopping capture process", "reason", reason, "pid", h.proc.Pid())

	fire(ctx, h.lifecycle, eventRequestStop, s.log)
	if err := h.proc.RequestStop(); err != nil {
		s.log.Warn("Quit instruction not delivered", "error", err)
	}

	timer := s.clock.NewTimer(s.cfg.GracePeriod)
	defer timer.Stop()

	select {
	case <-h.proc.Done():
	case <-timer.C():
		s.log.Warn("Capture process ignored the quit instruction, killing it", "grace", s.cfg.GracePeriod)
		if err := h.proc.Kill(); err != nil {
			s.log.Error(err, "Failed to kill capture process")
		}
		<-h.proc.Done()
		reason = ReasonKilled
	}

	fire(ctx, h.lifecycle, eventExit, s.log)
	s.releaseLocked(reason)
}

func (s *Supervisor) releaseExitedLocked(ctx context.Context, state motion.State) {
	h := s.current
	fire(ctx, h.lifecycle, eventExit, s.log)

	if state == motion.Drive {
		s.log.Error(h.proc.Err(), "Capture process exited while driving, not restarting until the next drive", "pid", h.proc.Pid())
	} else {
		s.log.Info("Capture process exited", "pid", h.proc.Pid(), "error", h.proc.Err())
	}
	s.releaseLocked(ReasonExited)
}

func (s *Supervisor) releaseLocked(reason string) {
	s.current = nil
	metrics.CaptureRunning.Set(0)
	metrics.CaptureStopsTotal.WithLabelValues(reason).Inc()

	select {
	case s.closed <- struct{}{}:
	default:
	}
}
