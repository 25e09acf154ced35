package capture

import (
	"context"

	"github.com/looplab/fsm"

	fsmutil "github.com/capsule-io/timelapse-trip/internal/pkg/util/fsm"
	"github.com/capsule-io/timelapse-trip/pkg/log"
)

// Lifecycle states of one capture process.
const (
	StateStarting      = "starting"
	StateRunning       = "running"
	StateStopRequested = "stop_requested"
	StateExited        = "exited"
)

const (
	eventStarted     = "started"
	eventRequestStop = "request_stop"
	eventExit        = "exit"
)

func newLifecycle(logger log.Logger) *fsm.FSM {
	events := fsm.Events{
		{Name: eventStarted, Src: []string{StateStarting}, Dst: StateRunning},
		{Name: eventRequestStop, Src: []string{StateRunning}, Dst: StateStopRequested},
		{Name: eventExit, Src: []string{StateStarting, StateRunning, StateStopRequested}, Dst: StateExited},
	}

	callbacks := fsm.Callbacks{
		"enter_state": func(_ context.Context, e *fsm.Event) {
			logger.Debug("Capture process lifecycle", "from", e.Src, "to", e.Dst)
		},
	}

	return fsm.NewFSM(StateStarting, events, callbacks)
}

// fire runs a lifecycle event. Events are fired during shutdown too, so the
// caller's cancellation must not abort the transition.
func fire(ctx context.Context, lc *fsm.FSM, event string, logger log.Logger) {
	if err := lc.Event(context.WithoutCancel(ctx), event); fsmutil.IsRealError(err) {
		logger.Error(err, "Invalid capture lifecycle transition", "event", event, "state", lc.Current())
	}
}
