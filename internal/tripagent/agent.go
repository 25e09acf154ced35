package tripagent

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"k8s.io/utils/clock"

	"github.com/capsule-io/timelapse-trip/internal/tripagent/capture"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/motion"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/pipeline"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/progress"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/server"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/telemetry"
	"github.com/capsule-io/timelapse-trip/pkg/log"
)

// Hub is the broker connection.
type Hub interface {
	Start(ctx context.Context) error
	Stop()
	IsConnected() bool
}

// Reporter publishes the process status topics.
type Reporter interface {
	Alive(ctx context.Context, alive bool)
	Status(ctx context.Context, status string)
	Heartbeat(ctx context.Context, interval time.Duration, clk clock.Clock)
}

type Agent struct {
	hub        Hub
	reporter   Reporter
	queue      *telemetry.Queue
	machine    *motion.Machine
	supervisor *capture.Supervisor
	// pipeline is nil when assembly is disabled.
	pipeline *pipeline.Pipeline
	server   *server.Server

	clock             clock.Clock
	tickInterval      time.Duration
	heartbeatInterval time.Duration

	// closers run after shutdown, in order.
	closers []func() error

	// statusMu serializes last_status, which the loop and the assembly
	// worker both update.
	statusMu   sync.Mutex
	assembling bool
	lastStatus string

	log log.Logger
}

var _ server.Source = (*Agent)(nil)

// Run drives the agent until ctx is done, then stops any capture, announces
// alive=False and disconnects, in that order.
func (a *Agent) Run(ctx context.Context) error {
	log.Info("Starting timelapse-trip agent", "pipelineMode", a.pipelineMode())

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := a.hub.Start(gctx); err != nil && gctx.Err() == nil {
			return err
		}
		return nil
	})
	g.Go(func() error {
		a.reporter.Heartbeat(gctx, a.heartbeatInterval, a.clock)
		return nil
	})
	if a.server != nil {
		g.Go(func() error {
			return a.server.Start(gctx)
		})
	}
	if a.pipeline != nil && a.pipeline.Mode() == pipeline.ModeWorker {
		g.Go(func() error {
			return a.pipeline.Run(gctx, a.supervisor.Closed(), a.clock)
		})
	}
	g.Go(func() error {
		return a.loop(gctx)
	})

	err := g.Wait()
	a.shutdown(ctx)
	return err
}

func (a *Agent) shutdown(ctx context.Context) {
	log.Info("Agent shutting down...")
	a.supervisor.Shutdown(ctx)
	a.reporter.Alive(ctx, false)
	a.hub.Stop()

	for _, c := range a.closers {
		if err := c(); err != nil {
			log.Error(err, "Failed to release resource")
		}
	}
}

// loop is the only consumer of the telemetry queue.
func (a *Agent) loop(ctx context.Context) error {
	ticker := a.clock.NewTicker(a.tickInterval)
	defer ticker.Stop()

	var closed <-chan struct{}
	inline := a.pipeline != nil && a.pipeline.Mode() == pipeline.ModeInline
	if inline {
		closed = a.supervisor.Closed()
		a.runInline(ctx)
	}
	a.publishStatus(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil

		case sig := <-a.queue.C():
			if change, ok := a.machine.Apply(ctx, sig); ok {
				a.supervisor.OnStateChanged(ctx, change, a.machine.Snapshot())
			}
			// Stops take effect on the signal that calls for them, not on the next tick.
			a.supervisor.Tick(ctx, a.machine.Snapshot())

		case <-ticker.C():
			a.supervisor.Tick(ctx, a.machine.Snapshot())

		case <-closed:
			a.runInline(ctx)
		}
		a.publishStatus(ctx)
	}
}

func (a *Agent) runInline(ctx context.Context) {
	if a.supervisor.Capturing() {
		return
	}

	entered := a.drainWhile(ctx, func() {
		if err := a.pipeline.RunOnce(ctx); err != nil && ctx.Err() == nil {
			a.log.Error(err, "Assembly run failed")
		}
	})

	snap := a.machine.Snapshot()
	if entered.New == motion.Drive && snap.State == motion.Drive {
		a.supervisor.OnStateChanged(ctx, entered, snap)
	}
	a.supervisor.Tick(ctx, snap)
}

// drainWhile keeps applying queued signals to the motion machine while fn
// runs, so MQTT delivery never stalls behind an assembly. It returns the last
// transition into drive seen meanwhile, which the caller replays.
func (a *Agent) drainWhile(ctx context.Context, fn func()) motion.StateChanged {
	stop := make(chan struct{})
	result := make(chan motion.StateChanged, 1)

	go func() {
		var entered motion.StateChanged
		defer func() { result <- entered }()
		for {
			select {
			case <-stop:
				return
			case <-ctx.Done():
				return
			case sig := <-a.queue.C():
				if change, ok := a.machine.Apply(ctx, sig); ok && change.New == motion.Drive {
					entered = change
				}
			}
		}
	}()

	fn()
	close(stop)
	return <-result
}

// publishStatus publishes last_status when it changed. A live capture takes
// precedence over a running assembly.
func (a *Agent) publishStatus(ctx context.Context) {
	a.statusMu.Lock()
	defer a.statusMu.Unlock()

	status := progress.StatusWaiting
	switch {
	case a.supervisor.Capturing():
		status = progress.StatusCapturing
	case a.assembling:
		status = progress.StatusAssembling
	}
	if status == a.lastStatus {
		return
	}
	a.lastStatus = status
	a.reporter.Status(ctx, status)
}

func (a *Agent) setAssembling(ctx context.Context, on bool) {
	a.statusMu.Lock()
	a.assembling = on
	a.statusMu.Unlock()
	a.publishStatus(ctx)
}

// pipelineReporter hands the pipeline a reporter whose status updates go
// through the agent. Progress is published as is.
func (a *Agent) pipelineReporter(p progressPublisher) pipeline.Reporter {
	return assemblyStatus{agent: a, progress: p}
}

type progressPublisher interface {
	Progress(ctx context.Context, percent int)
}

type assemblyStatus struct {
	agent    *Agent
	progress progressPublisher
}

func (r assemblyStatus) Status(ctx context.Context, status string) {
	r.agent.setAssembling(ctx, status == progress.StatusAssembling)
}

func (r assemblyStatus) Progress(ctx context.Context, percent int) {
	r.progress.Progress(ctx, percent)
}

func (a *Agent) pipelineMode() string {
	if a.pipeline == nil {
		return "disabled"
	}
	return a.pipeline.Mode()
}

// Status implements server.Source.
func (a *Agent) Status() server.Status {
	snap := a.machine.Snapshot()
	st := server.Status{
		Motion:        string(snap.State),
		IdleSince:     snap.IdleSince,
		Ignition:      snap.Signals.Ignition,
		Moving:        snap.Signals.CarMoving,
		StopCommand:   snap.Signals.StopCommand,
		MqttConnected: a.hub.IsConnected(),
		QueuedSignals: a.queue.Len(),
	}
	var since time.Time
	st.Capture, since = a.supervisor.Status()
	if !since.IsZero() {
		st.CaptureSince = &since
	}
	return st
}

// Ready implements server.Source.
func (a *Agent) Ready() bool {
	return a.hub.IsConnected()
}
