// Package pipeline turns closed capture sessions into videos.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"iter"
	"os"
	"path/filepath"
	"time"

	"gocv.io/x/gocv"
	"k8s.io/utils/clock"

	"github.com/capsule-io/timelapse-trip/internal/pkg/metrics"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/capture"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/compositor"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/jobstore"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/location"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/maprender"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/progress"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/session"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/storage"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/video"
	"github.com/capsule-io/timelapse-trip/pkg/log"
)

// Where the pipeline runs.
const (
	// ModeInline runs the pipeline on the control loop whenever no capture is live.
	ModeInline = "inline"
	// ModeWorker runs it on its own goroutine, woken when a session closes.
	ModeWorker = "worker"
)

const mapsDir = "maps"

type Config struct {
	Mode string
	// Interval between periodic runs in worker mode.
	Interval time.Duration
	// MapWorkers bounds the concurrent map renders.
	MapWorkers int
}

func DefaultConfig() Config {
	return Config{
		Mode:       ModeWorker,
		Interval:   time.Minute,
		MapWorkers: 4,
	}
}

// Quiescer runs a function while no capture process is live.
type Quiescer interface {
	Quiesce(fn func() error) error
}

type Correlator interface {
	Correlate(ctx context.Context, timestamps []time.Time) (location.Series, error)
}

type Assembler interface {
	Assemble(ctx context.Context, path string, size image.Point, frames iter.Seq[gocv.Mat]) (video.Result, error)
}

// Ledger records assembly jobs.
type Ledger interface {
	Create(ctx context.Context, session string, frames int) (*jobstore.Job, error)
	Finish(ctx context.Context, id string, out jobstore.Outcome) error
}

// Reporter receives StatusAssembling when an assembly starts and
// StatusWaiting when it ends.
type Reporter interface {
	Status(ctx context.Context, status string)
	Progress(ctx context.Context, percent int)
}

// Deps are the collaborators of a Pipeline. Renderer, Store and Uploader may
// be nil.
type Deps struct {
	Quiescer   Quiescer
	Admission  *session.Admission
	Correlator Correlator
	Renderer   maprender.Renderer
	Compositor *compositor.Compositor
	Assembler  Assembler
	Store      Ledger
	Uploader   storage.Provider
	Reporter   Reporter
	Clock      clock.PassiveClock
}

type Pipeline struct {
	cfg Config
	Deps

	log log.Logger
}

func New(cfg Config, deps Deps) *Pipeline {
	if cfg.MapWorkers <= 0 {
		cfg.MapWorkers = 1
	}
	if deps.Compositor == nil {
		deps.Compositor = compositor.New()
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}
	return &Pipeline{
		cfg:  cfg,
		Deps: deps,
		log:  log.WithName("pipeline"),
	}
}

func (p *Pipeline) Mode() string {
	return p.cfg.Mode
}

// RunOnce triages the capture root and assembles every accepted or pending
// session, oldest first. Failures are logged per session; only a cancelled
// ctx is returned.
func (p *Pipeline) RunOnce(ctx context.Context) error {
	var accepted *session.Sessions
	err := p.Quiescer.Quiesce(func() error {
		var err error
		accepted, err = p.Admission.Scan()
		return err
	})
	switch {
	case errors.Is(err, capture.ErrCapturing):
		p.log.Debug("Capture is live, skipping admission")
	case err != nil:
		p.log.Error(err, "Admission finished with errors")
	}

	todo, err := p.Admission.Pending()
	if err != nil {
		p.log.Error(err, "Failed to list pending sessions")
		todo = session.NewSessions()
	}
	if accepted != nil {
		todo.Merge(accepted)
		todo.Sort()
	}

	for _, s := range todo.All() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.Assemble(ctx, s); err != nil {
			p.log.Error(err, "Session assembly failed", "session", s.Name)
		}
	}
	return ctx.Err()
}

// Run runs the pipeline each time trigger fires, every interval, and once at
// start, until ctx is done.
func (p *Pipeline) Run(ctx context.Context, trigger <-chan struct{}, clk clock.Clock) error {
	interval := p.cfg.Interval
	if interval <= 0 {
		interval = DefaultConfig().Interval
	}
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := p.RunOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-trigger:
		case <-ticker.C():
		}
	}
}

// Assemble turns one accepted session into a video and archives it. A
// session interrupted by ctx stays in the work root and is picked up again by
// the next run.
func (p *Pipeline) Assemble(ctx context.Context, s *session.Session) (err error) {
	start := p.Clock.Now()
	logger := p.log.WithValues("session", s.Name)
	logger.Info("Assembling session", "frames", s.Len())

	p.Reporter.Status(ctx, progress.StatusAssembling)
	p.Reporter.Progress(ctx, 0)

	var job *jobstore.Job
	if p.Store != nil {
		if job, err = p.Store.Create(ctx, s.Name, s.Len()); err != nil {
			logger.Error(err, "Failed to record job")
		}
	}

	out := p.assemble(ctx, s, logger)

	interrupted := ctx.Err() != nil
	if !interrupted {
		reason := session.ReasonDone
		if out.State != jobstore.StateSucceeded {
			reason = session.ReasonFailed
		}
		if _, aerr := p.Admission.Archive(s, reason); aerr != nil {
			logger.Error(aerr, "Failed to archive session")
		}
	}

	if job != nil {
		if ferr := p.Store.Finish(context.WithoutCancel(ctx), job.ID, out); ferr != nil {
			logger.Error(ferr, "Failed to record job outcome", "job", job.ID)
		}
	}

	metrics.AssemblyJobsTotal.WithLabelValues(string(out.State)).Inc()
	metrics.AssemblyDuration.Observe(p.Clock.Since(start).Seconds())
	metrics.FramesTotal.WithLabelValues("written").Add(float64(out.Written))
	metrics.FramesTotal.WithLabelValues("skipped").Add(float64(out.Skipped))

	if out.State == jobstore.StateSucceeded {
		p.Reporter.Progress(ctx, progress.AssemblyCompleted)
		logger.Info("Session assembled", "output", out.Output, "written", out.Written, "skipped", out.Skipped,
			"coverage", out.Coverage, "duration", p.Clock.Since(start))
	}
	p.Reporter.Status(ctx, progress.StatusWaiting)
	return out.Err
}

func (p *Pipeline) assemble(ctx context.Context, s *session.Session, logger log.Logger) jobstore.Outcome {
	fail := func(err error) jobstore.Outcome {
		return jobstore.Outcome{State: jobstore.StateFailed, Err: err}
	}
	if s.Len() == 0 {
		return fail(errors.New("session has no frames"))
	}

	series, err := p.Correlator.Correlate(ctx, s.Timestamps())
	if err != nil {
		logger.Warn("Location lookup failed, continuing without maps", "error", err)
	}
	p.Reporter.Progress(ctx, progress.CorrelationDone)

	var maps map[int]string
	if series.Covered() && p.Renderer != nil {
		maps = p.renderMaps(ctx, s, series, logger)
	}

	size, err := frameSize(s)
	if err != nil {
		return fail(err)
	}

	output := p.Admission.Layout().ResultPath(s.Name)
	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return fail(fmt.Errorf("failed to create %s: %w", filepath.Dir(output), err))
	}

	span := progress.FrameStageNoMaps
	if series.Covered() {
		span = progress.FrameStage
	}

	res, err := p.Assembler.Assemble(ctx, output, size, p.frames(ctx, s, series, maps, span))
	out := jobstore.Outcome{
		Written:  res.Written,
		Skipped:  res.Skipped,
		Coverage: series.Covered(),
		Output:   output,
	}
	switch {
	case err != nil:
		out.State, out.Err = jobstore.StateFailed, err
	case res.Written == 0:
		out.State, out.Err = jobstore.StateFailed, errors.New("no frame could be written")
	default:
		out.State = jobstore.StateSucceeded
	}
	if out.State != jobstore.StateSucceeded {
		_ = os.Remove(output)
		return out
	}

	if p.Uploader != nil {
		if err := p.Uploader.Upload(ctx, storage.VideoKey(s.Name), output); err != nil {
			logger.Error(err, "Upload failed, the video stays local", "output", output)
		}
	}
	return out
}

// frames yields the session frames in order, stamped when series covers the
// session. Unreadable frames are yielded empty and skipped by the assembler.
func (p *Pipeline) frames(ctx context.Context, s *session.Session, series location.Series, maps map[int]string, span progress.Span) iter.Seq[gocv.Mat] {
	return func(yield func(gocv.Mat) bool) {
		last := -1
		for i, f := range s.Frames {
			m := gocv.IMRead(f.Path, gocv.IMReadColor)
			if !m.Empty() && series.Covered() {
				p.stamp(&m, f, series, maps[i])
			}
			if !yield(m) {
				return
			}

			if pct := span.At(i+1, s.Len()); pct != last {
				p.Reporter.Progress(ctx, pct)
				last = pct
			}
		}
	}
}

func (p *Pipeline) stamp(m *gocv.Mat, f session.Frame, series location.Series, mapPath string) {
	point, ok := series.At(f.Time)
	if !ok {
		return
	}

	tile := gocv.NewMat()
	if mapPath != "" {
		tile.Close()
		tile = gocv.IMRead(mapPath, gocv.IMReadColor)
	}
	defer tile.Close()

	p.Compositor.Compose(m, tile, compositor.Label(f.Time, point))
}

// frameSize returns the size of the first readable frame.
func frameSize(s *session.Session) (image.Point, error) {
	var errs []error
	for _, f := range s.Frames {
		size, err := video.ProbeSize(f.Path)
		if err == nil {
			return size, nil
		}
		errs = append(errs, err)
		if len(errs) >= 10 {
			break
		}
	}
	return image.Point{}, fmt.Errorf("no readable frame: %w", errors.Join(errs...))
}
