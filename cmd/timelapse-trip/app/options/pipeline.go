package options

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"

	"github.com/capsule-io/timelapse-trip/internal/tripagent/pipeline"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/session"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/video"
	"github.com/capsule-io/timelapse-trip/pkg/options"
)

var _ options.IOptions = (*PipelineOptions)(nil)

// PipelineOptions configures session admission and video assembly.
type PipelineOptions struct {
	Enabled    bool          `json:"enabled" mapstructure:"enabled"`
	Mode       string        `json:"mode" mapstructure:"mode"`
	Interval   time.Duration `json:"interval" mapstructure:"interval"`
	MapWorkers int           `json:"map-workers" mapstructure:"map-workers"`

	// ForceNoCoverage assembles every session as if no location was recorded.
	ForceNoCoverage bool `json:"force-no-coverage" mapstructure:"force-no-coverage"`

	FPS      float64 `json:"fps" mapstructure:"fps"`
	Codec    string  `json:"codec" mapstructure:"codec"`
	JobStore string  `json:"job-store" mapstructure:"job-store"`

	// DataDir is the parent of the roots left empty.
	DataDir     string `json:"data-dir" mapstructure:"data-dir"`
	CaptureRoot string `json:"capture-root" mapstructure:"capture-root"`
	WorkRoot    string `json:"work-root" mapstructure:"work-root"`
	ArchiveRoot string `json:"archive-root" mapstructure:"archive-root"`
	ResultsRoot string `json:"results-root" mapstructure:"results-root"`

	FrameFormat   string `json:"frame-format" mapstructure:"frame-format"`
	FrameExt      string `json:"frame-ext" mapstructure:"frame-ext"`
	FrameTimeZone string `json:"frame-time-zone" mapstructure:"frame-time-zone"`
	MinFrames     int    `json:"min-frames" mapstructure:"min-frames"`

	location *time.Location
}

func NewPipelineOptions() *PipelineOptions {
	cfg := pipeline.DefaultConfig()
	return &PipelineOptions{
		Enabled:       true,
		Mode:          cfg.Mode,
		Interval:      cfg.Interval,
		MapWorkers:    cfg.MapWorkers,
		FPS:           video.DefaultFPS,
		Codec:         video.DefaultCodec,
		DataDir:       "/var/lib/capsule/timelapse_trip",
		FrameFormat:   session.DefaultFrameFormat,
		FrameExt:      session.DefaultFrameExt,
		FrameTimeZone: "Local",
		MinFrames:     session.DefaultMinFrames,
	}
}

// Complete derives the roots and the job store path left empty from DataDir.
func (o *PipelineOptions) Complete() error {
	for _, p := range []struct {
		dst  *string
		name string
	}{
		{&o.CaptureRoot, "capture"},
		{&o.WorkRoot, "work"},
		{&o.ArchiveRoot, "archive"},
		{&o.ResultsRoot, "results"},
		{&o.JobStore, "jobs.db"},
	} {
		if *p.dst == "" && o.DataDir != "" {
			*p.dst = filepath.Join(o.DataDir, p.name)
		}
	}

	loc, err := time.LoadLocation(o.FrameTimeZone)
	if err != nil {
		return fmt.Errorf("pipeline.frame-time-zone: %w", err)
	}
	o.location = loc
	return nil
}

func (o *PipelineOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	switch o.Mode {
	case pipeline.ModeInline, pipeline.ModeWorker:
	default:
		errs = append(errs, fmt.Errorf("pipeline.mode must be %q or %q, got %q", pipeline.ModeInline, pipeline.ModeWorker, o.Mode))
	}
	if o.Mode == pipeline.ModeWorker && o.Interval <= 0 {
		errs = append(errs, errors.New("pipeline.interval must be positive in worker mode"))
	}
	if o.MapWorkers <= 0 {
		errs = append(errs, errors.New("pipeline.map-workers must be positive"))
	}
	if o.FPS <= 0 {
		errs = append(errs, errors.New("pipeline.fps must be positive"))
	}
	if len(o.Codec) != 4 {
		errs = append(errs, fmt.Errorf("pipeline.codec must be a fourcc, got %q", o.Codec))
	}
	if o.MinFrames < 1 {
		errs = append(errs, errors.New("pipeline.min-frames must be at least 1"))
	}

	roots := map[string]string{}
	for name, root := range map[string]string{
		"capture-root": o.CaptureRoot,
		"work-root":    o.WorkRoot,
		"archive-root": o.ArchiveRoot,
		"results-root": o.ResultsRoot,
	} {
		if root == "" {
			errs = append(errs, fmt.Errorf("pipeline.%s is required", name))
			continue
		}
		clean := filepath.Clean(root)
		if other, ok := roots[clean]; ok {
			errs = append(errs, fmt.Errorf("pipeline.%s and pipeline.%s must differ", other, name))
		}
		roots[clean] = name
	}
	return errs
}

func (o *PipelineOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.BoolVar(&o.Enabled, "pipeline.enabled", o.Enabled, "Assemble closed sessions into videos.")
	fs.StringVar(&o.Mode, "pipeline.mode", o.Mode, "Where assembly runs: 'inline' on the control loop or 'worker' on its own goroutine.")
	fs.DurationVar(&o.Interval, "pipeline.interval", o.Interval, "Interval of the periodic assembly run in worker mode.")
	fs.IntVar(&o.MapWorkers, "pipeline.map-workers", o.MapWorkers, "Number of maps rendered concurrently.")
	fs.BoolVar(&o.ForceNoCoverage, "pipeline.force-no-coverage", o.ForceNoCoverage, "Assemble raw frames without location stamps and maps.")
	fs.Float64Var(&o.FPS, "pipeline.fps", o.FPS, "Frame rate of the assembled video.")
	fs.StringVar(&o.Codec, "pipeline.codec", o.Codec, "Fourcc of the video codec.")
	fs.StringVar(&o.JobStore, "pipeline.job-store", o.JobStore, "SQLite file recording assembly jobs (default <data-dir>/jobs.db).")
	fs.StringVar(&o.DataDir, "pipeline.data-dir", o.DataDir, "Parent directory of the roots left empty.")
	fs.StringVar(&o.CaptureRoot, "pipeline.capture-root", o.CaptureRoot, "Directory the capture program writes sessions to (default <data-dir>/capture).")
	fs.StringVar(&o.WorkRoot, "pipeline.work-root", o.WorkRoot, "Directory of sessions waiting for assembly (default <data-dir>/work).")
	fs.StringVar(&o.ArchiveRoot, "pipeline.archive-root", o.ArchiveRoot, "Directory keeping rejected and finished sessions (default <data-dir>/archive).")
	fs.StringVar(&o.ResultsRoot, "pipeline.results-root", o.ResultsRoot, "Directory receiving the videos (default <data-dir>/results).")
	fs.StringVar(&o.FrameFormat, "pipeline.frame-format", o.FrameFormat, "Go time layout of the frame file names.")
	fs.StringVar(&o.FrameExt, "pipeline.frame-ext", o.FrameExt, "Extension of the frame files.")
	fs.StringVar(&o.FrameTimeZone, "pipeline.frame-time-zone", o.FrameTimeZone, "Time zone of the frame file names, e.g. Local or Europe/Paris.")
	fs.IntVar(&o.MinFrames, "pipeline.min-frames", o.MinFrames, "Smallest number of frames a session needs to be assembled.")
}

func (o *PipelineOptions) Config() pipeline.Config {
	return pipeline.Config{
		Mode:       o.Mode,
		Interval:   o.Interval,
		MapWorkers: o.MapWorkers,
	}
}

func (o *PipelineOptions) Layout() session.Layout {
	return session.Layout{
		CaptureRoot: o.CaptureRoot,
		WorkRoot:    o.WorkRoot,
		ArchiveRoot: o.ArchiveRoot,
		ResultsRoot: o.ResultsRoot,
		Naming: session.FrameNaming{
			Format:   o.FrameFormat,
			Ext:      o.FrameExt,
			Location: o.location,
		},
		MinFrames: o.MinFrames,
	}
}
