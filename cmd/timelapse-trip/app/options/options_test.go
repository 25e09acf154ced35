package options

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/capsule-io/timelapse-trip/internal/tripagent/maprender"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/pipeline"
)

func TestDefaultsAreValid(t *testing.T) {
	o := NewTripOptions()
	if err := o.Complete(); err != nil {
		t.Fatal(err)
	}
	if err := o.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}

	cfg, err := o.Config()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Layout.CaptureRoot != "/var/lib/capsule/timelapse_trip/capture" {
		t.Errorf("capture root = %q", cfg.Layout.CaptureRoot)
	}
	if cfg.JobStorePath != "/var/lib/capsule/timelapse_trip/jobs.db" {
		t.Errorf("job store = %q", cfg.JobStorePath)
	}
	if cfg.Layout.MinFrames != 300 || cfg.Layout.Naming.Location != time.Local {
		t.Errorf("layout = %+v", cfg.Layout)
	}
	if cfg.Topics.Motion != "router/car/moving" || cfg.QueueSize != 64 {
		t.Errorf("telemetry = %+v, queue %d", cfg.Topics, cfg.QueueSize)
	}
	if !cfg.AssemblyEnabled || cfg.Pipeline.Mode != pipeline.ModeWorker || cfg.ForceNoCoverage {
		t.Errorf("pipeline = %+v, enabled %v", cfg.Pipeline, cfg.AssemblyEnabled)
	}
	if cfg.VideoFPS != 10 || cfg.VideoCodec != "mp4v" {
		t.Errorf("video = %v fps %q", cfg.VideoFPS, cfg.VideoCodec)
	}
	if cfg.Map.Mode != maprender.ModeNone {
		t.Errorf("map mode = %q", cfg.Map.Mode)
	}
	if cfg.Capture.GracePeriod != 5*time.Second || cfg.Launcher.Command == "" {
		t.Errorf("capture = %+v launcher %+v", cfg.Capture, cfg.Launcher)
	}
}

func TestPipelineOptionsComplete(t *testing.T) {
	o := NewPipelineOptions()
	o.DataDir = "/data"
	o.WorkRoot = "/fast/work"
	o.FrameTimeZone = "UTC"
	if err := o.Complete(); err != nil {
		t.Fatal(err)
	}

	layout := o.Layout()
	if layout.CaptureRoot != filepath.Join("/data", "capture") || layout.WorkRoot != "/fast/work" {
		t.Errorf("layout = %+v", layout)
	}
	if layout.Naming.Location != time.UTC {
		t.Errorf("location = %v", layout.Naming.Location)
	}

	o.FrameTimeZone = "Nowhere/Nothing"
	if err := o.Complete(); err == nil {
		t.Error("unknown time zone accepted")
	}
}

func TestPipelineOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *PipelineOptions)
		errs   int
	}{
		{"defaults", func(*PipelineOptions) {}, 0},
		{"unknown mode", func(o *PipelineOptions) { o.Mode = "batch" }, 1},
		{"inline ignores interval", func(o *PipelineOptions) { o.Mode = pipeline.ModeInline; o.Interval = 0 }, 0},
		{"worker needs interval", func(o *PipelineOptions) { o.Interval = 0 }, 1},
		{"codec is a fourcc", func(o *PipelineOptions) { o.Codec = "h264x" }, 1},
		{"shared roots", func(o *PipelineOptions) { o.WorkRoot = o.CaptureRoot + "/" }, 1},
		{"missing root", func(o *PipelineOptions) { o.ArchiveRoot = "" }, 1},
		{"zero fps and frames", func(o *PipelineOptions) { o.FPS = 0; o.MinFrames = 0 }, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewPipelineOptions()
			if err := o.Complete(); err != nil {
				t.Fatal(err)
			}
			tt.mutate(o)
			if errs := o.Validate(); len(errs) != tt.errs {
				t.Errorf("got %d errors, want %d: %v", len(errs), tt.errs, errs)
			}
		})
	}
}

func TestMapOptionsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(o *MapOptions)
		errs   int
	}{
		{"defaults", func(*MapOptions) {}, 0},
		{"osm", func(o *MapOptions) { o.Mode = maprender.ModeOSM }, 0},
		{"local needs url", func(o *MapOptions) { o.Mode = maprender.ModeLocal }, 1},
		{"local with url", func(o *MapOptions) { o.Mode = maprender.ModeLocal; o.URL = "http://tiles/{z}/{x}/{y}.png" }, 0},
		{"unknown mode", func(o *MapOptions) { o.Mode = "satellite" }, 1},
		{"zoom and size", func(o *MapOptions) { o.Zoom = 25; o.Size = 0 }, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := NewMapOptions()
			tt.mutate(o)
			if errs := o.Validate(); len(errs) != tt.errs {
				t.Errorf("got %d errors, want %d: %v", len(errs), tt.errs, errs)
			}
		})
	}
}

func TestTelemetryAndCaptureValidate(t *testing.T) {
	tel := NewTelemetryOptions()
	tel.MotionTopic = ""
	tel.QueueSize = 0
	if errs := tel.Validate(); len(errs) != 2 {
		t.Errorf("telemetry: got %d errors, want 2: %v", len(errs), errs)
	}

	c := NewCaptureOptions()
	c.Args = []string{"rtsp://camera/stream", "/var/lib/capsule/timelapse_trip/capture"}
	if errs := c.Validate(); len(errs) != 0 {
		t.Fatalf("capture defaults invalid: %v", errs)
	}
	if l := c.Launcher(); len(l.Args) != 2 || l.WaitDelay != 2*time.Second {
		t.Errorf("launcher = %+v", l)
	}
	c.FrameRate = 0
	c.Command = ""
	if errs := c.Validate(); len(errs) != 2 {
		t.Errorf("capture: got %d errors, want 2: %v", len(errs), errs)
	}
}

func TestFlagsCoverEveryGroup(t *testing.T) {
	fss := NewTripOptions().Flags()
	for _, name := range []string{"mqtt", "telemetry", "influx", "capture", "pipeline", "map", "s3", "http", "log"} {
		fs, ok := fss.FlagSets[name]
		if !ok {
			t.Errorf("flag set %q missing", name)
			continue
		}
		if !fs.HasFlags() {
			t.Errorf("flag set %q is empty", name)
		}
	}
	if f := fss.FlagSets["pipeline"].Lookup("pipeline.force-no-coverage"); f == nil || f.DefValue != "false" {
		t.Errorf("pipeline.force-no-coverage = %+v", f)
	}
}
