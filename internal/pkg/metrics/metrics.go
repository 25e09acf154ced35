package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry is served on /metrics by the status server.
var Registry = prometheus.NewRegistry()

var (
	// MotionState is 1 for the current motion state and 0 for the others.
	MotionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "timelapse_motion_state",
			Help: "Current motion state of the vehicle (1 for the active state).",
		},
		[]string{"state"}, // idle/drive/stop
	)

	TelemetryMessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timelapse_telemetry_messages_total",
			Help: "Telemetry messages received, by signal and result.",
		},
		[]string{"signal", "result"}, // result: queued/malformed/aborted
	)

	CaptureRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "timelapse_capture_running",
			Help: "Whether a capture process is live (1) or not (0).",
		},
	)

	CaptureStartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timelapse_capture_starts_total",
			Help: "Capture process start attempts.",
		},
		[]string{"result"}, // success/failure
	)

	CaptureStopsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timelapse_capture_stops_total",
			Help: "Capture process terminations, by reason.",
		},
		[]string{"reason"}, // stop/stop_command/idle_timeout/shutdown/exited/killed
	)

	SessionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timelapse_sessions_total",
			Help: "Capture sessions triaged by admission.",
		},
		[]string{"outcome"}, // accepted/rejected
	)

	AssemblyJobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timelapse_assembly_jobs_total",
			Help: "Assembly jobs by terminal state.",
		},
		[]string{"state"},
	)

	AssemblyDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "timelapse_assembly_duration_seconds",
			Help:    "Wall time spent assembling one session.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)

	FramesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timelapse_frames_total",
			Help: "Frames handed to the video writer, by result.",
		},
		[]string{"result"}, // written/skipped
	)

	MapTilesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "timelapse_map_tiles_total",
			Help: "Map tile lookups, by result.",
		},
		[]string{"result"}, // hit/fetched/error
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		MotionState,
		TelemetryMessagesTotal,
		CaptureRunning,
		CaptureStartsTotal,
		CaptureStopsTotal,
		SessionsTotal,
		AssemblyJobsTotal,
		AssemblyDuration,
		FramesTotal,
		MapTilesTotal,
	)
}
