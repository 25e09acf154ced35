// Package progress publishes the process status topics.
package progress

import (
	"context"
	"strconv"
	"time"

	"k8s.io/utils/clock"

	"github.com/capsule-io/timelapse-trip/internal/pkg/mqtt/paths"
	"github.com/capsule-io/timelapse-trip/pkg/log"
	"github.com/capsule-io/timelapse-trip/pkg/mqtt"
	"github.com/capsule-io/timelapse-trip/pkg/mqtt/topic"
)

// Values published on the last_status topic.
const (
	StatusWaiting    = "Waiting for action"
	StatusCapturing  = "Take picture"
	StatusAssembling = "Generate timelapse"
)

const (
	aliveTrue  = "True"
	aliveFalse = "False"

	publishTimeout = 5 * time.Second
)

// AliveFalse is the payload announcing that the process is gone. It is also
// registered as the broker last-will.
var AliveFalse = []byte(aliveFalse)

type Reporter struct {
	pub   mqtt.Publisher
	topic *topic.Builder
	log   log.Logger
}

func NewReporter(pub mqtt.Publisher, builder *topic.Builder) *Reporter {
	return &Reporter{
		pub:   pub,
		topic: builder,
		log:   log.WithName("progress"),
	}
}

// AliveTopic is the topic the heartbeat and the last-will are published on.
func (r *Reporter) AliveTopic() string {
	return r.topic.Build(paths.Alive)
}

func (r *Reporter) Alive(ctx context.Context, alive bool) {
	payload := aliveTrue
	if !alive {
		payload = aliveFalse
	}
	r.publish(ctx, paths.Alive, true, payload)
}

func (r *Reporter) Status(ctx context.Context, status string) {
	r.publish(ctx, paths.LastStatus, true, status)
}

// Progress publishes percent clamped to 0..100.
func (r *Reporter) Progress(ctx context.Context, percent int) {
	percent = min(max(percent, 0), 100)
	r.publish(ctx, paths.Progress, false, strconv.Itoa(percent))
}

// Heartbeat publishes alive=True now and then every interval until ctx is done.
func (r *Reporter) Heartbeat(ctx context.Context, interval time.Duration, clk clock.Clock) {
	ticker := clk.NewTicker(interval)
	defer ticker.Stop()

	r.Alive(ctx, true)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			r.Alive(ctx, true)
		}
	}
}

// publish never blocks longer than publishTimeout: the client waits for a
// connection before sending.
func (r *Reporter) publish(ctx context.Context, segment string, retain bool, payload string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()

	t := r.topic.Build(segment)
	if err := r.pub.Publish(ctx, t, 1, retain, []byte(payload)); err != nil {
		r.log.Error(err, "Failed to publish status", "topic", t, "payload", payload)
	}
}

// Span maps the progress of one stage onto a slice of the overall scale.
type Span struct {
	From, To int
}

// Checkpoints of a session assembly.
var (
	MapStage          = Span{From: 10, To: 60}
	FrameStage        = Span{From: 60, To: 80}
	FrameStageNoMaps  = Span{From: 10, To: 100}
	CorrelationDone   = 10
	AssemblyCompleted = 100
)

// At returns the overall progress after i of n stage items.
func (s Span) At(i, n int) int {
	if n <= 0 {
		return s.To
	}
	i = min(max(i, 0), n)
	return s.From + (s.To-s.From)*i/n
}
