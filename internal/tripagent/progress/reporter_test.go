package progress

import (
	"context"
	"errors"
	"testing"
	"time"

	clocktesting "k8s.io/utils/clock/testing"

	"github.com/capsule-io/timelapse-trip/pkg/mqtt/topic"
)

type message struct {
	topic   string
	retain  bool
	payload string
}

type fakePublisher struct {
	msgs chan message
	err  error
}

func newFakePublisher() *fakePublisher {
	return &fakePublisher{msgs: make(chan message, 16)}
}

func (p *fakePublisher) Publish(_ context.Context, t string, _ int, retain bool, payload []byte) error {
	p.msgs <- message{topic: t, retain: retain, payload: string(payload)}
	return p.err
}

func (p *fakePublisher) next(t *testing.T) message {
	t.Helper()
	select {
	case m := <-p.msgs:
		return m
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a publish")
		return message{}
	}
}

func TestReporterTopics(t *testing.T) {
	pub := newFakePublisher()
	r := NewReporter(pub, topic.NewBuilder("process/timelapse_trip"))
	ctx := context.Background()

	r.Alive(ctx, false)
	r.Status(ctx, StatusCapturing)
	r.Progress(ctx, 42)

	want := []message{
		{"process/timelapse_trip/alive", true, "False"},
		{"process/timelapse_trip/last_status", true, "Take picture"},
		{"process/timelapse_trip/timelapse_process_progress", false, "42"},
	}
	for _, w := range want {
		if got := pub.next(t); got != w {
			t.Errorf("published %+v, want %+v", got, w)
		}
	}
	if got := r.AliveTopic(); got != "process/timelapse_trip/alive" {
		t.Errorf("AliveTopic = %q", got)
	}
}

func TestProgressClamped(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{-5, "0"},
		{0, "0"},
		{100, "100"},
		{250, "100"},
	}
	pub := newFakePublisher()
	r := NewReporter(pub, topic.NewBuilder("p"))
	for _, tt := range tests {
		r.Progress(context.Background(), tt.in)
		if got := pub.next(t).payload; got != tt.want {
			t.Errorf("Progress(%d) published %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestPublishErrorIsSwallowed(t *testing.T) {
	pub := newFakePublisher()
	pub.err = errors.New("not connected")
	r := NewReporter(pub, topic.NewBuilder("p"))

	r.Status(context.Background(), StatusWaiting)
	if got := pub.next(t).payload; got != StatusWaiting {
		t.Errorf("payload = %q", got)
	}
}

func TestHeartbeat(t *testing.T) {
	pub := newFakePublisher()
	r := NewReporter(pub, topic.NewBuilder("p"))
	clk := clocktesting.NewFakeClock(time.Unix(0, 0))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Heartbeat(ctx, 30*time.Second, clk)
		close(done)
	}()

	for i := 0; i < 3; i++ {
		if m := pub.next(t); m.topic != "p/alive" || m.payload != "True" {
			t.Fatalf("heartbeat %d published %+v", i, m)
		}
		clk.Step(30 * time.Second)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("heartbeat did not stop")
	}
}

func TestSpanAt(t *testing.T) {
	tests := []struct {
		name string
		span Span
		i, n int
		want int
	}{
		{"map start", MapStage, 0, 50, 10},
		{"map half", MapStage, 25, 50, 35},
		{"map end", MapStage, 50, 50, 60},
		{"frames end", FrameStage, 400, 400, 80},
		{"raw frames quarter", FrameStageNoMaps, 100, 400, 32},
		{"empty stage", FrameStage, 0, 0, 80},
		{"overshoot", MapStage, 70, 50, 60},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.span.At(tt.i, tt.n); got != tt.want {
				t.Errorf("At(%d, %d) = %d, want %d", tt.i, tt.n, got, tt.want)
			}
		})
	}
}
