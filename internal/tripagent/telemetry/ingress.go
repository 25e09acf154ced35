package telemetry

import (
	"context"

	"k8s.io/utils/clock"

	"github.com/capsule-io/timelapse-trip/internal/pkg/metrics"
	"github.com/capsule-io/timelapse-trip/pkg/log"
	"github.com/capsule-io/timelapse-trip/pkg/mqtt"
)

// Topics are the MQTT topics carrying the vehicle signals.
type Topics struct {
	Ignition    string
	Motion      string
	StopCommand string
}

// DefaultTopics are the topics published by the vehicle router.
func DefaultTopics() Topics {
	return Topics{
		Ignition:    "router/car/running",
		Motion:      "router/car/moving",
		StopCommand: "timelapse_trip/stop_command",
	}
}

// Ingress turns raw MQTT messages into queued signals.
type Ingress struct {
	topics Topics
	queue  *Queue
	clock  clock.PassiveClock
	log    log.Logger
}

func NewIngress(topics Topics, queue *Queue, clk clock.PassiveClock) *Ingress {
	return &Ingress{
		topics: topics,
		queue:  queue,
		clock:  clk,
		log:    log.WithName("telemetry"),
	}
}

// Routes maps each telemetry topic to its handler.
func (i *Ingress) Routes() map[string]mqtt.MessageHandler {
	return map[string]mqtt.MessageHandler{
		i.topics.Ignition:    i.handler(Ignition),
		i.topics.Motion:      i.handler(Motion),
		i.topics.StopCommand: i.handler(StopCommand),
	}
}

func (i *Ingress) handler(kind Kind) mqtt.MessageHandler {
	return func(ctx context.Context, topic string, payload []byte) {
		i.Handle(ctx, kind, topic, payload)
	}
}

// Handle parses one payload and queues the resulting signal. Malformed
// payloads are logged and dropped.
func (i *Ingress) Handle(ctx context.Context, kind Kind, topic string, payload []byte) {
	value, err := ParseBool(payload)
	if err != nil {
		metrics.TelemetryMessagesTotal.WithLabelValues(kind.String(), "malformed").Inc()
		i.log.Warn("Dropping malformed telemetry message", "topic", topic, "payload", string(payload))
		return
	}

	sig := Signal{Kind: kind, Value: value, Received: i.clock.Now()}
	if err := i.queue.Deliver(ctx, sig); err != nil {
		metrics.TelemetryMessagesTotal.WithLabelValues(kind.String(), "aborted").Inc()
		i.log.Warn("Telemetry delivery aborted", "topic", topic, "error", err)
		return
	}

	metrics.TelemetryMessagesTotal.WithLabelValues(kind.String(), "queued").Inc()
	i.log.Debug("Telemetry signal queued", "signal", kind, "value", value)
}
