package options

import (
	"errors"
	"time"

	"github.com/spf13/pflag"

	"github.com/capsule-io/timelapse-trip/internal/tripagent/telemetry"
	"github.com/capsule-io/timelapse-trip/pkg/options"
)

var _ options.IOptions = (*TelemetryOptions)(nil)

// TelemetryOptions configures the vehicle signals the agent listens to.
type TelemetryOptions struct {
	IgnitionTopic    string `json:"ignition-topic" mapstructure:"ignition-topic"`
	MotionTopic      string `json:"motion-topic" mapstructure:"motion-topic"`
	StopCommandTopic string `json:"stop-command-topic" mapstructure:"stop-command-topic"`

	// QueueSize is the number of signals buffered for the control loop.
	QueueSize int `json:"queue-size" mapstructure:"queue-size"`

	TickInterval      time.Duration `json:"tick-interval" mapstructure:"tick-interval"`
	HeartbeatInterval time.Duration `json:"heartbeat-interval" mapstructure:"heartbeat-interval"`
}

func NewTelemetryOptions() *TelemetryOptions {
	topics := telemetry.DefaultTopics()
	return &TelemetryOptions{
		IgnitionTopic:     topics.Ignition,
		MotionTopic:       topics.Motion,
		StopCommandTopic:  topics.StopCommand,
		QueueSize:         telemetry.DefaultQueueSize,
		TickInterval:      time.Second,
		HeartbeatInterval: 30 * time.Second,
	}
}

func (o *TelemetryOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.IgnitionTopic == "" || o.MotionTopic == "" || o.StopCommandTopic == "" {
		errs = append(errs, errors.New("telemetry topics must not be empty"))
	}
	if o.QueueSize <= 0 {
		errs = append(errs, errors.New("telemetry.queue-size must be positive"))
	}
	if o.TickInterval <= 0 {
		errs = append(errs, errors.New("telemetry.tick-interval must be positive"))
	}
	if o.HeartbeatInterval <= 0 {
		errs = append(errs, errors.New("telemetry.heartbeat-interval must be positive"))
	}
	return errs
}

func (o *TelemetryOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.IgnitionTopic, "telemetry.ignition-topic", o.IgnitionTopic, "Topic carrying the ignition flag.")
	fs.StringVar(&o.MotionTopic, "telemetry.motion-topic", o.MotionTopic, "Topic carrying the motion flag.")
	fs.StringVar(&o.StopCommandTopic, "telemetry.stop-command-topic", o.StopCommandTopic, "Topic carrying the user stop command.")
	fs.IntVar(&o.QueueSize, "telemetry.queue-size", o.QueueSize, "Number of signals buffered for the control loop.")
	fs.DurationVar(&o.TickInterval, "telemetry.tick-interval", o.TickInterval, "Interval of the capture supervision tick.")
	fs.DurationVar(&o.HeartbeatInterval, "telemetry.heartbeat-interval", o.HeartbeatInterval, "Interval of the alive heartbeat.")
}

func (o *TelemetryOptions) Topics() telemetry.Topics {
	return telemetry.Topics{
		Ignition:    o.IgnitionTopic,
		Motion:      o.MotionTopic,
		StopCommand: o.StopCommandTopic,
	}
}
