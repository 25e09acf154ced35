package options

import (
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/capsule-io/timelapse-trip/internal/tripagent"
	"github.com/capsule-io/timelapse-trip/pkg/app"
	"github.com/capsule-io/timelapse-trip/pkg/log"
	"github.com/capsule-io/timelapse-trip/pkg/options"
)

type TripOptions struct {
	MqttOptions      *options.MqttOptions   `json:"mqtt" mapstructure:"mqtt"`
	TelemetryOptions *TelemetryOptions      `json:"telemetry" mapstructure:"telemetry"`
	InfluxOptions    *options.InfluxOptions `json:"influx" mapstructure:"influx"`
	CaptureOptions   *CaptureOptions        `json:"capture" mapstructure:"capture"`
	PipelineOptions  *PipelineOptions       `json:"pipeline" mapstructure:"pipeline"`
	MapOptions       *MapOptions            `json:"map" mapstructure:"map"`
	S3Options        *options.S3Options     `json:"s3" mapstructure:"s3"`
	HttpOptions      *options.HttpOptions   `json:"http" mapstructure:"http"`
	Log              *log.Options           `json:"log" mapstructure:"log"`
}

var (
	_ app.NamedFlagSetOptions = (*TripOptions)(nil)
	_ app.LogOptionsProvider  = (*TripOptions)(nil)
)

func NewTripOptions() *TripOptions {
	return &TripOptions{
		MqttOptions:      options.NewMqttOptions(),
		TelemetryOptions: NewTelemetryOptions(),
		InfluxOptions:    options.NewInfluxOptions(),
		CaptureOptions:   NewCaptureOptions(),
		PipelineOptions:  NewPipelineOptions(),
		MapOptions:       NewMapOptions(),
		S3Options:        options.NewS3Options(),
		HttpOptions:      options.NewHttpOptions(),
		Log:              log.NewOptions(),
	}
}

func (o *TripOptions) Flags() cliflag.NamedFlagSets {
	fss := cliflag.NamedFlagSets{}
	o.MqttOptions.AddFlags(fss.FlagSet("mqtt"))
	o.TelemetryOptions.AddFlags(fss.FlagSet("telemetry"))
	o.InfluxOptions.AddFlags(fss.FlagSet("influx"))
	o.CaptureOptions.AddFlags(fss.FlagSet("capture"))
	o.PipelineOptions.AddFlags(fss.FlagSet("pipeline"))
	o.MapOptions.AddFlags(fss.FlagSet("map"))
	o.S3Options.AddFlags(fss.FlagSet("s3"))
	o.HttpOptions.AddFlags(fss.FlagSet("http"))
	o.Log.AddFlags(fss.FlagSet("log"))
	return fss
}

func (o *TripOptions) Complete() error {
	return o.PipelineOptions.Complete()
}

func (o *TripOptions) Validate() error {
	errs := []error{}
	errs = append(errs, o.MqttOptions.Validate()...)
	errs = append(errs, o.TelemetryOptions.Validate()...)
	errs = append(errs, o.InfluxOptions.Validate()...)
	errs = append(errs, o.CaptureOptions.Validate()...)
	errs = append(errs, o.PipelineOptions.Validate()...)
	errs = append(errs, o.MapOptions.Validate()...)
	errs = append(errs, o.S3Options.Validate()...)
	errs = append(errs, o.HttpOptions.Validate()...)
	errs = append(errs, o.Log.Validate()...)
	return utilerrors.NewAggregate(errs)
}

func (o *TripOptions) LogOptions() *log.Options {
	return o.Log
}

func (o *TripOptions) Config() (*tripagent.Config, error) {
	return &tripagent.Config{
		MqttOptions:   o.MqttOptions,
		InfluxOptions: o.InfluxOptions,
		S3Options:     o.S3Options,
		HttpOptions:   o.HttpOptions,

		Topics:            o.TelemetryOptions.Topics(),
		QueueSize:         o.TelemetryOptions.QueueSize,
		TickInterval:      o.TelemetryOptions.TickInterval,
		HeartbeatInterval: o.TelemetryOptions.HeartbeatInterval,

		Capture:          o.CaptureOptions.Config(),
		Launcher:         o.CaptureOptions.Launcher(),
		AccessoryURL:     o.CaptureOptions.AccessoryURL,
		AccessoryTimeout: o.CaptureOptions.AccessoryTimeout,

		Layout:          o.PipelineOptions.Layout(),
		AssemblyEnabled: o.PipelineOptions.Enabled,
		Pipeline:        o.PipelineOptions.Config(),
		ForceNoCoverage: o.PipelineOptions.ForceNoCoverage,
		VideoFPS:        o.PipelineOptions.FPS,
		VideoCodec:      o.PipelineOptions.Codec,
		JobStorePath:    o.PipelineOptions.JobStore,

		Map: o.MapOptions.Config(),
	}, nil
}
