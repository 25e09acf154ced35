package tripagent

import (
	"context"
	"fmt"
	"os"
	"time"

	"k8s.io/utils/clock"

	"github.com/capsule-io/timelapse-trip/internal/pkg/metrics"
	"github.com/capsule-io/timelapse-trip/internal/pkg/mqtt/paths"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/capture"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/hal"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/hub"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/jobstore"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/location"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/maprender"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/motion"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/pipeline"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/progress"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/server"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/session"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/storage"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/telemetry"
	"github.com/capsule-io/timelapse-trip/internal/tripagent/video"
	"github.com/capsule-io/timelapse-trip/pkg/log"
	"github.com/capsule-io/timelapse-trip/pkg/mqtt"
	mqtttopic "github.com/capsule-io/timelapse-trip/pkg/mqtt/topic"
	"github.com/capsule-io/timelapse-trip/pkg/options"
)

type Config struct {
	MqttOptions   *options.MqttOptions
	InfluxOptions *options.InfluxOptions
	S3Options     *options.S3Options
	HttpOptions   *options.HttpOptions

	Topics            telemetry.Topics
	QueueSize         int
	TickInterval      time.Duration
	HeartbeatInterval time.Duration

	Capture          capture.Config
	Launcher         capture.ExecLauncher
	AccessoryURL     string
	AccessoryTimeout time.Duration

	Layout session.Layout

	// AssemblyEnabled turns the pipeline off entirely when false.
	AssemblyEnabled bool
	Pipeline        pipeline.Config
	ForceNoCoverage bool
	VideoFPS        float64
	VideoCodec      string
	JobStorePath    string

	Map maprender.Config
}

func (cfg *Config) NewAgent() (*Agent, error) {
	clk := clock.RealClock{}

	queue := telemetry.NewQueue(cfg.QueueSize)
	ingress := telemetry.NewIngress(cfg.Topics, queue, clk)

	topicBuilder := mqtttopic.NewBuilder(cfg.MqttOptions.TopicRoot)
	mqttClient, err := cfg.initMqttClient(topicBuilder)
	if err != nil {
		return nil, fmt.Errorf("failed to init mqtt client: %w", err)
	}
	mqttHub := hub.New(mqttClient, ingress.Routes())
	reporter := progress.NewReporter(mqttHub, topicBuilder)

	supervisor := capture.NewSupervisor(
		cfg.Capture,
		&cfg.Launcher,
		hal.NewAccessory(cfg.AccessoryURL, cfg.AccessoryTimeout),
		clk,
	)

	a := &Agent{
		hub:               mqttHub,
		reporter:          reporter,
		queue:             queue,
		machine:           motion.NewMachine(clk),
		supervisor:        supervisor,
		clock:             clk,
		tickInterval:      cfg.TickInterval,
		heartbeatInterval: cfg.HeartbeatInterval,
		log:               log.WithName("agent"),
	}

	if cfg.AssemblyEnabled {
		p, closeFn, err := cfg.NewPipeline(supervisor, a.pipelineReporter(reporter))
		if err != nil {
			return nil, err
		}
		a.pipeline = p
		a.closers = append(a.closers, closeFn)
	}

	a.server = server.NewServer(cfg.HttpOptions, a, metrics.Registry)
	return a, nil
}

// NewPipeline builds the assembly pipeline. The returned function releases
// the job store and the location source.
func (cfg *Config) NewPipeline(q pipeline.Quiescer, reporter pipeline.Reporter) (*pipeline.Pipeline, func() error, error) {
	source, err := location.NewInfluxSource(cfg.influxConfig())
	if err != nil {
		return nil, nil, err
	}

	renderer, err := maprender.New(cfg.Map)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to init map renderer: %w", err)
	}

	uploader, err := storage.NewMinIOProvider(cfg.S3Options)
	if err != nil {
		return nil, nil, err
	}
	if uploader != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := uploader.CheckBucket(ctx); err != nil {
			log.Error(err, "Bucket check failed, uploads may fail", "bucket", cfg.S3Options.BucketName)
		}
	}

	store, err := jobstore.Open(cfg.JobStorePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open job store: %w", err)
	}

	p := pipeline.New(cfg.Pipeline, pipeline.Deps{
		Quiescer:   q,
		Admission:  cfg.NewAdmission(),
		Correlator: location.NewCorrelator(source, cfg.ForceNoCoverage),
		Renderer:   renderer,
		Assembler:  video.NewAssembler(cfg.VideoFPS, video.OpenFile(cfg.VideoCodec)),
		Store:      store,
		Uploader:   uploader,
		Reporter:   reporter,
	})

	closeFn := func() error {
		if closer, ok := source.(interface{ Close() error }); ok {
			closer.Close()
		}
		return store.Close()
	}
	return p, closeFn, nil
}

// NewAdmission returns the admission over the configured layout.
func (cfg *Config) NewAdmission() *session.Admission {
	return session.NewAdmission(cfg.Layout, clock.RealClock{})
}

func (cfg *Config) influxConfig() location.InfluxConfig {
	o := cfg.InfluxOptions
	return location.InfluxConfig{
		Addr:            o.Addr,
		Username:        o.Username,
		Password:        o.Password,
		Database:        o.Database,
		RetentionPolicy: o.RetentionPolicy,
		Measurement:     o.Measurement,
		Timeout:         o.Timeout,
		Topics: map[location.Field]string{
			location.Latitude:  o.LatitudeTopic,
			location.Longitude: o.LongitudeTopic,
		},
	}
}

func (cfg *Config) initMqttClient(topicBuilder *mqtttopic.Builder) (mqtt.Client, error) {
	mqttConfig := cfg.MqttOptions.ToClientConfig()
	if mqttConfig.ClientID == "" {
		host, _ := os.Hostname()
		mqttConfig.ClientID = fmt.Sprintf("timelapse-trip-%s", host)
	}

	// The broker announces our death if the connection drops without DISCONNECT.
	mqttConfig.WillTopic = topicBuilder.Build(paths.Alive)
	mqttConfig.WillPayload = progress.AliveFalse
	mqttConfig.WillQoS = 1
	mqttConfig.WillRetain = true

	return mqtt.NewClient(mqttConfig)
}
