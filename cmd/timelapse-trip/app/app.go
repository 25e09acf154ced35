package app

import (
	"fmt"

	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/capsule-io/timelapse-trip/cmd/timelapse-trip/app/options"
	"github.com/capsule-io/timelapse-trip/pkg/app"
	"github.com/capsule-io/timelapse-trip/pkg/log"
)

const (
	commandName = "timelapse-trip"
	commandDesc = `timelapse-trip runs on the vehicle router. It records a timelapse while
the vehicle is driving and, once a trip is over, assembles the frames into a
video stamped with the time and position of each frame.`

	defaultConfig = "/etc/capsule/timelapse_trip/config.yaml"
	envPrefix     = "TIMELAPSE"
)

func NewApp() *app.App {
	opts := options.NewTripOptions()
	return app.NewApp(
		commandName,
		"Launch the timelapse trip agent",
		app.WithDescription(commandDesc),
		app.WithOptions(opts),
		app.WithDefaultConfig(defaultConfig),
		app.WithEnvPrefix(envPrefix),
		app.WithDefaultValidArgs(),
		app.WithRunFunc(run(opts)),
		app.WithSubCommands(
			newSessionsCommand(opts),
			newAssembleCommand(opts),
		),
	)
}

func run(opts *options.TripOptions) app.RunFunc {
	return func() error {
		ctx := genericapiserver.SetupSignalContext()

		cfg, err := opts.Config()
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		agent, err := cfg.NewAgent()
		if err != nil {
			return fmt.Errorf("failed to create agent: %w", err)
		}

		log.Info("Configuration loaded", "captureRoot", cfg.Layout.CaptureRoot, "resultsRoot", cfg.Layout.ResultsRoot)
		return agent.Run(ctx)
	}
}
