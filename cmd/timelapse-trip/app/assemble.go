package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	genericapiserver "k8s.io/apiserver/pkg/server"

	"github.com/capsule-io/timelapse-trip/cmd/timelapse-trip/app/options"
	"github.com/capsule-io/timelapse-trip/pkg/log"
)

func newAssembleCommand(opts *options.TripOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "assemble <session-dir>",
		Short: "Assemble one session directory into a video",
		Long: `Assemble the frames of one session directory into a video, exactly as the
agent does, without waiting for the vehicle. The video is written below the
results root and the session directory is moved to the archive afterwards.
Do not point it at the session a running agent is capturing.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := genericapiserver.SetupSignalContext()

			cfg, err := opts.Config()
			if err != nil {
				return err
			}

			p, closeFn, err := cfg.NewPipeline(direct{}, logReporter{log: log.WithName("assemble")})
			if err != nil {
				return err
			}
			defer func() {
				if err := closeFn(); err != nil {
					log.Error(err, "Failed to release the pipeline")
				}
			}()

			s, err := p.Admission.Load(args[0])
			if err != nil {
				return err
			}
			if s.Len() == 0 {
				return errors.New("no frames found in " + args[0])
			}

			if err := p.Assemble(ctx, s); err != nil {
				return fmt.Errorf("failed to assemble %s: %w", s.Name, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), cfg.Layout.ResultPath(s.Name))
			return nil
		},
	}
}

// direct runs fn right away; the command owns no capture process.
type direct struct{}

func (direct) Quiesce(fn func() error) error { return fn() }

// logReporter logs the progress the agent would publish over MQTT.
type logReporter struct {
	log log.Logger
}

func (r logReporter) Status(_ context.Context, status string) {
	r.log.Info(status)
}

func (r logReporter) Progress(_ context.Context, percent int) {
	r.log.Info("Progress", "percent", percent)
}
