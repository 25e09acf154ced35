package options

import (
	"errors"
	"time"

	"github.com/spf13/pflag"

	"github.com/capsule-io/timelapse-trip/internal/tripagent/capture"
	"github.com/capsule-io/timelapse-trip/pkg/options"
)

var _ options.IOptions = (*CaptureOptions)(nil)

// CaptureOptions configures the external capture process and the accessory
// powered with it.
type CaptureOptions struct {
	// Command is run with Args followed by the frame rate. It writes one
	// session directory below the capture root and exits on "q".
	Command string   `json:"command" mapstructure:"command"`
	Args    []string `json:"args" mapstructure:"args"`
	Dir     string   `json:"dir" mapstructure:"dir"`

	FrameRate   float64       `json:"frame-rate" mapstructure:"frame-rate"`
	IdleTimeout time.Duration `json:"idle-timeout" mapstructure:"idle-timeout"`
	GracePeriod time.Duration `json:"grace-period" mapstructure:"grace-period"`
	WaitDelay   time.Duration `json:"wait-delay" mapstructure:"wait-delay"`

	// AccessoryURL is requested once per capture start. Empty disables it.
	AccessoryURL     string        `json:"accessory-url" mapstructure:"accessory-url"`
	AccessoryTimeout time.Duration `json:"accessory-timeout" mapstructure:"accessory-timeout"`
}

func NewCaptureOptions() *CaptureOptions {
	cfg := capture.DefaultConfig()
	return &CaptureOptions{
		Command:          "/usr/lib/capsule/timelapse_trip/capture.sh",
		FrameRate:        cfg.FrameRate,
		IdleTimeout:      cfg.IdleTimeout,
		GracePeriod:      cfg.GracePeriod,
		WaitDelay:        2 * time.Second,
		AccessoryTimeout: 5 * time.Second,
	}
}

func (o *CaptureOptions) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	if o.Command == "" {
		errs = append(errs, errors.New("capture.command is required"))
	}
	if o.FrameRate <= 0 {
		errs = append(errs, errors.New("capture.frame-rate must be positive"))
	}
	if o.IdleTimeout < 0 || o.GracePeriod <= 0 {
		errs = append(errs, errors.New("capture.idle-timeout must not be negative and capture.grace-period must be positive"))
	}
	return errs
}

func (o *CaptureOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Command, "capture.command", o.Command, "Capture program, run with the frame rate as last argument.")
	fs.StringSliceVar(&o.Args, "capture.args", o.Args, "Arguments passed to the capture program before the frame rate.")
	fs.StringVar(&o.Dir, "capture.dir", o.Dir, "Working directory of the capture program.")
	fs.Float64Var(&o.FrameRate, "capture.frame-rate", o.FrameRate, "Frames captured per second.")
	fs.DurationVar(&o.IdleTimeout, "capture.idle-timeout", o.IdleTimeout, "Idle duration after which capture stops.")
	fs.DurationVar(&o.GracePeriod, "capture.grace-period", o.GracePeriod, "Wait for the capture program to exit before killing it.")
	fs.DurationVar(&o.WaitDelay, "capture.wait-delay", o.WaitDelay, "Wait for the capture program output after it exited.")
	fs.StringVar(&o.AccessoryURL, "capture.accessory-url", o.AccessoryURL, "URL requested to power on the camera accessory. Empty disables it.")
	fs.DurationVar(&o.AccessoryTimeout, "capture.accessory-timeout", o.AccessoryTimeout, "Timeout of the accessory request.")
}

func (o *CaptureOptions) Config() capture.Config {
	return capture.Config{
		FrameRate:   o.FrameRate,
		IdleTimeout: o.IdleTimeout,
		GracePeriod: o.GracePeriod,
	}
}

func (o *CaptureOptions) Launcher() capture.ExecLauncher {
	return capture.ExecLauncher{
		Command:   o.Command,
		Args:      o.Args,
		Dir:       o.Dir,
		WaitDelay: o.WaitDelay,
	}
}
