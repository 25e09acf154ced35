package log

import (
	"fmt"

	"github.com/spf13/pflag"
)

// Options configures the global logger.
type Options struct {
	// Name is prefixed to every entry's logger field.
	Name string `json:"name,omitempty" mapstructure:"name"`

	// Level is one of debug, info, warn, error.
	Level string `json:"level,omitempty" mapstructure:"level"`

	// Format is json or console.
	Format string `json:"format,omitempty" mapstructure:"format"`

	EnableColor   bool `json:"enable-color,omitempty" mapstructure:"enable-color"`
	DisableCaller bool `json:"disable-caller,omitempty" mapstructure:"disable-caller"`

	// CallerSkip is the number of frames between the caller and zap. 1 covers
	// the Logger methods; the package level helpers add their own frame.
	CallerSkip int `json:"caller-skip,omitempty" mapstructure:"caller-skip"`

	// OutputPaths accepts "stdout", "stderr" or file paths such as
	// /var/log/capsule/timelapse_trip.log.
	OutputPaths []string `json:"output-paths,omitempty" mapstructure:"output-paths"`
}

func NewOptions() *Options {
	return &Options{
		Name:        "timelapse-trip",
		Level:       "info",
		Format:      "console",
		EnableColor: true,
		CallerSkip:  1,
		OutputPaths: []string{"stdout"},
	}
}

func (o *Options) Validate() []error {
	if o == nil {
		return nil
	}

	var errs []error
	switch o.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Errorf("log.format must be 'json' or 'console', got %q", o.Format))
	}
	switch o.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not a known level", o.Level))
	}
	return errs
}

func (o *Options) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&o.Name, "log.name", o.Name, "An optional name for the logger.")
	fs.StringVar(&o.Level, "log.level", o.Level, "The minimum log level to output (debug, info, warn, error).")
	fs.StringVar(&o.Format, "log.format", o.Format, "The log output format ('json' or 'console').")
	fs.BoolVar(&o.EnableColor, "log.enable-color", o.EnableColor, "Enable colorized output for the console format.")
	fs.BoolVar(&o.DisableCaller, "log.disable-caller", o.DisableCaller, "Disable the caller field in logs.")
	fs.IntVar(&o.CallerSkip, "log.caller-skip", o.CallerSkip, "The number of caller frames to skip.")
	fs.StringSliceVar(&o.OutputPaths, "log.output-paths", o.OutputPaths,
		"Log output paths (e.g. 'stdout', '/var/log/capsule/timelapse_trip.log').")
}
