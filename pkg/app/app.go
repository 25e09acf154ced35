// Package app builds cobra commands from option aggregates, loading values
// from flags, environment variables and a configuration file.
package app

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	cliflag "k8s.io/component-base/cli/flag"
	"k8s.io/component-base/term"
	"k8s.io/klog/v2"

	"github.com/capsule-io/timelapse-trip/pkg/log"
)

// RunFunc is the body of a command, run after the options are loaded and valid.
type RunFunc func() error

type App struct {
	basename    string
	name        string
	description string

	options     NamedFlagSetOptions
	runFunc     RunFunc
	args        cobra.PositionalArgs
	subcommands []*cobra.Command
	silence     bool
	noConfig    bool

	defaultConfig string
	configFile    string
	envPrefix     string
	viper         *viper.Viper

	cmd *cobra.Command
}

type Option func(*App)

func WithOptions(opts NamedFlagSetOptions) Option {
	return func(a *App) { a.options = opts }
}

func WithRunFunc(run RunFunc) Option {
	return func(a *App) { a.runFunc = run }
}

func WithDescription(desc string) Option {
	return func(a *App) { a.description = desc }
}

// WithSilence keeps cobra from printing usage and errors.
func WithSilence() Option {
	return func(a *App) { a.silence = true }
}

// WithNoConfig removes the --config flag.
func WithNoConfig() Option {
	return func(a *App) { a.noConfig = true }
}

func WithValidArgs(args cobra.PositionalArgs) Option {
	return func(a *App) { a.args = args }
}

// WithDefaultValidArgs rejects any positional argument.
func WithDefaultValidArgs() Option {
	return func(a *App) {
		a.args = func(cmd *cobra.Command, args []string) error {
			for _, arg := range args {
				if len(arg) > 0 {
					return fmt.Errorf("%q does not take any arguments, got %q", cmd.CommandPath(), args)
				}
			}
			return nil
		}
	}
}

// WithDefaultConfig sets the configuration file read when --config is not given.
func WithDefaultConfig(path string) Option {
	return func(a *App) { a.defaultConfig = path }
}

// WithEnvPrefix sets the prefix of the environment variables overriding
// settings, e.g. TIMELAPSE for TIMELAPSE_MQTT_BROKER.
func WithEnvPrefix(prefix string) Option {
	return func(a *App) { a.envPrefix = prefix }
}

// WithSubCommands adds commands below the root command. They share its
// persistent flags, so the root options are loaded before they run.
func WithSubCommands(cmds ...*cobra.Command) Option {
	return func(a *App) { a.subcommands = append(a.subcommands, cmds...) }
}

func NewApp(basename, name string, opts ...Option) *App {
	a := &App{
		basename: basename,
		name:     name,
		viper:    viper.New(),
	}
	for _, o := range opts {
		o(a)
	}
	a.buildCommand()
	return a
}

// Command returns the root cobra command.
func (a *App) Command() *cobra.Command {
	return a.cmd
}

// Run executes the command and exits the process on error.
func (a *App) Run() {
	err := a.cmd.Execute()
	_ = log.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func (a *App) buildCommand() {
	cmd := &cobra.Command{
		Use:           a.basename,
		Short:         a.name,
		Long:          a.description,
		SilenceUsage:  true,
		SilenceErrors: a.silence,
		Args:          a.args,
	}
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)
	cmd.Flags().SortFlags = true

	var namedFlagSets cliflag.NamedFlagSets
	if a.options != nil {
		namedFlagSets = a.options.Flags()
		fs := cmd.PersistentFlags()
		for _, f := range namedFlagSets.FlagSets {
			fs.AddFlagSet(f)
		}
	}
	if !a.noConfig {
		a.addConfigFlag(namedFlagSets.FlagSet("global"))
		cmd.PersistentFlags().AddFlagSet(namedFlagSets.FlagSet("global"))
	}

	if a.runFunc != nil {
		cmd.RunE = func(*cobra.Command, []string) error { return a.runFunc() }
	}
	cmd.PersistentPreRunE = func(*cobra.Command, []string) error { return a.prepare(cmd) }
	for _, sub := range a.subcommands {
		cmd.AddCommand(sub)
	}

	cols, _, _ := term.TerminalSize(cmd.OutOrStdout())
	cliflag.SetUsageAndHelpFunc(cmd, namedFlagSets, cols)

	a.cmd = cmd
}

// prepare loads, completes and validates the options and sets up logging.
func (a *App) prepare(cmd *cobra.Command) error {
	if !a.noConfig {
		if err := a.loadConfig(); err != nil {
			return err
		}
	}

	if a.options != nil {
		if err := a.viper.BindPFlags(cmd.PersistentFlags()); err != nil {
			return err
		}
		if err := a.viper.Unmarshal(a.options); err != nil {
			return fmt.Errorf("failed to decode configuration: %w", err)
		}
		if err := a.options.Complete(); err != nil {
			return err
		}
		if err := a.options.Validate(); err != nil {
			return err
		}
		if p, ok := a.options.(LogOptionsProvider); ok {
			log.Init(p.LogOptions())
			klog.SetLogger(log.Std().Logr())
		}
	}

	if !a.noConfig {
		a.watchConfig()
	}
	return nil
}
