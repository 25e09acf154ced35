package app

import (
	cliflag "k8s.io/component-base/cli/flag"

	"github.com/capsule-io/timelapse-trip/pkg/log"
)

// NamedFlagSetOptions is implemented by the option aggregate of a command.
type NamedFlagSetOptions interface {
	// Flags returns the flag sets by group name.
	Flags() cliflag.NamedFlagSets

	// Complete fills in derived values after flags and config are loaded.
	Complete() error

	// Validate returns every problem found, aggregated.
	Validate() error
}

// LogOptionsProvider is implemented by options that configure the global
// logger. The app initialises the logger from them before running.
type LogOptionsProvider interface {
	LogOptions() *log.Options
}
