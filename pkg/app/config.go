package app

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"

	"github.com/capsule-io/timelapse-trip/pkg/log"
)

const configFlagName = "config"

// addConfigFlag registers --config on fs and binds the environment prefix.
func (a *App) addConfigFlag(fs *pflag.FlagSet) {
	fs.StringVarP(&a.configFile, configFlagName, "c", a.defaultConfig,
		"Read configuration from the specified file (YAML/JSON/TOML). Empty skips the file.")

	a.viper.SetEnvPrefix(a.envPrefix)
	a.viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	a.viper.AutomaticEnv()
}

// loadConfig reads the configuration file. A file that was asked for and is
// missing is an error.
func (a *App) loadConfig() error {
	if a.configFile == "" {
		return nil
	}
	if _, err := os.Stat(a.configFile); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("configuration file %s does not exist", a.configFile)
		}
		return fmt.Errorf("failed to access configuration file %s: %w", a.configFile, err)
	}

	a.viper.SetConfigFile(a.configFile)
	if err := a.viper.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read configuration file %s: %w", a.configFile, err)
	}
	return nil
}

// watchConfig logs changes of the configuration file. Settings are read once
// at startup, so a change needs a restart.
func (a *App) watchConfig() {
	if a.configFile == "" {
		return
	}
	a.viper.OnConfigChange(func(e fsnotify.Event) {
		log.Warn("Configuration file changed, restart to apply it", "file", e.Name, "op", e.Op.String())
	})
	a.viper.WatchConfig()
}
