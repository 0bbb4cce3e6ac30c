package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/ecofleet-io/ecofleet/pkg/log"
)

const (
	configFlagName = "config"

	// envPrefix is the prefix of environment variables overriding options,
	// e.g. ECOFLEET_API_BASE_URL for --api.base-url.
	envPrefix = "ECOFLEET"
)

var cfgFile string

// addConfigFlag adds the --config flag and registers the viper loader to run
// before the command executes.
func addConfigFlag(basename string, watch bool, fs *pflag.FlagSet) {
	fs.StringVarP(&cfgFile, configFlagName, "c", cfgFile, "Read configuration from specified `FILE`, "+
		"support JSON, TOML, YAML, HCL, or Java properties formats.")

	viper.AutomaticEnv()
	viper.SetEnvPrefix(envPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))

	cobra.OnInitialize(func() {
		if err := loadConfig(cfgFile, basename); err != nil {
			fmt.Fprintf(os.Stderr, "Error: failed to read configuration file(%s): %v\n", cfgFile, err)
			os.Exit(1)
		}

		if watch && viper.ConfigFileUsed() != "" {
			viper.OnConfigChange(func(e fsnotify.Event) {
				log.Warn("Configuration file changed, restart to apply", "file", e.Name, "op", e.Op.String())
			})
			viper.WatchConfig()
		}
	})
}

// loadConfig reads the explicit file when given, otherwise looks for
// <basename>.yaml in the working directory and $HOME/.ecofleet. A missing
// default file is not an error.
func loadConfig(file string, basename string) error {
	if file != "" {
		viper.SetConfigFile(file)
		return viper.ReadInConfig()
	}

	viper.AddConfigPath(".")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".ecofleet"))
	}
	viper.SetConfigName(basename)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}
