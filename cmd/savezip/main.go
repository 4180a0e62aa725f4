package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"convert-web/internal/logging"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const defaultServer = "http://localhost:8080"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// settings resolves a value from an explicitly set flag first, then the
// environment (SAVEZIP_*), then the config file, then the flag default.
type settings struct {
	v     *viper.Viper
	flags *pflag.FlagSet
}

func (s settings) String(name string) string {
	if s.flags.Changed(name) {
		val, _ := s.flags.GetString(name)
		return val
	}
	return s.v.GetString(name)
}

func (s settings) Int(name string) int {
	if s.flags.Changed(name) {
		val, _ := s.flags.GetInt(name)
		return val
	}
	return s.v.GetInt(name)
}

func (s settings) Bool(name string) bool {
	if s.flags.Changed(name) {
		val, _ := s.flags.GetBool(name)
		return val
	}
	return s.v.GetBool(name)
}

func (s settings) Duration(name string) time.Duration {
	if s.flags.Changed(name) {
		val, _ := s.flags.GetDuration(name)
		return val
	}
	return s.v.GetDuration(name)
}

// loadSettings binds cmd's flags to viper and reads the optional config file.
func loadSettings(cmd *cobra.Command) (settings, error) {
	v := viper.New()
	v.SetEnvPrefix("SAVEZIP")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	flags := cmd.Flags()
	if err := v.BindPFlags(flags); err != nil {
		return settings{}, fmt.Errorf("bind flags: %w", err)
	}

	if configFile, _ := flags.GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return settings{}, fmt.Errorf("error reading config file %s: %w", configFile, err)
		}
	}

	if level := v.GetString("log-level"); level != "" {
		logging.SetLevel(logging.ParseLevel(level))
	}
	return settings{v: v, flags: flags}, nil
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "savezip",
		Short:        "Save files through a convert-web server",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("server", defaultServer, "convert-web server URL")
	root.PersistentFlags().String("config", "", "optional YAML config file")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(newSaveCmd(), newPrefsCmd(), newTransfersCmd())
	return root
}
