package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/devicerig/internal/config"
	"github.com/Iron-Ham/devicerig/internal/logging"
	"github.com/Iron-Ham/devicerig/internal/params"
)

var rootCmd = &cobra.Command{
	Use:   "devicerig",
	Short: "Appium server and session manager for mobile UI tests",
	Long: `devicerig prepares mobile UI-test runs: it resolves per-device
parameters, starts a local Appium server when none is running, opens a
driver session for each device and tears everything down afterwards.

Devices run in parallel, each with its own server handle, session and log
directory.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// paramFlags maps parameter fields to their command line flags.
var paramFlags = map[string]string{
	params.FieldPlatformName:         "platform",
	params.FieldUDID:                 "udid",
	params.FieldDeviceName:           "device-name",
	params.FieldSystemPort:           "system-port",
	params.FieldChromeDriverPort:     "chrome-driver-port",
	params.FieldWDALocalPort:         "wda-local-port",
	params.FieldWebkitDebugProxyPort: "webkit-debug-proxy-port",
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/devicerig/devicerig.yaml)")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug/info/warn/error/fatal)")
	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "file of DEVICERIG_* variables to load (ignored if missing)")
}

var envFile string

// loadDotEnv loads environment variables from path. Variables already set in
// the environment win. A missing file is ignored.
func loadDotEnv(path string) error {
	if path == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

func initConfig() {
	if err := loadDotEnv(envFile); err != nil {
		fmt.Fprintf(os.Stderr, "warning: %s: %v\n", envFile, err)
	}

	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("devicerig")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix(config.EnvPrefix)
	// e.g., DEVICERIG_SERVER_PORT for server.port
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// addParamFlags registers the per-device parameter flags on cmd.
func addParamFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String(paramFlags[params.FieldPlatformName], "", "platform name: Android or iOS (default Android)")
	f.String(paramFlags[params.FieldUDID], "", "device UDID (default emulator-5554)")
	f.String(paramFlags[params.FieldDeviceName], "", "device or AVD name (default Pixel_8_API_35)")
	f.Int(paramFlags[params.FieldSystemPort], 0, "Android UiAutomator2 system port (default 10000)")
	f.Int(paramFlags[params.FieldChromeDriverPort], 0, "Android chromedriver port (default 11000)")
	f.Int(paramFlags[params.FieldWDALocalPort], 0, "iOS WebDriverAgent port (default 10001)")
	f.Int(paramFlags[params.FieldWebkitDebugProxyPort], 0, "iOS webkit debug proxy port (default 11001)")
}

// paramOverrides layers the flags explicitly set on cmd over the
// DEVICERIG_* environment.
func paramOverrides(cmd *cobra.Command) params.Overrides {
	return params.Chain{flagOverrides(cmd.Flags()), params.EnvOverrides{}}
}

func flagOverrides(flags *pflag.FlagSet) params.Overrides {
	return params.OverridesFunc(func(field string) (string, bool) {
		name, ok := paramFlags[field]
		if !ok {
			return "", false
		}
		f := flags.Lookup(name)
		if f == nil || !f.Changed {
			return "", false
		}
		return f.Value.String(), true
	})
}

// loadConfig returns the validated configuration.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// openLogger opens the rig log under the configured logs directory.
func openLogger(cfg *config.Config) (*logging.Logger, error) {
	return logging.NewLoggerWithRotation(cfg.Paths.LogsDir, cfg.Logging.Level, logging.RotationConfig{
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		Compress:   cfg.Logging.Compress,
	})
}
