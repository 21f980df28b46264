package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/devicerig/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "View or create devicerig configuration",
	Long: `View or create devicerig configuration.

Without arguments, displays the current configuration.`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Create a default config file",
	Long:  `Create a default config file at ~/.config/devicerig/devicerig.yaml with all available options.`,
	RunE:  runConfigInit,
}

var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show the config file path",
	RunE:  runConfigPath,
}

var configInitForce bool

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configPathCmd)

	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing config file")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	st := newOutputStyles(out)

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "%s %s\n\n", st.Muted.Render("# config file:"), viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "%s\n\n", st.Muted.Render("# config file: (none - using defaults)"))
	}

	settings := viper.AllSettings()
	delete(settings, "config")

	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(settings); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}

	if _, err := config.Load(); err != nil {
		fmt.Fprintln(out)
		fmt.Fprintln(out, st.Fail.Render("configuration is invalid:"))
		fmt.Fprintln(out, err.Error())
	}
	return nil
}

const defaultConfigContent = `# devicerig configuration
# Every key can be overridden with an environment variable, e.g.
# DEVICERIG_SERVER_PORT for server.port.

# Local Appium server
server:
  # Well-known port; if something already listens here it is reused
  port: 4723
  address: 127.0.0.1
  # URL base path, e.g. /wd/hub for Appium 1
  base_path: ""
  executable: appium
  # Extra arguments appended to the server command line
  args: []
  # How long to wait for GET /status to report ready
  start_timeout_seconds: 60
  # Grace period after SIGTERM before the process tree is killed
  stop_timeout_ms: 5000
  session_override: true

paths:
  # key=value file with appiumURL and the per-platform app settings
  properties_file: config.properties
  # Where the app binaries live, relative to the working directory
  resources_dir: src/test/resources/app
  # devicerig.log and <platform>_<device>/server.log
  logs_dir: logs

# Capabilities sent when opening a session
session:
  new_command_timeout_seconds: 560
  avd_launch_timeout_seconds: 660
  # Bound on the new-session request itself
  open_timeout_seconds: 300

suite:
  # Devices driven at once when the suite file does not say
  parallel: 2

logging:
  # debug, info, warn, error or fatal
  level: info
  max_size_mb: 10
  max_backups: 3
  compress: false
`

func runConfigInit(cmd *cobra.Command, args []string) error {
	configDir := config.ConfigDir()
	configFile := config.ConfigFile()

	if _, err := os.Stat(configFile); err == nil && !configInitForce {
		return fmt.Errorf("config file already exists at %s\nUse --force to overwrite it", configFile)
	}

	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	if err := os.WriteFile(configFile, []byte(defaultConfigContent), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Created config file at %s\n", configFile)
	return nil
}

func runConfigPath(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	if viper.ConfigFileUsed() != "" {
		fmt.Fprintf(out, "Active config: %s\n", viper.ConfigFileUsed())
	} else {
		fmt.Fprintf(out, "Default path: %s (not created)\n", config.ConfigFile())
	}

	fmt.Fprintln(out, "\nSearch paths:")
	fmt.Fprintf(out, "  1. %s\n", config.ConfigFile())
	fmt.Fprintf(out, "  2. %s (current directory)\n", filepath.Join(".", "devicerig.yaml"))
	fmt.Fprintf(out, "\nEnvironment variables: %s_* (e.g., %s_SERVER_PORT)\n", config.EnvPrefix, config.EnvPrefix)
	return nil
}
