package config

import (
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for environment overrides, e.g.
// DEVICERIG_SERVER_PORT for server.port.
const EnvPrefix = "DEVICERIG"

// Config represents the complete devicerig configuration
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Paths   PathsConfig   `mapstructure:"paths"`
	Session SessionConfig `mapstructure:"session"`
	Suite   SuiteConfig   `mapstructure:"suite"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// ServerConfig controls the locally managed Appium server
type ServerConfig struct {
	// Port is the well-known port the server listens on (default: 4723)
	Port int `mapstructure:"port"`
	// Address is the interface the server binds to (default: "127.0.0.1")
	Address string `mapstructure:"address"`
	// BasePath is the server's URL base path, e.g. "/wd/hub" for Appium 1 (default: "")
	BasePath string `mapstructure:"base_path"`
	// Executable is the command used to launch the server (default: "appium")
	Executable string `mapstructure:"executable"`
	// Args are extra arguments appended to the server command line
	Args []string `mapstructure:"args"`
	// StartTimeoutSeconds bounds the readiness wait after launch (default: 60)
	StartTimeoutSeconds int `mapstructure:"start_timeout_seconds"`
	// StopTimeoutMs is how long Stop waits after SIGTERM before killing the process tree (default: 5000)
	StopTimeoutMs int `mapstructure:"stop_timeout_ms"`
	// SessionOverride passes --session-override so a new session replaces a stale one (default: true)
	SessionOverride bool `mapstructure:"session_override"`
}

// PathsConfig controls where devicerig reads and writes files
type PathsConfig struct {
	// PropertiesFile is the static key=value file holding appiumURL and the
	// per-platform app settings (default: "config.properties")
	PropertiesFile string `mapstructure:"properties_file"`
	// ResourcesDir holds the app binaries, relative to the working directory
	// (default: "src/test/resources/app")
	ResourcesDir string `mapstructure:"resources_dir"`
	// LogsDir receives devicerig.log and the per-device server logs (default: "logs")
	LogsDir string `mapstructure:"logs_dir"`
}

// SessionConfig controls the capabilities sent when opening a driver session
type SessionConfig struct {
	// NewCommandTimeoutSeconds is how long the server waits for a command before ending the session (default: 560)
	NewCommandTimeoutSeconds int `mapstructure:"new_command_timeout_seconds"`
	// AvdLaunchTimeoutSeconds bounds emulator boot on Android (default: 660)
	AvdLaunchTimeoutSeconds int `mapstructure:"avd_launch_timeout_seconds"`
	// OpenTimeoutSeconds bounds the new-session request itself (default: 300)
	OpenTimeoutSeconds int `mapstructure:"open_timeout_seconds"`
}

// SuiteConfig controls multi-device runs
type SuiteConfig struct {
	// Parallel is the maximum number of devices driven at once (default: 2)
	Parallel int `mapstructure:"parallel"`
}

// LoggingConfig controls the rig log and the per-device server logs
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error", "fatal" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated files (default: false)
	Compress bool `mapstructure:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:                4723,
			Address:             "127.0.0.1",
			BasePath:            "",
			Executable:          "appium",
			Args:                []string{},
			StartTimeoutSeconds: 60,
			StopTimeoutMs:       5000,
			SessionOverride:     true,
		},
		Paths: PathsConfig{
			PropertiesFile: "config.properties",
			ResourcesDir:   filepath.Join("src", "test", "resources", "app"),
			LogsDir:        "logs",
		},
		Session: SessionConfig{
			NewCommandTimeoutSeconds: 560,
			AvdLaunchTimeoutSeconds:  660,
			OpenTimeoutSeconds:       300,
		},
		Suite: SuiteConfig{
			Parallel: 2,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
	}
}

// StartTimeout returns the readiness wait as a time.Duration
func (c *ServerConfig) StartTimeout() time.Duration {
	return time.Duration(c.StartTimeoutSeconds) * time.Second
}

// StopTimeout returns the graceful stop wait as a time.Duration
func (c *ServerConfig) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutMs) * time.Millisecond
}

// NewCommandTimeout returns the server-side idle timeout as a time.Duration
func (c *SessionConfig) NewCommandTimeout() time.Duration {
	return time.Duration(c.NewCommandTimeoutSeconds) * time.Second
}

// AvdLaunchTimeout returns the emulator boot timeout as a time.Duration
func (c *SessionConfig) AvdLaunchTimeout() time.Duration {
	return time.Duration(c.AvdLaunchTimeoutSeconds) * time.Second
}

// OpenTimeout returns the new-session request timeout as a time.Duration
func (c *SessionConfig) OpenTimeout() time.Duration {
	return time.Duration(c.OpenTimeoutSeconds) * time.Second
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Server defaults
	viper.SetDefault("server.port", defaults.Server.Port)
	viper.SetDefault("server.address", defaults.Server.Address)
	viper.SetDefault("server.base_path", defaults.Server.BasePath)
	viper.SetDefault("server.executable", defaults.Server.Executable)
	viper.SetDefault("server.args", defaults.Server.Args)
	viper.SetDefault("server.start_timeout_seconds", defaults.Server.StartTimeoutSeconds)
	viper.SetDefault("server.stop_timeout_ms", defaults.Server.StopTimeoutMs)
	viper.SetDefault("server.session_override", defaults.Server.SessionOverride)

	// Paths defaults
	viper.SetDefault("paths.properties_file", defaults.Paths.PropertiesFile)
	viper.SetDefault("paths.resources_dir", defaults.Paths.ResourcesDir)
	viper.SetDefault("paths.logs_dir", defaults.Paths.LogsDir)

	// Session defaults
	viper.SetDefault("session.new_command_timeout_seconds", defaults.Session.NewCommandTimeoutSeconds)
	viper.SetDefault("session.avd_launch_timeout_seconds", defaults.Session.AvdLaunchTimeoutSeconds)
	viper.SetDefault("session.open_timeout_seconds", defaults.Session.OpenTimeoutSeconds)

	// Suite defaults
	viper.SetDefault("suite.parallel", defaults.Suite.Parallel)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration, falling back to defaults when the
// loaded configuration is invalid
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "devicerig")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".devicerig"
	}
	return filepath.Join(home, ".config", "devicerig")
}

// ConfigFile returns the path to the user-level config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "devicerig.yaml")
}

// ServerURL returns the base URL clients use to reach the server described by c
func (c *ServerConfig) ServerURL() string {
	host := c.Address
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + joinHostPort(host, c.Port) + normalizeBasePath(c.BasePath)
}

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// normalizeBasePath turns "", "/" into "" and "wd/hub/" into "/wd/hub".
func normalizeBasePath(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return ""
	}
	return "/" + p
}
