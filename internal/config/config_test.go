package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg == nil {
		t.Fatal("Default() returned nil")
	}

	// Server defaults
	if cfg.Server.Port != 4723 {
		t.Errorf("Server.Port = %d, want 4723", cfg.Server.Port)
	}
	if cfg.Server.Executable != "appium" {
		t.Errorf("Server.Executable = %q, want %q", cfg.Server.Executable, "appium")
	}
	if !cfg.Server.SessionOverride {
		t.Error("Server.SessionOverride should be true by default")
	}

	// Paths defaults
	if cfg.Paths.PropertiesFile != "config.properties" {
		t.Errorf("Paths.PropertiesFile = %q, want %q", cfg.Paths.PropertiesFile, "config.properties")
	}
	if want := filepath.Join("src", "test", "resources", "app"); cfg.Paths.ResourcesDir != want {
		t.Errorf("Paths.ResourcesDir = %q, want %q", cfg.Paths.ResourcesDir, want)
	}

	// Session defaults
	if cfg.Session.NewCommandTimeoutSeconds != 560 {
		t.Errorf("Session.NewCommandTimeoutSeconds = %d, want 560", cfg.Session.NewCommandTimeoutSeconds)
	}
	if cfg.Session.AvdLaunchTimeoutSeconds != 660 {
		t.Errorf("Session.AvdLaunchTimeoutSeconds = %d, want 660", cfg.Session.AvdLaunchTimeoutSeconds)
	}

	// Logging defaults
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "info")
	}
}

func TestDurations(t *testing.T) {
	cfg := Default()

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"start timeout", cfg.Server.StartTimeout(), 60 * time.Second},
		{"stop timeout", cfg.Server.StopTimeout(), 5 * time.Second},
		{"new command timeout", cfg.Session.NewCommandTimeout(), 560 * time.Second},
		{"avd launch timeout", cfg.Session.AvdLaunchTimeout(), 660 * time.Second},
		{"open timeout", cfg.Session.OpenTimeout(), 300 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %v, want %v", tt.got, tt.want)
			}
		})
	}
}

func TestServerURL(t *testing.T) {
	tests := []struct {
		name     string
		address  string
		port     int
		basePath string
		want     string
	}{
		{"defaults", "127.0.0.1", 4723, "", "http://127.0.0.1:4723"},
		{"wildcard address dials loopback", "0.0.0.0", 4723, "", "http://127.0.0.1:4723"},
		{"empty address", "", 4724, "/", "http://127.0.0.1:4724"},
		{"appium 1 base path", "127.0.0.1", 4723, "wd/hub/", "http://127.0.0.1:4723/wd/hub"},
		{"ipv6", "::1", 4723, "", "http://[::1]:4723"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := ServerConfig{Address: tt.address, Port: tt.port, BasePath: tt.basePath}
			if got := sc.ServerURL(); got != tt.want {
				t.Errorf("ServerURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestConfigDir(t *testing.T) {
	t.Run("with XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "/custom/config")
		if got, want := ConfigDir(), filepath.Join("/custom/config", "devicerig"); got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})

	t.Run("without XDG_CONFIG_HOME", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", "")
		home, _ := os.UserHomeDir()
		if got, want := ConfigDir(), filepath.Join(home, ".config", "devicerig"); got != want {
			t.Errorf("ConfigDir() = %q, want %q", got, want)
		}
	})
}

func TestConfigFile(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")
	if got, want := ConfigFile(), filepath.Join("/custom/config", "devicerig", "devicerig.yaml"); got != want {
		t.Errorf("ConfigFile() = %q, want %q", got, want)
	}
}

func TestLoad(t *testing.T) {
	t.Run("defaults only", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)
		SetDefaults()

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() failed: %v", err)
		}
		if cfg.Server.Port != 4723 {
			t.Errorf("Server.Port = %d, want 4723", cfg.Server.Port)
		}
	})

	t.Run("file and environment overrides", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)
		SetDefaults()

		path := filepath.Join(t.TempDir(), "devicerig.yaml")
		content := `
server:
  port: 4800
  args: ["--relaxed-security"]
paths:
  logs_dir: build/logs
suite:
  parallel: 4
`
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatalf("failed to write config: %v", err)
		}
		viper.SetConfigFile(path)
		if err := viper.ReadInConfig(); err != nil {
			t.Fatalf("ReadInConfig failed: %v", err)
		}

		t.Setenv("DEVICERIG_LOGGING_LEVEL", "debug")
		viper.SetEnvPrefix(EnvPrefix)
		viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		viper.AutomaticEnv()

		cfg, err := Load()
		if err != nil {
			t.Fatalf("Load() failed: %v", err)
		}
		if cfg.Server.Port != 4800 {
			t.Errorf("Server.Port = %d, want 4800", cfg.Server.Port)
		}
		if len(cfg.Server.Args) != 1 || cfg.Server.Args[0] != "--relaxed-security" {
			t.Errorf("Server.Args = %v", cfg.Server.Args)
		}
		if cfg.Paths.LogsDir != "build/logs" {
			t.Errorf("Paths.LogsDir = %q, want build/logs", cfg.Paths.LogsDir)
		}
		if cfg.Suite.Parallel != 4 {
			t.Errorf("Suite.Parallel = %d, want 4", cfg.Suite.Parallel)
		}
		if cfg.Logging.Level != "debug" {
			t.Errorf("Logging.Level = %q, want debug (from env)", cfg.Logging.Level)
		}
		// Unset keys keep their defaults.
		if cfg.Session.NewCommandTimeoutSeconds != 560 {
			t.Errorf("Session.NewCommandTimeoutSeconds = %d, want 560", cfg.Session.NewCommandTimeoutSeconds)
		}
	})

	t.Run("invalid values are rejected", func(t *testing.T) {
		viper.Reset()
		t.Cleanup(viper.Reset)
		SetDefaults()
		viper.Set("server.port", 70000)
		viper.Set("suite.parallel", 0)

		_, err := Load()
		if err == nil {
			t.Fatal("Load() should fail for invalid config")
		}
		verrs, ok := err.(ValidationErrors)
		if !ok {
			t.Fatalf("error type = %T, want ValidationErrors", err)
		}
		if len(verrs) != 2 {
			t.Errorf("got %d validation errors, want 2: %v", len(verrs), verrs)
		}

		// Get falls back to defaults
		if cfg := Get(); cfg.Server.Port != 4723 {
			t.Errorf("Get().Server.Port = %d, want default 4723", cfg.Server.Port)
		}
	})
}
