package cmd

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/devicerig/internal/params"
	"github.com/Iron-Ham/devicerig/internal/procutil"
	"github.com/Iron-Ham/devicerig/internal/suite"
	"github.com/Iron-Ham/devicerig/internal/testutil"
)

// executeCommand runs the root command with args and returns captured output
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	envFile = ".env"

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return buf.String(), err
}

func TestRootCommand(t *testing.T) {
	if rootCmd.Use != "devicerig" {
		t.Errorf("rootCmd.Use = %q, want %q", rootCmd.Use, "devicerig")
	}

	cmdMap := make(map[string]*cobra.Command)
	for _, c := range rootCmd.Commands() {
		cmdMap[c.Name()] = c
	}
	for _, expected := range []string{"run", "caps", "server", "config", "logs"} {
		if cmdMap[expected] == nil {
			t.Errorf("expected subcommand %q not found", expected)
		}
	}

	sub := make(map[string]bool)
	for _, c := range serverCmd.Commands() {
		sub[c.Name()] = true
	}
	for _, expected := range []string{"start", "status", "probe"} {
		if !sub[expected] {
			t.Errorf("expected server subcommand %q not found", expected)
		}
	}
}

func TestFlagOverrides(t *testing.T) {
	c := &cobra.Command{Use: "x"}
	addParamFlags(c)
	if err := c.Flags().Parse([]string{"--platform", "iOS", "--wda-local-port", "10100"}); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	o := flagOverrides(c.Flags())
	if v, ok := o.Lookup(params.FieldPlatformName); !ok || v != "iOS" {
		t.Errorf("platformName = %q, %v", v, ok)
	}
	if v, ok := o.Lookup(params.FieldWDALocalPort); !ok || v != "10100" {
		t.Errorf("wdaLocalPort = %q, %v", v, ok)
	}
	if _, ok := o.Lookup(params.FieldUDID); ok {
		t.Error("unset flags must not override")
	}
	if _, ok := o.Lookup("bogus"); ok {
		t.Error("unknown fields must not resolve")
	}
}

func TestParamOverrides_FlagsBeatEnvironment(t *testing.T) {
	t.Setenv("DEVICERIG_UDID", "from-env")
	t.Setenv("DEVICERIG_DEVICE_NAME", "Env_Device")

	c := &cobra.Command{Use: "x"}
	addParamFlags(c)
	if err := c.Flags().Parse([]string{"--udid", "from-flag"}); err != nil {
		t.Fatal(err)
	}

	store := params.NewStore()
	if err := store.InitializeDefaults(paramOverrides(c)); err != nil {
		t.Fatalf("InitializeDefaults() error = %v", err)
	}
	set := store.Snapshot()
	if set.UDID != "from-flag" {
		t.Errorf("UDID = %q, want flag value", set.UDID)
	}
	if set.DeviceName != "Env_Device" {
		t.Errorf("DeviceName = %q, want env value", set.DeviceName)
	}
}

func TestBuildSuite(t *testing.T) {
	t.Run("single device from flags", func(t *testing.T) {
		s, err := buildSuite("", "", []string{"npm", "test"})
		if err != nil {
			t.Fatalf("buildSuite() error = %v", err)
		}
		if len(s.Devices) != 1 || len(s.Devices[0].Values()) != 0 {
			t.Errorf("devices = %+v, want one empty device", s.Devices)
		}
		if strings.Join(s.Command, " ") != "npm test" {
			t.Errorf("command = %v", s.Command)
		}
	})

	t.Run("suite file with filter", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "suite.yaml")
		doc := "name: nightly\ncommand: [make, e2e]\ndevices:\n  - name: pixel\n  - name: iphone\n    platformName: iOS\n"
		if err := os.WriteFile(path, []byte(doc), 0644); err != nil {
			t.Fatal(err)
		}

		s, err := buildSuite(path, "iph*", nil)
		if err != nil {
			t.Fatalf("buildSuite() error = %v", err)
		}
		if len(s.Devices) != 1 || s.Devices[0].Name != "iphone" {
			t.Errorf("devices = %+v", s.Devices)
		}
		if strings.Join(s.Command, " ") != "make e2e" {
			t.Errorf("command = %v, want the suite's", s.Command)
		}

		if _, err := buildSuite(path, "galaxy*", nil); err == nil {
			t.Error("expected error when the filter matches nothing")
		}
	})
}

func TestPrintReport(t *testing.T) {
	var buf bytes.Buffer
	printReport(&buf, suite.Report{
		Suite: "smoke",
		Results: []suite.Result{
			{Device: suite.Device{Name: "pixel"}, RunID: "r1", Duration: 1500 * time.Millisecond},
			{Device: suite.Device{Name: "iphone"}, RunID: "r2", SetupErr: os.ErrNotExist},
		},
		Duration: 2 * time.Second,
	})

	out := buf.String()
	for _, want := range []string{"Suite smoke", "PASS  pixel", "FAIL  iphone", "setup: file does not exist", "1 passed, 1 failed"} {
		if !strings.Contains(out, want) {
			t.Errorf("report missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "\x1b[") {
		t.Error("non-terminal output must not contain ANSI escapes")
	}
}

func TestCapsCommand(t *testing.T) {
	dir := t.TempDir()
	propsFile := testutil.WriteProperties(t, "http://127.0.0.1:4723", nil)
	t.Setenv("DEVICERIG_PATHS_PROPERTIES_FILE", propsFile)
	t.Setenv("DEVICERIG_PATHS_RESOURCES_DIR", dir)
	t.Setenv("DEVICERIG_UDID", "emulator-5560")

	out, err := executeCommand(t, "caps")
	if err != nil {
		t.Fatalf("caps error = %v\n%s", err, out)
	}

	var got capsOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if got.ServerURL != "http://127.0.0.1:4723" {
		t.Errorf("serverUrl = %q", got.ServerURL)
	}
	if got.Capabilities["appium:udid"] != "emulator-5560" {
		t.Errorf("udid = %v, want env override", got.Capabilities["appium:udid"])
	}
	if got.Capabilities["appium:app"] != filepath.Join(dir, "Android.SauceLabs.Mobile.Sample.app.2.7.1.apk") {
		t.Errorf("app = %v", got.Capabilities["appium:app"])
	}
}

func TestCapsCommand_MissingProperties(t *testing.T) {
	t.Setenv("DEVICERIG_PATHS_PROPERTIES_FILE", filepath.Join(t.TempDir(), "absent.properties"))

	if _, err := executeCommand(t, "caps"); err == nil {
		t.Error("expected error for a missing properties file")
	}
}

func TestServerProbeCommand(t *testing.T) {
	port := strconv.Itoa(testutil.OccupyPort(t))

	out, err := executeCommand(t, "server", "probe", port)
	if err != nil {
		t.Fatalf("probe error = %v", err)
	}
	if !strings.Contains(out, "port "+port+": occupied") {
		t.Errorf("probe output = %q", out)
	}

	free, err := procutil.FreePort()
	if err != nil {
		t.Fatal(err)
	}
	port = strconv.Itoa(free)
	out, err = executeCommand(t, "server", "probe", port)
	if err != nil {
		t.Fatalf("probe error = %v", err)
	}
	if !strings.Contains(out, "port "+port+": free") {
		t.Errorf("probe output = %q", out)
	}

	if _, err := executeCommand(t, "server", "probe", "http"); err == nil {
		t.Error("expected error for a non-numeric port")
	}
}

func TestConfigInitAndShow(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	out, err := executeCommand(t, "config", "init")
	if err != nil {
		t.Fatalf("config init error = %v", err)
	}
	if !strings.Contains(out, "devicerig.yaml") {
		t.Errorf("init output = %q", out)
	}
	if _, err := executeCommand(t, "config", "init"); err == nil {
		t.Error("second init without --force should fail")
	}

	out, err = executeCommand(t, "config", "show")
	if err != nil {
		t.Fatalf("config show error = %v", err)
	}
	for _, want := range []string{"port: 4723", "properties_file: config.properties", "new_command_timeout_seconds: 560"} {
		if !strings.Contains(out, want) {
			t.Errorf("config show missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "invalid") {
		t.Errorf("default config should be valid:\n%s", out)
	}
}

func TestLogsCommand_NoLogs(t *testing.T) {
	t.Setenv("DEVICERIG_PATHS_LOGS_DIR", filepath.Join(t.TempDir(), "logs"))

	out, err := executeCommand(t, "logs")
	if err != nil {
		t.Fatalf("logs error = %v", err)
	}
	if !strings.Contains(out, "No logs") {
		t.Errorf("logs output = %q", out)
	}
}

func TestEnvFile(t *testing.T) {
	dir := t.TempDir()
	propsFile := testutil.WriteProperties(t, "http://127.0.0.1:4723", nil)

	// Registered so they are restored, then cleared so the file can set them.
	t.Setenv("DEVICERIG_PATHS_PROPERTIES_FILE", "")
	t.Setenv("DEVICERIG_UDID", "")
	_ = os.Unsetenv("DEVICERIG_PATHS_PROPERTIES_FILE")
	_ = os.Unsetenv("DEVICERIG_UDID")
	t.Setenv("DEVICERIG_DEVICE_NAME", "From_Environment")

	envPath := filepath.Join(dir, "devicerig.env")
	content := "DEVICERIG_PATHS_PROPERTIES_FILE=" + propsFile + "\n" +
		"DEVICERIG_UDID=emulator-5570\n" +
		"DEVICERIG_DEVICE_NAME=From_File\n"
	if err := os.WriteFile(envPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	out, err := executeCommand(t, "caps", "--env-file", envPath)
	if err != nil {
		t.Fatalf("caps error = %v\n%s", err, out)
	}

	var got capsOutput
	if err := json.Unmarshal([]byte(out), &got); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if got.Capabilities["appium:udid"] != "emulator-5570" {
		t.Errorf("udid = %v, want value from the env file", got.Capabilities["appium:udid"])
	}
	if got.Capabilities["appium:deviceName"] != "From_Environment" {
		t.Errorf("deviceName = %v, the real environment must win", got.Capabilities["appium:deviceName"])
	}
}

func TestLoadDotEnv_Missing(t *testing.T) {
	if err := loadDotEnv(filepath.Join(t.TempDir(), "absent.env")); err != nil {
		t.Errorf("loadDotEnv() error = %v, want nil for a missing file", err)
	}
	if err := loadDotEnv(""); err != nil {
		t.Errorf("loadDotEnv(\"\") error = %v", err)
	}
}
