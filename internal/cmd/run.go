package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/devicerig/internal/properties"
	"github.com/Iron-Ham/devicerig/internal/rig"
	"github.com/Iron-Ham/devicerig/internal/suite"
	"github.com/Iron-Ham/devicerig/internal/util"
)

var runCmd = &cobra.Command{
	Use:   "run [flags] [-- command...]",
	Short: "Open sessions and run a test command against them",
	Long: `Run prepares each device (server, then session), runs the test command
with the session details in its environment, and tears everything down.

Without --suite a single device is taken from the flags and DEVICERIG_*
environment variables. With --suite every device in the file runs, at most
suite.parallel at a time.

The command sees DEVICERIG_SERVER_URL, DEVICERIG_SESSION_ID,
DEVICERIG_RUN_ID, DEVICERIG_PLATFORM_NAME, DEVICERIG_UDID,
DEVICERIG_DEVICE_NAME and the port variables.

Examples:
  # One Android emulator with the defaults
  devicerig run -- ./gradlew connectedCheck

  # An iOS simulator
  devicerig run --platform iOS --udid 5C2B... --device-name "iPhone 15" -- npm test

  # Every Pixel in a suite file
  devicerig run --suite devices.yaml --filter 'pixel-*'`,
	RunE: runRun,
}

var (
	runSuiteFile string
	runFilter    string
	runParallel  int
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runSuiteFile, "suite", "s", "", "suite file listing devices (YAML)")
	runCmd.Flags().StringVar(&runFilter, "filter", "", "only run devices whose name matches this glob")
	runCmd.Flags().IntVarP(&runParallel, "parallel", "p", 0, "maximum devices at once (default from config)")
	addParamFlags(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := buildSuite(runSuiteFile, runFilter, args)
	if err != nil {
		return err
	}
	if runParallel > 0 {
		s.Parallel = runParallel
	}

	logger, err := openLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer func() { _ = logger.Close() }()

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runner := &suite.Runner{
		Options: rig.Options{
			Config:     cfg,
			Properties: properties.NewLoader(cfg.Paths.PropertiesFile, logger),
			Overrides:  paramOverrides(cmd),
			Logger:     logger,
		},
		Hook: suite.CommandHook{
			Command: s.Command,
			Stdout:  cmd.OutOrStdout(),
			Stderr:  cmd.ErrOrStderr(),
		},
		Parallel: cfg.Suite.Parallel,
		Logger:   logger,
	}

	report := runner.Run(ctx, s)
	printReport(cmd.OutOrStdout(), report)

	if !report.Passed() {
		return fmt.Errorf("%d of %d devices failed", report.Failed(), len(report.Results))
	}
	return nil
}

// buildSuite loads the suite file, or makes a one-device suite whose
// parameters come entirely from flags and environment. Trailing args
// replace the suite's command.
func buildSuite(path, filter string, command []string) (*suite.Suite, error) {
	var s *suite.Suite
	if path == "" {
		s = &suite.Suite{Name: "devicerig", Devices: []suite.Device{{}}}
	} else {
		loaded, err := suite.Load(path)
		if err != nil {
			return nil, err
		}
		s = loaded
	}

	if len(command) > 0 {
		s.Command = command
	}

	devices, err := suite.Filter(s.Devices, filter)
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("no devices match %q", filter)
	}
	s.Devices = devices
	return s, nil
}

const (
	labelWidth = 24
	errorWidth = 160
)

func printReport(w io.Writer, report suite.Report) {
	st := newOutputStyles(w)

	fmt.Fprintln(w)
	fmt.Fprintln(w, st.Title.Render("Suite "+report.Suite))
	for _, res := range report.Results {
		status := st.Pass.Render("PASS")
		if !res.Passed() {
			status = st.Fail.Render("FAIL")
		}
		fmt.Fprintf(w, "  %s  %s %s\n", status, util.Column(res.Device.Label(), labelWidth),
			st.Muted.Render(fmt.Sprintf("%s  run=%s", res.Duration.Round(time.Millisecond), res.RunID)))
		if res.SetupErr != nil {
			fmt.Fprintf(w, "        setup: %s\n", util.OneLine(res.SetupErr.Error(), errorWidth))
		}
		if res.HookErr != nil {
			fmt.Fprintf(w, "        test:  %s\n", util.OneLine(res.HookErr.Error(), errorWidth))
		}
		for _, cerr := range res.CleanupErrors {
			fmt.Fprintln(w, st.Warn.Render("        cleanup: "+util.OneLine(cerr.Error(), errorWidth)))
		}
	}

	summary := fmt.Sprintf("%d passed, %d failed in %s",
		len(report.Results)-report.Failed(), report.Failed(), report.Duration.Round(time.Millisecond))
	if report.Passed() {
		fmt.Fprintln(w, st.Pass.Render(summary))
	} else {
		fmt.Fprintln(w, st.Fail.Render(summary))
	}
}

// commandContext returns cmd's context, or Background outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
