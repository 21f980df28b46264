package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/devicerig/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View the devicerig log",
	Long: `View and filter <logs_dir>/devicerig.log.

Examples:
  # Last 50 entries
  devicerig logs

  # Everything from one device task
  devicerig logs --run 3f0c... -n 0

  # Warnings and worse for iOS in the last hour, as CSV
  devicerig logs --platform ios --level warn --since 1h --format csv

Appium's own output is in <logs_dir>/<platform>_<device>/server.log.`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsTail      int
	logsLevel     string
	logsSince     string
	logsPlatform  string
	logsDevice    string
	logsRunID     string
	logsComponent string
	logsGrep      string
	logsFormat    string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of entries to show (0 for all)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error/fatal)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show entries since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsPlatform, "platform", "", "Filter by platform")
	logsCmd.Flags().StringVar(&logsDevice, "device", "", "Filter by device name")
	logsCmd.Flags().StringVar(&logsRunID, "run", "", "Filter by run ID")
	logsCmd.Flags().StringVar(&logsComponent, "component", "", "Filter by component (server/driver)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Only entries whose message contains this text")
	logsCmd.Flags().StringVar(&logsFormat, "format", "text", "Output format (text/json/csv)")
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	filter := logging.LogFilter{
		Level:     logsLevel,
		Platform:  logsPlatform,
		Device:    logsDevice,
		RunID:     logsRunID,
		Component: logsComponent,
		Contains:  logsGrep,
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return fmt.Errorf("invalid --since duration: %w", err)
		}
		filter.Since = time.Now().Add(-d)
	}

	entries, err := logging.ReadLogs(cfg.Paths.LogsDir)
	if errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(cmd.OutOrStdout(), "No logs in %s\n", cfg.Paths.LogsDir)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read logs: %w", err)
	}
	entries = logging.FilterLogs(entries, filter)
	if logsTail > 0 && len(entries) > logsTail {
		entries = entries[len(entries)-logsTail:]
	}

	return logging.WriteEntries(cmd.OutOrStdout(), entries, logsFormat)
}
