package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/devicerig/internal/params"
	"github.com/Iron-Ham/devicerig/internal/rig"
	"github.com/Iron-Ham/devicerig/internal/server"
	"github.com/Iron-Ham/devicerig/internal/webdriver"
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Manage the local Appium server",
}

var serverStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the Appium server and keep it running until interrupted",
	Long: `Start launches the configured Appium server in the foreground, unless
something already listens on the server port, and stops it on Ctrl+C.
Server output goes to <logs_dir>/<platform>_<device>/server.log.`,
	Args: cobra.NoArgs,
	RunE: runServerStart,
}

var serverStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query GET /status on the Appium server",
	Args:  cobra.NoArgs,
	RunE:  runServerStatus,
}

var serverProbeCmd = &cobra.Command{
	Use:   "probe [port]",
	Short: "Report whether the server port is occupied",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runServerProbe,
}

var serverStatusURL string

func init() {
	rootCmd.AddCommand(serverCmd)
	serverCmd.AddCommand(serverStartCmd)
	serverCmd.AddCommand(serverStatusCmd)
	serverCmd.AddCommand(serverProbeCmd)

	serverStatusCmd.Flags().StringVar(&serverStatusURL, "url", "", "server URL (default from config)")
	addParamFlags(serverStartCmd)
}

func runServerStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := openLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to open log: %w", err)
	}
	defer func() { _ = logger.Close() }()

	store := params.NewStore()
	if err := store.InitializeDefaults(paramOverrides(cmd)); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := rig.NewServerManager(rig.Options{Config: cfg}, store, logger)
	if err := m.Start(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	st := newOutputStyles(out)
	svc := m.Handle()
	if svc == nil {
		fmt.Fprintln(out, st.Warn.Render(fmt.Sprintf("appium server already running on port %d", cfg.Server.Port)))
		return nil
	}
	fmt.Fprintf(out, "%s %s %s\n", st.Pass.Render("started"), m.URL(), st.Muted.Render(fmt.Sprintf("(pid %d)", svc.PID())))

	select {
	case <-ctx.Done():
	case <-svc.Done():
		fmt.Fprintln(out, st.Fail.Render("appium server exited"))
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.StopTimeout()+5*time.Second)
	defer cancel()
	return m.Stop(stopCtx)
}

func runServerStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	url := serverStatusURL
	if url == "" {
		url = cfg.Server.ServerURL()
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), 10*time.Second)
	defer cancel()

	out := cmd.OutOrStdout()
	st := newOutputStyles(out)
	status, err := webdriver.NewClient(nil).Status(ctx, url)
	if err != nil {
		fmt.Fprintf(out, "%s %s\n", st.Fail.Render("unreachable"), url)
		return err
	}

	state := st.Pass.Render("ready")
	if !status.Ready {
		state = st.Warn.Render("not ready")
	}
	fmt.Fprintf(out, "%s %s\n", state, url)
	if status.Message != "" {
		fmt.Fprintf(out, "  %s %s\n", st.Key.Render("message:"), status.Message)
	}
	if v, ok := status.Build["version"]; ok {
		fmt.Fprintf(out, "  %s %v\n", st.Key.Render("version:"), v)
	}
	return nil
}

func runServerProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	port := cfg.Server.Port
	if len(args) == 1 {
		p, err := params.ParsePort("port", args[0])
		if err != nil {
			return err
		}
		port = p
	}

	if server.IsPortOccupied(port) {
		fmt.Fprintf(cmd.OutOrStdout(), "port %d: occupied\n", port)
	} else {
		fmt.Fprintf(cmd.OutOrStdout(), "port %d: free\n", port)
	}
	return nil
}
