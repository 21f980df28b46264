package server

import (
	"context"
	"fmt"
	"time"

	"github.com/Iron-Ham/devicerig/internal/config"
	"github.com/Iron-Ham/devicerig/internal/errors"
	"github.com/Iron-Ham/devicerig/internal/logging"
	"github.com/Iron-Ham/devicerig/internal/params"
	"github.com/Iron-Ham/devicerig/internal/procutil"
	"github.com/Iron-Ham/devicerig/internal/webdriver"
)

const (
	// readyPollInterval is how often Start polls /status while waiting.
	readyPollInterval = 250 * time.Millisecond
	// readyGracePeriod is how long the launched process must stay up after
	// /status first answers. A process that loses the bind to a sibling
	// exits while the sibling's server answers on the same port.
	readyGracePeriod = 500 * time.Millisecond
)

// IsPortOccupied reports whether a TCP listener can not be bound on port.
func IsPortOccupied(port int) bool {
	return procutil.IsPortOccupied(port)
}

// Options configures a Manager.
type Options struct {
	// LogsDir receives <platform>_<device>/server.log.
	LogsDir  string
	Rotation logging.RotationConfig
	Logger   *logging.Logger
	// Client is used for the readiness probe. Nil uses a short-timeout client.
	Client *webdriver.Client
	// Env is passed to the server process.
	Env map[string]string
}

// ConfigOptions returns Options carrying the log directory and rotation
// settings of cfg.
func ConfigOptions(cfg *config.Config) Options {
	return Options{
		LogsDir: cfg.Paths.LogsDir,
		Rotation: logging.RotationConfig{
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			Compress:   cfg.Logging.Compress,
		},
	}
}

// Manager owns the handle of a server it started. A suite run uses one
// run-scoped Manager to start the shared server; each device task has its
// own, which only reuses that server.
type Manager struct {
	cfg    config.ServerConfig
	store  *params.Store
	opts   Options
	logger *logging.Logger
	client *webdriver.Client

	portOccupied func(int) bool
	readyGrace   time.Duration
	handle       *Service
}

// NewManager returns a Manager for the task whose parameters live in store.
// The device name used for the server log directory is read at Start.
func NewManager(cfg config.ServerConfig, store *params.Store, opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	client := opts.Client
	if client == nil {
		client = webdriver.NewClient(nil)
	}
	if opts.Rotation == (logging.RotationConfig{}) {
		opts.Rotation = logging.DefaultRotationConfig()
	}
	return &Manager{
		cfg:          cfg,
		store:        store,
		opts:         opts,
		logger:       logger.WithComponent("server"),
		client:       client,
		portOccupied: IsPortOccupied,
		readyGrace:   readyGracePeriod,
	}
}

// Handle returns the server this manager started, or nil.
func (m *Manager) Handle() *Service {
	return m.handle
}

// URL returns the base URL of the managed server, or of the configured
// server when this task did not start one.
func (m *Manager) URL() string {
	if m.handle != nil {
		return m.handle.URL()
	}
	return m.cfg.ServerURL()
}

// Start launches the server unless something already listens on the
// configured port. Readiness is awaited via GET /status for at most the
// configured start timeout. On failure the process is stopped and no handle
// is kept.
func (m *Manager) Start(ctx context.Context) error {
	if m.handle != nil && m.handle.Running() {
		return nil
	}
	m.handle = nil

	port := m.cfg.Port
	if m.portOccupied(port) {
		m.logger.Info("appium server already running", "port", port)
		return nil
	}

	svc, err := m.launch(ctx)
	if err != nil {
		// A sibling task may have won the race for the port.
		if m.portOccupied(port) {
			m.logger.Info("appium server already running", "port", port, "start_error", err.Error())
			return nil
		}
		m.logger.Fatal("failed to start appium server",
			"port", port,
			"severity", errors.GetSeverity(err).String(),
			"error", err.Error(),
		)
		return err
	}

	m.handle = svc
	m.logger.Info("appium server started",
		"url", svc.URL(),
		"pid", svc.PID(),
		"callback_port", svc.Spec().CallbackPort,
	)
	return nil
}

func (m *Manager) launch(ctx context.Context) (*Service, error) {
	set := m.snapshot()
	logOut, err := logging.OpenServerLog(m.opts.LogsDir, string(set.Platform), set.DeviceName, m.opts.Rotation)
	if err != nil {
		return nil, m.startError("cannot open server log", err)
	}

	spec, err := NewServiceBuilder().
		UsingExecutable(m.cfg.Executable).
		WithIPAddress(m.cfg.Address).
		UsingPort(m.cfg.Port).
		UsingCallbackPort(0).
		WithBasePath(m.cfg.BasePath).
		WithSessionOverride(m.cfg.SessionOverride).
		WithArgs(m.cfg.Args...).
		WithEnvironment(m.opts.Env).
		WithLogOutput(logOut).
		Build()
	if err != nil {
		_ = logOut.Close()
		return nil, m.startError("invalid server settings", err)
	}

	svc, err := StartService(spec)
	if err != nil {
		return nil, m.startError("cannot launch server", err)
	}
	m.logger.Debug("waiting for appium server", "pid", svc.PID(), "log", logOut.FilePath())

	if err := m.waitReady(ctx, svc); err != nil {
		_ = svc.Stop(context.Background(), m.stopTimeout())
		return nil, m.startError("server is not running", err)
	}
	if err := m.confirmRunning(ctx, svc); err != nil {
		_ = svc.Stop(context.Background(), m.stopTimeout())
		return nil, m.startError("server is not running", err)
	}
	return svc, nil
}

// confirmRunning fails when the launched process exits within the grace
// period after /status answered, since the answer then came from whatever
// else holds the port.
func (m *Manager) confirmRunning(ctx context.Context, svc *Service) error {
	if m.readyGrace <= 0 {
		return nil
	}
	timer := time.NewTimer(m.readyGrace)
	defer timer.Stop()
	select {
	case <-svc.Done():
		if exitErr := svc.ExitErr(); exitErr != nil {
			return fmt.Errorf("server exited after the port answered: %w", exitErr)
		}
		return fmt.Errorf("server exited after the port answered")
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// waitReady polls /status until the server reports ready, the process
// exits, or the start timeout elapses.
func (m *Manager) waitReady(ctx context.Context, svc *Service) error {
	timeout := m.cfg.StartTimeout()
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(readyPollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		probeCtx, probeCancel := context.WithTimeout(ctx, 2*time.Second)
		st, err := m.client.Status(probeCtx, svc.URL())
		probeCancel()
		if err == nil && st.Ready {
			return nil
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("status not ready: %s", st.Message)
		}

		select {
		case <-svc.Done():
			if exitErr := svc.ExitErr(); exitErr != nil {
				return fmt.Errorf("server exited before becoming ready: %w", exitErr)
			}
			return fmt.Errorf("server exited before becoming ready")
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("%w (last probe: %v)", ctx.Err(), lastErr)
			}
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Stop stops the server this manager started. Without a handle it does
// nothing. The handle is always released, even when stopping fails.
func (m *Manager) Stop(ctx context.Context) error {
	svc := m.handle
	if svc == nil {
		return nil
	}
	defer func() { m.handle = nil }()

	if err := svc.Stop(ctx, m.stopTimeout()); err != nil {
		m.logger.Warn("appium server did not stop cleanly", "pid", svc.PID(), "error", err.Error())
		return err
	}
	m.logger.Info("appium server stopped", "pid", svc.PID())
	return nil
}

func (m *Manager) stopTimeout() time.Duration {
	if d := m.cfg.StopTimeout(); d > 0 {
		return d
	}
	return procutil.DefaultGracefulStopTimeout
}

func (m *Manager) snapshot() params.Set {
	if m.store == nil {
		return params.Set{Platform: params.DefaultPlatform, DeviceName: params.DefaultDeviceName}
	}
	return m.store.Snapshot()
}

func (m *Manager) startError(msg string, cause error) error {
	return errors.NewServerStartError(msg, cause).
		WithPort(m.cfg.Port).
		WithExecutable(m.cfg.Executable)
}
