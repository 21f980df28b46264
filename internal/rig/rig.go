// Package rig bundles everything one device task owns: its parameters, the
// Appium server it may have started and its driver session.
package rig

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Iron-Ham/devicerig/internal/capability"
	"github.com/Iron-Ham/devicerig/internal/config"
	"github.com/Iron-Ham/devicerig/internal/driver"
	"github.com/Iron-Ham/devicerig/internal/errors"
	"github.com/Iron-Ham/devicerig/internal/logging"
	"github.com/Iron-Ham/devicerig/internal/params"
	"github.com/Iron-Ham/devicerig/internal/server"
	"github.com/Iron-Ham/devicerig/internal/webdriver"
)

// Options configures a Context.
type Options struct {
	Config *config.Config
	// Properties is shared by every task of a run.
	Properties driver.PropertiesSource
	// Overrides are the process-level parameter sources (flags, environment).
	Overrides params.Overrides
	Logger    *logging.Logger
	// Opener defaults to a WebDriverOpener using Client.
	Opener driver.Opener
	Client *webdriver.Client
	// ServerEnv is passed to a server started by this task.
	ServerEnv map[string]string
}

// Context is the per-task state. Each device task creates its own; nothing
// in it is shared with other tasks.
type Context struct {
	opts   Options
	runID  string
	base   *logging.Logger
	logger *logging.Logger

	params *params.Store
	server *server.Manager
	driver *driver.Manager

	tornDown      bool
	cleanupErrors []error
}

// New returns a Context with a fresh run id. Nothing is started until Setup.
func New(opts Options) *Context {
	if opts.Config == nil {
		opts.Config = config.Default()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NopLogger()
	}
	if opts.Client == nil {
		opts.Client = webdriver.NewClient(nil)
	}
	if opts.Opener == nil {
		opts.Opener = driver.WebDriverOpener{Client: opts.Client}
	}

	runID := uuid.NewString()
	base := opts.Logger.WithRun(runID)
	return &Context{
		opts:   opts,
		runID:  runID,
		base:   base,
		logger: base,
		params: params.NewStore(),
	}
}

// RunID returns the task's run id.
func (c *Context) RunID() string { return c.runID }

// Logger returns the task logger, scoped with platform and device once Setup
// resolved them.
func (c *Context) Logger() *logging.Logger { return c.logger }

// Params returns the task's parameter store.
func (c *Context) Params() *params.Store { return c.params }

// Server returns the server manager, or nil before Setup reached it.
func (c *Context) Server() *server.Manager { return c.server }

// Driver returns the session manager, or nil before Setup reached it.
func (c *Context) Driver() *driver.Manager { return c.driver }

// ServerURL returns the URL the task's session talks to.
func (c *Context) ServerURL() string {
	if c.driver != nil {
		if d := c.driver.Descriptor(); d.ServerURL != nil {
			return d.ServerURL.String()
		}
	}
	if c.server != nil {
		return c.server.URL()
	}
	return c.opts.Config.Server.ServerURL()
}

// SessionID returns the active session id, or "".
func (c *Context) SessionID() string {
	if c.driver == nil {
		return ""
	}
	s, err := c.driver.Get()
	if err != nil {
		return ""
	}
	return s.ID()
}

// NewServerManager returns a server manager configured from opts, reading
// the platform and device name for its log directory from store.
func NewServerManager(opts Options, store *params.Store, logger *logging.Logger) *server.Manager {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Default()
	}
	so := server.ConfigOptions(cfg)
	so.Logger = logger
	so.Client = opts.Client
	so.Env = opts.ServerEnv
	return server.NewManager(cfg.Server, store, so)
}

// Setup resolves the parameters (values layered over the process overrides
// and defaults), starts the server if none is running and opens the driver
// session. The first failure aborts Setup and is returned.
func (c *Context) Setup(ctx context.Context, values map[string]string) error {
	if err := c.params.InitializeDefaults(c.opts.Overrides); err != nil {
		c.logFailure("invalid task parameters", err)
		return err
	}
	if len(values) > 0 {
		if err := c.params.Apply(values); err != nil {
			c.logFailure("invalid task parameters", err)
			return err
		}
	}

	set := c.params.Snapshot()
	c.logger = c.base.WithPlatform(string(set.Platform)).WithDevice(set.DeviceName)
	c.logger.Info("task parameters resolved", "udid", set.UDID, "routing_key", set.RoutingKey())

	cfg := c.opts.Config
	c.server = NewServerManager(c.opts, c.params, c.logger)
	if err := c.server.Start(ctx); err != nil {
		c.logFailure("appium server unavailable", err)
		return err
	}

	c.driver = driver.NewManager(driver.Deps{
		Params:     c.params,
		Properties: c.opts.Properties,
		Builder: capability.NewBuilder(capability.Settings{
			ResourcesDir:      cfg.Paths.ResourcesDir,
			NewCommandTimeout: cfg.Session.NewCommandTimeout(),
			AvdLaunchTimeout:  cfg.Session.AvdLaunchTimeout(),
		}),
		Opener:      c.opts.Opener,
		Logger:      c.logger,
		OpenTimeout: cfg.Session.OpenTimeout(),
	})
	return c.driver.Initialize(ctx)
}

// Teardown closes the session and then stops the server. Both steps always
// run; their failures are logged and kept in CleanupErrors, never returned.
// Calling Teardown again does nothing.
func (c *Context) Teardown(ctx context.Context) {
	if c.tornDown {
		return
	}
	c.tornDown = true

	if c.driver != nil {
		c.cleanup("session", func() error { return c.driver.Quit(ctx) })
	}
	if c.server != nil {
		c.cleanup("server", func() error { return c.server.Stop(ctx) })
	}
}

// CleanupErrors returns the failures recorded by Teardown.
func (c *Context) CleanupErrors() []error {
	return append([]error(nil), c.cleanupErrors...)
}

func (c *Context) cleanup(step string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			c.record(step, fmt.Errorf("panic: %v", r))
		}
	}()
	if err := fn(); err != nil {
		c.record(step, err)
	}
}

func (c *Context) record(step string, err error) {
	if !errors.IsCleanup(err) {
		err = errors.NewCleanupError(step, err)
	}
	c.logFailure("teardown step failed", err, "step", step)
	c.cleanupErrors = append(c.cleanupErrors, err)
}

// logFailure logs err at the level its severity calls for: fatal for
// critical errors, warn for warnings and error otherwise.
func (c *Context) logFailure(msg string, err error, args ...any) {
	sev := errors.GetSeverity(err)
	args = append(args, "severity", sev.String(), "error", err.Error())
	switch {
	case errors.IsFatal(err):
		c.logger.Fatal(msg, args...)
	case sev == errors.SeverityWarning:
		c.logger.Warn(msg, args...)
	default:
		c.logger.Error(msg, args...)
	}
}
