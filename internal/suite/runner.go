package suite

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/devicerig/internal/devicelock"
	"github.com/Iron-Ham/devicerig/internal/errors"
	"github.com/Iron-Ham/devicerig/internal/logging"
	"github.com/Iron-Ham/devicerig/internal/params"
	"github.com/Iron-Ham/devicerig/internal/rig"
	"github.com/Iron-Ham/devicerig/internal/server"
)

// Environment variables handed to the hook.
const (
	EnvServerURL  = "DEVICERIG_SERVER_URL"
	EnvSessionID  = "DEVICERIG_SESSION_ID"
	EnvRunID      = "DEVICERIG_RUN_ID"
	EnvDeviceName = "DEVICERIG_DEVICE_NAME"
)

// Hook is the work done against an open session.
type Hook interface {
	Run(ctx context.Context, env map[string]string) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, env map[string]string) error

// Run calls f.
func (f HookFunc) Run(ctx context.Context, env map[string]string) error { return f(ctx, env) }

// CommandHook runs an external test command.
type CommandHook struct {
	Command []string
	Dir     string
	Stdout  io.Writer
	Stderr  io.Writer
}

// Run executes the command with env added to the process environment.
func (h CommandHook) Run(ctx context.Context, env map[string]string) error {
	if len(h.Command) == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, h.Command[0], h.Command[1:]...)
	cmd.Dir = h.Dir
	cmd.Env = os.Environ()
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Env = append(cmd.Env, k+"="+env[k])
	}
	cmd.Stdout = h.Stdout
	cmd.Stderr = h.Stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("hook %q: %w", h.Command[0], err)
	}
	return nil
}

// HookEnv returns the environment a hook sees for a set-up task: the server
// URL, session id, run id and every resolved parameter.
func HookEnv(rc *rig.Context) map[string]string {
	env := map[string]string{
		EnvServerURL: rc.ServerURL(),
		EnvSessionID: rc.SessionID(),
		EnvRunID:     rc.RunID(),
	}
	names := params.EnvOverrides{}
	for field, v := range rc.Params().Snapshot().Values() {
		if name := names.EnvName(field); name != "" {
			env[name] = v
		}
	}
	return env
}

// Result is the outcome of one device task.
type Result struct {
	Device        Device
	RunID         string
	SessionID     string
	SetupErr      error
	HookErr       error
	CleanupErrors []error
	Duration      time.Duration
}

// Passed reports whether setup and hook succeeded. Cleanup failures do not
// fail a task.
func (r Result) Passed() bool {
	return r.SetupErr == nil && r.HookErr == nil
}

// Report is the outcome of a suite run, one Result per device in suite order.
type Report struct {
	Suite    string
	Results  []Result
	Duration time.Duration
}

// Passed reports whether every task passed.
func (r Report) Passed() bool {
	return r.Failed() == 0
}

// Failed returns the number of failed tasks.
func (r Report) Failed() int {
	n := 0
	for _, res := range r.Results {
		if !res.Passed() {
			n++
		}
	}
	return n
}

// Runner drives a suite.
type Runner struct {
	// Options is the template each task's rig.Context is created from.
	Options rig.Options
	// Hook runs between setup and teardown. Nil only opens and closes sessions.
	Hook Hook
	// Parallel is used when the suite does not set its own. Values below one
	// mean one device at a time.
	Parallel int
	Logger   *logging.Logger
	// Locks is shared by the tasks of a run. Nil gets a fresh registry per
	// Run call.
	Locks *devicelock.Registry

	watchOnce sync.Once
}

func watchClaims(locks *devicelock.Registry, logger *logging.Logger) {
	lockLog := logger.WithComponent("devicelock")
	locks.WatchClaims(func(c devicelock.Claim) {
		lockLog.WithRun(c.RunID).Debug("resource claimed", "resource", c.Resource)
	})
}

// Run executes every device of s and waits for all of them. Tasks are
// independent: one failing does not stop the others, and there are no
// retries.
//
// The Appium server is started once for the run before any task, so
// parallel tasks reuse it instead of racing to launch their own, and it is
// stopped after the last task. If it cannot be started every task fails
// with that error.
func (r *Runner) Run(ctx context.Context, s *Suite) Report {
	logger := r.Logger
	if logger == nil {
		logger = logging.NopLogger()
	}
	parallel := s.Parallel
	if parallel <= 0 {
		parallel = r.Parallel
	}
	if parallel <= 0 {
		parallel = 1
	}

	locks := r.Locks
	if locks == nil {
		locks = devicelock.NewRegistry()
		watchClaims(locks, logger)
	} else {
		r.watchOnce.Do(func() { watchClaims(locks, logger) })
	}

	logger.Info("suite started", "suite", s.Name, "devices", len(s.Devices), "parallel", parallel)
	start := time.Now()

	shared, err := r.startSharedServer(ctx, logger)
	if err != nil {
		report := Report{Suite: s.Name}
		for _, d := range s.Devices {
			report.Results = append(report.Results, Result{Device: d, SetupErr: err})
		}
		report.Duration = time.Since(start)
		logger.Error("suite aborted", "suite", s.Name, "error", err.Error())
		return report
	}
	defer func() { _ = shared.Stop(context.WithoutCancel(ctx)) }()

	p := pool.NewWithResults[Result]().WithMaxGoroutines(parallel)
	for _, d := range s.Devices {
		p.Go(func() Result {
			return r.runDevice(ctx, d, locks)
		})
	}
	results := p.Wait()

	report := Report{Suite: s.Name, Results: results, Duration: time.Since(start)}
	logger.Info("suite finished",
		"suite", s.Name,
		"failed", report.Failed(),
		"duration_ms", report.Duration.Milliseconds(),
	)
	return report
}

// startSharedServer starts the run's server unless one already listens on
// the configured port. Its log directory is named after the default device.
func (r *Runner) startSharedServer(ctx context.Context, logger *logging.Logger) (*server.Manager, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "suite canceled")
	}
	store := params.NewStore()
	if err := store.InitializeDefaults(r.Options.Overrides); err != nil {
		store = nil
	}
	m := rig.NewServerManager(r.Options, store, logger)
	if err := m.Start(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// deviceResources resolves d's parameters the way Setup will and returns the
// UDID and ports its session occupies. Values that do not resolve return nil;
// Setup reports the error.
func deviceResources(overrides params.Overrides, values map[string]string) []string {
	store := params.NewStore()
	if err := store.InitializeDefaults(overrides); err != nil {
		return nil
	}
	if err := store.Apply(values); err != nil {
		return nil
	}
	set := store.Snapshot()
	return devicelock.Resources(set.UDID, set.Ports)
}

// holders returns the runs holding any of resources.
func holders(locks *devicelock.Registry, resources []string) []string {
	var out []string
	for _, res := range resources {
		if owner, ok := locks.Owner(res); ok && !slices.Contains(out, owner) {
			out = append(out, owner)
		}
	}
	return out
}

func (r *Runner) runDevice(ctx context.Context, d Device, locks *devicelock.Registry) (res Result) {
	start := time.Now()
	res.Device = d

	rc := rig.New(r.Options)
	res.RunID = rc.RunID()
	defer func() {
		rc.Teardown(context.WithoutCancel(ctx))
		if held := locks.Held(rc.RunID()); len(held) > 0 {
			locks.ReleaseAll(rc.RunID())
			rc.Logger().Debug("device released", "resources", held)
		}
		res.CleanupErrors = rc.CleanupErrors()
		res.Duration = time.Since(start)
	}()

	if err := ctx.Err(); err != nil {
		res.SetupErr = errors.Wrap(err, "suite canceled")
		return res
	}
	if resources := deviceResources(r.Options.Overrides, d.Values()); len(resources) > 0 {
		if err := locks.TryAcquire(rc.RunID(), resources); err != nil {
			rc.Logger().Info("waiting for device", "resources", resources, "held_by", holders(locks, resources))
			if err := locks.Acquire(ctx, rc.RunID(), resources); err != nil {
				res.SetupErr = errors.Wrap(err, "device busy")
				return res
			}
		}
	}
	if err := rc.Setup(ctx, d.Values()); err != nil {
		res.SetupErr = err
		return res
	}
	res.SessionID = rc.SessionID()

	if r.Hook != nil {
		rc.Logger().Info("running hook", "session_id", res.SessionID)
		if err := r.Hook.Run(ctx, HookEnv(rc)); err != nil {
			rc.Logger().Error("hook failed", "error", err.Error())
			res.HookErr = err
		}
	}
	return res
}
