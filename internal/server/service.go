// Package server manages the locally launched Appium server a device task
// talks to.
package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/Iron-Ham/devicerig/internal/procutil"
)

// DefaultPort is the well-known Appium port.
const DefaultPort = 4723

// processExitTimeout bounds the wait for killed processes to disappear.
const processExitTimeout = 2 * time.Second

// ServiceSpec describes how to launch an Appium server process.
type ServiceSpec struct {
	Executable      string
	Address         string
	Port            int
	CallbackPort    int
	BasePath        string
	SessionOverride bool
	// ExtraArgs are appended after the generated flags.
	ExtraArgs []string
	// Env is added to the inherited environment.
	Env []string
	// LogOutput receives the server's stdout and stderr. It is closed when
	// the process exits if it implements io.Closer. Nil discards output.
	LogOutput io.Writer
}

// Args returns the server command line, without the executable.
func (s ServiceSpec) Args() []string {
	args := []string{
		"--address", s.Address,
		"--port", strconv.Itoa(s.Port),
	}
	if s.CallbackPort > 0 {
		args = append(args, "--callback-port", strconv.Itoa(s.CallbackPort))
	}
	if s.BasePath != "" {
		args = append(args, "--base-path", s.BasePath)
	}
	if s.SessionOverride {
		args = append(args, "--session-override")
	}
	args = append(args, "--log-no-colors")
	return append(args, s.ExtraArgs...)
}

// URL returns the base URL clients use to reach the server.
func (s ServiceSpec) URL() string {
	host := s.Address
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(s.Port)) + s.BasePath
}

// ServiceBuilder assembles a ServiceSpec.
type ServiceBuilder struct {
	spec ServiceSpec
	env  map[string]string
}

// NewServiceBuilder returns a builder for the stock server: appium on
// 127.0.0.1:4723 with a free callback port.
func NewServiceBuilder() *ServiceBuilder {
	return &ServiceBuilder{
		spec: ServiceSpec{
			Executable: "appium",
			Address:    "127.0.0.1",
			Port:       DefaultPort,
		},
	}
}

// UsingExecutable sets the command used to launch the server.
func (b *ServiceBuilder) UsingExecutable(path string) *ServiceBuilder {
	b.spec.Executable = path
	return b
}

// WithIPAddress sets the interface the server binds to.
func (b *ServiceBuilder) WithIPAddress(address string) *ServiceBuilder {
	b.spec.Address = address
	return b
}

// UsingPort sets the server port.
func (b *ServiceBuilder) UsingPort(port int) *ServiceBuilder {
	b.spec.Port = port
	return b
}

// UsingCallbackPort sets the callback port. Zero means any free port.
func (b *ServiceBuilder) UsingCallbackPort(port int) *ServiceBuilder {
	b.spec.CallbackPort = port
	return b
}

// WithBasePath sets the URL base path, e.g. "/wd/hub".
func (b *ServiceBuilder) WithBasePath(path string) *ServiceBuilder {
	path = strings.Trim(path, "/")
	if path != "" {
		path = "/" + path
	}
	b.spec.BasePath = path
	return b
}

// WithSessionOverride toggles --session-override.
func (b *ServiceBuilder) WithSessionOverride(enabled bool) *ServiceBuilder {
	b.spec.SessionOverride = enabled
	return b
}

// WithArgs appends extra command line arguments.
func (b *ServiceBuilder) WithArgs(args ...string) *ServiceBuilder {
	b.spec.ExtraArgs = append(b.spec.ExtraArgs, args...)
	return b
}

// WithEnvironment adds environment variables for the server process.
func (b *ServiceBuilder) WithEnvironment(env map[string]string) *ServiceBuilder {
	if b.env == nil {
		b.env = make(map[string]string, len(env))
	}
	for k, v := range env {
		b.env[k] = v
	}
	return b
}

// WithLogOutput redirects server output to w instead of the console.
func (b *ServiceBuilder) WithLogOutput(w io.Writer) *ServiceBuilder {
	b.spec.LogOutput = w
	return b
}

// Build validates the settings and returns the spec. A zero callback port is
// replaced by a free one.
func (b *ServiceBuilder) Build() (ServiceSpec, error) {
	spec := b.spec
	if strings.TrimSpace(spec.Executable) == "" {
		return ServiceSpec{}, fmt.Errorf("server executable is empty")
	}
	if spec.Port < 1 || spec.Port > 65535 {
		return ServiceSpec{}, fmt.Errorf("server port %d out of range", spec.Port)
	}
	if spec.CallbackPort == 0 {
		port, err := procutil.FreePort()
		if err != nil {
			return ServiceSpec{}, err
		}
		spec.CallbackPort = port
	}
	for k, v := range b.env {
		spec.Env = append(spec.Env, k+"="+v)
	}
	spec.ExtraArgs = append([]string(nil), spec.ExtraArgs...)
	return spec, nil
}

// Service is a launched server process.
type Service struct {
	spec ServiceSpec
	cmd  *exec.Cmd

	done    chan struct{}
	waitErr error

	stopOnce sync.Once
	stopErr  error
}

// StartService launches the process described by spec. It does not wait for
// the server to become ready.
func StartService(spec ServiceSpec) (*Service, error) {
	cmd := exec.Command(spec.Executable, spec.Args()...)
	cmd.Env = append(os.Environ(), spec.Env...)
	// Own process group so signals to the rig do not reach the server first.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	out := spec.LogOutput
	if out == nil {
		out = io.Discard
	}
	cmd.Stdout = out
	cmd.Stderr = out

	if err := cmd.Start(); err != nil {
		closeOutput(spec.LogOutput)
		return nil, err
	}

	s := &Service{spec: spec, cmd: cmd, done: make(chan struct{})}
	go func() {
		s.waitErr = cmd.Wait()
		closeOutput(spec.LogOutput)
		close(s.done)
	}()
	return s, nil
}

func closeOutput(w io.Writer) {
	if c, ok := w.(io.Closer); ok {
		_ = c.Close()
	}
}

// Spec returns the spec the service was started from.
func (s *Service) Spec() ServiceSpec { return s.spec }

// URL returns the server base URL.
func (s *Service) URL() string { return s.spec.URL() }

// PID returns the process id of the launched executable.
func (s *Service) PID() int { return s.cmd.Process.Pid }

// Done is closed once the process has exited.
func (s *Service) Done() <-chan struct{} { return s.done }

// Running reports whether the process has not exited yet.
func (s *Service) Running() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// ExitErr returns the process exit error once Done is closed.
func (s *Service) ExitErr() error {
	select {
	case <-s.done:
		return s.waitErr
	default:
		return nil
	}
}

// Stop sends SIGTERM, waits up to graceful for the process to exit, then
// kills the whole process tree. It is safe to call more than once.
func (s *Service) Stop(ctx context.Context, graceful time.Duration) error {
	s.stopOnce.Do(func() {
		s.stopErr = s.stop(ctx, graceful)
	})
	return s.stopErr
}

func (s *Service) stop(ctx context.Context, graceful time.Duration) error {
	if !s.Running() {
		return nil
	}
	pid := s.PID()
	// The appium CLI forks node; collect the tree while the root is alive.
	tree := append([]int{pid}, procutil.GetDescendantPIDs(pid)...)

	if err := procutil.Terminate(pid); err != nil {
		procutil.KillProcessTree(pid)
	}

	timer := time.NewTimer(graceful)
	defer timer.Stop()
	select {
	case <-s.done:
	case <-timer.C:
	case <-ctx.Done():
	}

	for _, p := range tree {
		if procutil.IsProcessAlive(p) {
			procutil.KillProcessTree(p)
		}
	}

	select {
	case <-s.done:
	case <-time.After(processExitTimeout):
		return fmt.Errorf("server process %d did not exit", pid)
	}
	// The root is reaped by Wait; forked children are not ours to reap.
	for _, p := range tree[1:] {
		if !procutil.WaitForProcessExit(p, processExitTimeout) {
			return fmt.Errorf("server child process %d did not exit", p)
		}
	}
	return nil
}
