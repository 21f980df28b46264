// Package driver owns the WebDriver session of one device task: opening it
// from the task's parameters and the shared properties, handing it out, and
// closing it at teardown.
package driver

import (
	"context"
	"time"

	"github.com/Iron-Ham/devicerig/internal/capability"
	"github.com/Iron-Ham/devicerig/internal/errors"
	"github.com/Iron-Ham/devicerig/internal/logging"
	"github.com/Iron-Ham/devicerig/internal/params"
	"github.com/Iron-Ham/devicerig/internal/properties"
	"github.com/Iron-Ham/devicerig/internal/webdriver"
)

// Session is an open automation session.
type Session interface {
	ID() string
	Quit(ctx context.Context) error
}

// Opener opens a session for a descriptor.
type Opener interface {
	Open(ctx context.Context, d capability.Descriptor) (Session, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, d capability.Descriptor) (Session, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, d capability.Descriptor) (Session, error) {
	return f(ctx, d)
}

// WebDriverOpener opens sessions over the W3C protocol.
type WebDriverOpener struct {
	Client *webdriver.Client
}

// Open posts a new-session request to the descriptor's server.
func (o WebDriverOpener) Open(ctx context.Context, d capability.Descriptor) (Session, error) {
	if d.ServerURL == nil {
		return nil, errors.NewConfigurationError("descriptor has no server URL").WithKey(properties.KeyAppiumURL)
	}
	client := o.Client
	if client == nil {
		client = webdriver.NewClient(nil)
	}
	s, err := client.NewSession(ctx, d.ServerURL.String(), d.Capabilities())
	if err != nil {
		return nil, err
	}
	if s == nil {
		// Keep the interface nil rather than wrapping a nil pointer.
		return nil, nil
	}
	return s, nil
}

// PropertiesSource supplies the shared properties. *properties.Loader
// implements it.
type PropertiesSource interface {
	Get() (properties.Properties, error)
}

// State is the lifecycle state of a task's session slot.
type State int

const (
	StateAbsent State = iota
	StateInitializing
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateInitializing:
		return "initializing"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Deps are the collaborators of a Manager.
type Deps struct {
	Params     *params.Store
	Properties PropertiesSource
	Builder    *capability.Builder
	Opener     Opener
	Logger     *logging.Logger
	// OpenTimeout bounds the new-session request. Zero means no extra bound.
	OpenTimeout time.Duration
}

// Manager holds the session slot of one device task. It is not shared
// between tasks and is not safe for concurrent use.
type Manager struct {
	deps   Deps
	logger *logging.Logger

	state      State
	session    Session
	descriptor capability.Descriptor
}

// NewManager returns a Manager with an empty slot.
func NewManager(deps Deps) *Manager {
	if deps.Logger == nil {
		deps.Logger = logging.NopLogger()
	}
	if deps.Builder == nil {
		deps.Builder = capability.NewBuilder(capability.Settings{})
	}
	if deps.Opener == nil {
		deps.Opener = WebDriverOpener{}
	}
	return &Manager{deps: deps, logger: deps.Logger.WithComponent("driver")}
}

// Initialize opens a session unless the slot already holds an active one.
// Failures are logged at FATAL and returned unchanged; a nil or id-less
// session yields a SessionInitError. On failure the slot keeps its previous
// state.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.state == StateActive && m.session != nil {
		return nil
	}
	prev := m.state
	m.state = StateInitializing

	set := m.deps.Params.Snapshot()
	fail := func(msg string, err error) error {
		m.state = prev
		m.logger.Fatal(msg, "device", set.DeviceName, "severity", errors.GetSeverity(err).String(), "error", err.Error())
		return err
	}

	if m.deps.Properties == nil {
		return fail("failed to load properties", errors.NewConfigurationError("no properties source"))
	}
	props, err := m.deps.Properties.Get()
	if err != nil {
		return fail("failed to load properties", err)
	}

	desc, err := m.deps.Builder.Build(set, props)
	if err != nil {
		return fail("failed to build capabilities", err)
	}

	openCtx := ctx
	if m.deps.OpenTimeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, m.deps.OpenTimeout)
		defer cancel()
	}

	m.logger.Info("opening driver session",
		"server", desc.ServerURL.String(),
		"platform", string(desc.Platform()),
		"udid", set.UDID,
	)
	sess, err := m.deps.Opener.Open(openCtx, desc)
	if err != nil {
		return fail("failed to open driver session", err)
	}
	if sess == nil || sess.ID() == "" {
		return fail("failed to open driver session",
			errors.NewSessionInitError("driver session is nil", nil).WithDevice(set.DeviceName))
	}

	m.session = sess
	m.descriptor = desc
	m.state = StateActive
	m.logger.Info("driver session opened", "session_id", sess.ID())
	return nil
}

// Get returns the active session, or ErrNoSession.
func (m *Manager) Get() (Session, error) {
	if m.state != StateActive || m.session == nil {
		return nil, errors.ErrNoSession
	}
	return m.session, nil
}

// Set stores s as the task's session. A nil s empties the slot.
func (m *Manager) Set(s Session) {
	if s == nil {
		m.session = nil
		m.descriptor = capability.Descriptor{}
		m.state = StateAbsent
		return
	}
	m.session = s
	m.state = StateActive
}

// State returns the slot state.
func (m *Manager) State() State {
	return m.state
}

// Descriptor returns the descriptor the active session was opened with.
func (m *Manager) Descriptor() capability.Descriptor {
	return m.descriptor
}

// Quit ends the session, if any. A termination failure is logged and
// returned as a CleanupError; the slot is released either way.
func (m *Manager) Quit(ctx context.Context) error {
	sess := m.session
	if sess == nil {
		return nil
	}
	defer func() {
		m.session = nil
		m.descriptor = capability.Descriptor{}
		m.state = StateClosed
	}()

	if err := sess.Quit(ctx); err != nil {
		m.logger.Warn("failed to quit driver session", "session_id", sess.ID(), "error", err.Error())
		return errors.NewCleanupError("session", err)
	}
	m.logger.Info("driver session closed", "session_id", sess.ID())
	return nil
}
