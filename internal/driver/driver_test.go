package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Iron-Ham/devicerig/internal/capability"
	"github.com/Iron-Ham/devicerig/internal/errors"
	"github.com/Iron-Ham/devicerig/internal/logging"
	"github.com/Iron-Ham/devicerig/internal/params"
	"github.com/Iron-Ham/devicerig/internal/properties"
	"github.com/Iron-Ham/devicerig/internal/webdriver"
)

type fakeSession struct {
	id      string
	quitErr error
	quits   int
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Quit(context.Context) error {
	s.quits++
	return s.quitErr
}

type staticProps struct {
	props properties.Properties
	err   error
	calls int
}

func (p *staticProps) Get() (properties.Properties, error) {
	p.calls++
	return p.props, p.err
}

func androidProps(url string) *staticProps {
	return &staticProps{props: properties.New(map[string]string{
		properties.KeyAppiumURL:             url,
		properties.KeyAndroidAutomationName: "UiAutomator2",
		properties.KeyAndroidAppPackage:     "com.swaglabsmobileapp",
		properties.KeyAndroidAppActivity:    "com.swaglabsmobileapp.MainActivity",
	})}
}

func defaultStore(t *testing.T) *params.Store {
	t.Helper()
	s := params.NewStore()
	if err := s.InitializeDefaults(nil); err != nil {
		t.Fatalf("InitializeDefaults() error = %v", err)
	}
	return s
}

func TestManager_InitializeAndQuit(t *testing.T) {
	sess := &fakeSession{id: "s-1"}
	var got capability.Descriptor
	opens := 0
	m := NewManager(Deps{
		Params:     defaultStore(t),
		Properties: androidProps("http://127.0.0.1:4723"),
		Opener: OpenerFunc(func(_ context.Context, d capability.Descriptor) (Session, error) {
			opens++
			got = d
			return sess, nil
		}),
	})

	if m.State() != StateAbsent {
		t.Fatalf("initial State() = %v, want absent", m.State())
	}
	if _, err := m.Get(); !errors.Is(err, errors.ErrNoSession) {
		t.Errorf("Get() before init = %v, want ErrNoSession", err)
	}

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if m.State() != StateActive {
		t.Errorf("State() = %v, want active", m.State())
	}
	if got.Platform() != params.Android {
		t.Errorf("descriptor platform = %q", got.Platform())
	}
	if udid := got.Capabilities()["appium:udid"]; udid != params.DefaultUDID {
		t.Errorf("descriptor udid = %v", udid)
	}

	// Second call sees the stored slot and does nothing.
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("second Initialize() error = %v", err)
	}
	if opens != 1 {
		t.Errorf("opener called %d times, want 1", opens)
	}

	s, err := m.Get()
	if err != nil || s != sess {
		t.Fatalf("Get() = %v, %v", s, err)
	}

	if err := m.Quit(context.Background()); err != nil {
		t.Fatalf("Quit() error = %v", err)
	}
	if m.State() != StateClosed {
		t.Errorf("State() after Quit = %v, want closed", m.State())
	}
	if _, err := m.Get(); !errors.Is(err, errors.ErrNoSession) {
		t.Errorf("Get() after Quit = %v, want ErrNoSession", err)
	}
	if err := m.Quit(context.Background()); err != nil {
		t.Errorf("second Quit() = %v, want nil", err)
	}
	if sess.quits != 1 {
		t.Errorf("session quit %d times, want 1", sess.quits)
	}

	// Closed is a valid starting point.
	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() after close error = %v", err)
	}
	if opens != 2 {
		t.Errorf("opener called %d times, want 2", opens)
	}
}

func TestManager_InitializeFailures(t *testing.T) {
	ioErr := fmt.Errorf("connection refused")
	okOpener := OpenerFunc(func(context.Context, capability.Descriptor) (Session, error) {
		return &fakeSession{id: "x"}, nil
	})

	tests := []struct {
		name    string
		props   *staticProps
		opener  Opener
		wantErr error
	}{
		{
			name:    "properties unreadable",
			props:   &staticProps{err: errors.NewConfigurationError("cannot read properties file")},
			opener:  okOpener,
			wantErr: errors.ErrConfiguration,
		},
		{
			name:    "required property missing",
			props:   &staticProps{props: properties.New(map[string]string{properties.KeyAppiumURL: "http://h:1"})},
			opener:  okOpener,
			wantErr: errors.ErrMissingProperty,
		},
		{
			name:  "transport error is returned unchanged",
			props: androidProps("http://127.0.0.1:4723"),
			opener: OpenerFunc(func(context.Context, capability.Descriptor) (Session, error) {
				return nil, ioErr
			}),
			wantErr: ioErr,
		},
		{
			name:  "nil session",
			props: androidProps("http://127.0.0.1:4723"),
			opener: OpenerFunc(func(context.Context, capability.Descriptor) (Session, error) {
				return nil, nil
			}),
			wantErr: errors.ErrSessionInit,
		},
		{
			name:  "session without id",
			props: androidProps("http://127.0.0.1:4723"),
			opener: OpenerFunc(func(context.Context, capability.Descriptor) (Session, error) {
				return &fakeSession{}, nil
			}),
			wantErr: errors.ErrSessionInit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var logs bytes.Buffer
			m := NewManager(Deps{
				Params:     defaultStore(t),
				Properties: tt.props,
				Opener:     tt.opener,
				Logger:     logging.NewWriterLogger(&logs, logging.LevelDebug),
			})

			err := m.Initialize(context.Background())
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Initialize() error = %v, want %v", err, tt.wantErr)
			}
			if m.State() != StateAbsent {
				t.Errorf("State() after failure = %v, want absent", m.State())
			}
			if !strings.Contains(logs.String(), `"level":"FATAL"`) {
				t.Errorf("failure should be logged at FATAL, got %s", logs.String())
			}
		})
	}
}

func TestManager_QuitFailureIsCleanupError(t *testing.T) {
	m := NewManager(Deps{Params: defaultStore(t)})
	m.Set(&fakeSession{id: "s-2", quitErr: fmt.Errorf("session already gone")})

	err := m.Quit(context.Background())
	if !errors.IsCleanup(err) {
		t.Fatalf("Quit() error = %v, want CleanupError", err)
	}
	if errors.IsFatal(err) {
		t.Error("cleanup failures must not be fatal")
	}
	if m.State() != StateClosed {
		t.Errorf("State() = %v, want closed", m.State())
	}
	if _, err := m.Get(); err == nil {
		t.Error("slot should be released after a failed quit")
	}
}

func TestManager_Set(t *testing.T) {
	m := NewManager(Deps{Params: defaultStore(t)})

	sess := &fakeSession{id: "external"}
	m.Set(sess)
	if got, err := m.Get(); err != nil || got != sess {
		t.Errorf("Get() after Set = %v, %v", got, err)
	}

	m.Set(nil)
	if m.State() != StateAbsent {
		t.Errorf("Set(nil) State() = %v, want absent", m.State())
	}
}

func TestState_String(t *testing.T) {
	tests := map[State]string{
		StateAbsent:       "absent",
		StateInitializing: "initializing",
		StateActive:       "active",
		StateClosed:       "closed",
		State(42):         "unknown",
	}
	for s, want := range tests {
		if s.String() != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), s.String(), want)
		}
	}
}

func TestWebDriverOpener(t *testing.T) {
	var body webdriver.NewSessionRequest
	deleted := ""
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			_ = json.NewDecoder(r.Body).Decode(&body)
			_, _ = w.Write([]byte(`{"value":{"sessionId":"wd-9","capabilities":{}}}`))
		case http.MethodDelete:
			deleted = r.URL.Path
			_, _ = w.Write([]byte(`{"value":null}`))
		}
	}))
	defer srv.Close()

	m := NewManager(Deps{
		Params:     defaultStore(t),
		Properties: androidProps(srv.URL),
		Opener:     WebDriverOpener{Client: webdriver.NewClient(srv.Client())},
	})

	if err := m.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if got := body.Capabilities.AlwaysMatch["appium:deviceName"]; got != params.DefaultDeviceName {
		t.Errorf("deviceName sent = %v", got)
	}
	if err := m.Quit(context.Background()); err != nil {
		t.Fatalf("Quit() error = %v", err)
	}
	if deleted != "/session/wd-9" {
		t.Errorf("DELETE path = %q", deleted)
	}
}

func TestWebDriverOpener_NoServerURL(t *testing.T) {
	s, err := WebDriverOpener{}.Open(context.Background(), capability.Descriptor{})
	if err == nil || s != nil {
		t.Errorf("Open() = %v, %v; want configuration error", s, err)
	}
}
