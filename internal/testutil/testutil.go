// Package testutil provides testing utilities for devicerig tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
)

// SampleProperties are the properties of the sample app for both platforms,
// with appiumURL left out.
func SampleProperties() map[string]string {
	return map[string]string{
		"androidAutomationName": "UiAutomator2",
		"androidAppPackage":     "com.swaglabsmobileapp",
		"androidAppActivity":    "com.swaglabsmobileapp.MainActivity",
		"iOSAutomationName":     "XCUITest",
		"iOSBundleId":           "org.reactjs.native.example.SwagLabsMobileApp",
	}
}

// WriteProperties writes a config.properties file into a temporary
// directory. appiumURL is set to serverURL; extra entries are added last and
// win over the samples.
func WriteProperties(t *testing.T, serverURL string, extra map[string]string) string {
	t.Helper()

	values := SampleProperties()
	values["appiumURL"] = serverURL
	for k, v := range extra {
		values[k] = v
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("# generated for tests\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%s\n", k, values[k])
	}

	path := filepath.Join(t.TempDir(), "config.properties")
	if err := os.WriteFile(path, []byte(b.String()), 0644); err != nil {
		t.Fatalf("failed to write properties: %v", err)
	}
	return path
}

// OccupyPort listens on a free port for the rest of the test and returns
// it, so code under test sees an already running server.
func OccupyPort(t *testing.T) int {
	t.Helper()

	l, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	return l.Addr().(*net.TCPAddr).Port
}

// FakeAppium is an in-process stand-in for the session endpoints of an
// Appium server.
type FakeAppium struct {
	*httptest.Server

	mu       sync.Mutex
	next     int
	sessions map[string]map[string]any
	quit     []string
	// FailNewSession makes POST /session answer with a W3C error.
	FailNewSession bool
}

// NewFakeAppium starts a FakeAppium that is closed when the test ends.
func NewFakeAppium(t *testing.T) *FakeAppium {
	t.Helper()

	f := &FakeAppium{sessions: make(map[string]map[string]any)}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func (f *FakeAppium) serve(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	path := strings.TrimSuffix(r.URL.Path, "/")

	switch {
	case r.Method == http.MethodGet && path == "/status":
		writeValue(w, http.StatusOK, map[string]any{"ready": true, "build": map[string]any{"version": "2.0.0-fake"}})

	case r.Method == http.MethodPost && path == "/session":
		var body struct {
			Capabilities struct {
				AlwaysMatch map[string]any `json:"alwaysMatch"`
			} `json:"capabilities"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeValue(w, http.StatusBadRequest, map[string]any{"error": "invalid argument", "message": err.Error()})
			return
		}

		f.mu.Lock()
		fail := f.FailNewSession
		f.next++
		id := fmt.Sprintf("fake-%d", f.next)
		if !fail {
			f.sessions[id] = body.Capabilities.AlwaysMatch
		}
		f.mu.Unlock()

		if fail {
			writeValue(w, http.StatusInternalServerError, map[string]any{
				"error":   "session not created",
				"message": "fake appium refused the session",
			})
			return
		}
		writeValue(w, http.StatusOK, map[string]any{"sessionId": id, "capabilities": body.Capabilities.AlwaysMatch})

	case r.Method == http.MethodDelete && strings.HasPrefix(path, "/session/"):
		id := strings.TrimPrefix(path, "/session/")
		f.mu.Lock()
		_, ok := f.sessions[id]
		delete(f.sessions, id)
		if ok {
			f.quit = append(f.quit, id)
		}
		f.mu.Unlock()

		if !ok {
			writeValue(w, http.StatusNotFound, map[string]any{"error": "invalid session id", "message": id})
			return
		}
		writeValue(w, http.StatusOK, nil)

	default:
		writeValue(w, http.StatusNotFound, map[string]any{"error": "unknown command", "message": r.Method + " " + path})
	}
}

func writeValue(w http.ResponseWriter, status int, value any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"value": value})
}

// Open returns the capabilities of every open session, keyed by id.
func (f *FakeAppium) Open() map[string]map[string]any {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]map[string]any, len(f.sessions))
	for id, caps := range f.sessions {
		out[id] = caps
	}
	return out
}

// Quit returns the ids of the sessions deleted so far, in order.
func (f *FakeAppium) Quit() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.quit...)
}

// SkipIfNoAppium skips the test if the appium CLI is not installed.
func SkipIfNoAppium(t *testing.T) {
	t.Helper()

	if _, err := exec.LookPath("appium"); err != nil {
		t.Skip("appium not found in PATH, skipping test")
	}
}
