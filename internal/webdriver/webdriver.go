// Package webdriver is a minimal W3C WebDriver client covering the session
// lifecycle endpoints an Appium server exposes: POST /session,
// DELETE /session/{id} and GET /status.
package webdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultTimeout bounds requests made by a Client created with a nil
// http.Client. New-session requests can take minutes while an emulator boots.
const DefaultTimeout = 10 * time.Minute

// Capability is one set of W3C capabilities.
type Capability map[string]any

// Capabilities is the W3C capability negotiation block.
type Capabilities struct {
	AlwaysMatch Capability   `json:"alwaysMatch"`
	FirstMatch  []Capability `json:"firstMatch,omitempty"`
}

// NewSessionRequest is the body of POST /session.
type NewSessionRequest struct {
	Capabilities Capabilities `json:"capabilities"`
}

// response is the envelope of every WebDriver response. SessionID is set
// at the top level by servers still speaking the legacy JSON wire protocol.
type response struct {
	Value     json.RawMessage `json:"value"`
	SessionID string          `json:"sessionId,omitempty"`
}

type newSessionValue struct {
	SessionID    string         `json:"sessionId"`
	Capabilities map[string]any `json:"capabilities"`
}

// Error is a W3C error response.
type Error struct {
	StatusCode int    `json:"-"`
	Code       string `json:"error"`
	Message    string `json:"message"`
	Stacktrace string `json:"stacktrace,omitempty"`
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("webdriver: %s (HTTP %d)", e.Code, e.StatusCode)
	}
	return fmt.Sprintf("webdriver: %s: %s (HTTP %d)", e.Code, e.Message, e.StatusCode)
}

// Status is the value of GET /status.
type Status struct {
	Ready   bool           `json:"ready"`
	Message string         `json:"message,omitempty"`
	Build   map[string]any `json:"build,omitempty"`
}

// Client talks to WebDriver servers. It is safe for concurrent use.
type Client struct {
	http *http.Client
}

// NewClient returns a Client using httpClient, or a client with
// DefaultTimeout when httpClient is nil.
func NewClient(httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	return &Client{http: httpClient}
}

// Session is a live WebDriver session.
type Session struct {
	id           string
	serverURL    string
	capabilities map[string]any
	client       *Client
}

// ID returns the server-assigned session id.
func (s *Session) ID() string { return s.id }

// ServerURL returns the base URL the session was opened against.
func (s *Session) ServerURL() string { return s.serverURL }

// Capabilities returns the capabilities the server reported for the session.
func (s *Session) Capabilities() map[string]any { return s.capabilities }

// NewSession opens a session on the server at serverURL with caps as
// alwaysMatch. A server that answers without a session id yields a Session
// with an empty ID; callers decide how to treat it.
func (c *Client) NewSession(ctx context.Context, serverURL string, caps map[string]any) (*Session, error) {
	body := NewSessionRequest{
		Capabilities: Capabilities{
			AlwaysMatch: caps,
			FirstMatch:  []Capability{{}},
		},
	}

	resp, err := c.do(ctx, http.MethodPost, joinURL(serverURL, "session"), body)
	if err != nil {
		return nil, err
	}

	var v newSessionValue
	if len(resp.Value) > 0 && string(resp.Value) != "null" {
		if err := json.Unmarshal(resp.Value, &v); err != nil {
			return nil, fmt.Errorf("webdriver: decode new session value: %w", err)
		}
	}
	if v.SessionID == "" {
		v.SessionID = resp.SessionID
	}

	return &Session{
		id:           v.SessionID,
		serverURL:    strings.TrimRight(serverURL, "/"),
		capabilities: v.Capabilities,
		client:       c,
	}, nil
}

// Quit deletes the session on the server.
func (s *Session) Quit(ctx context.Context) error {
	if s.id == "" {
		return fmt.Errorf("webdriver: quit: session has no id")
	}
	_, err := s.client.do(ctx, http.MethodDelete, joinURL(s.serverURL, "session", url.PathEscape(s.id)), nil)
	return err
}

// Status queries GET /status. Servers that omit "ready" (Appium 1) are
// treated as ready when they answer successfully.
func (c *Client) Status(ctx context.Context, serverURL string) (Status, error) {
	resp, err := c.do(ctx, http.MethodGet, joinURL(serverURL, "status"), nil)
	if err != nil {
		return Status{}, err
	}

	var raw struct {
		Ready   *bool          `json:"ready"`
		Message string         `json:"message"`
		Build   map[string]any `json:"build"`
	}
	if len(resp.Value) > 0 && string(resp.Value) != "null" {
		if err := json.Unmarshal(resp.Value, &raw); err != nil {
			return Status{}, fmt.Errorf("webdriver: decode status: %w", err)
		}
	}

	st := Status{Ready: true, Message: raw.Message, Build: raw.Build}
	if raw.Ready != nil {
		st.Ready = *raw.Ready
	}
	return st, nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any) (*response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("webdriver: encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("webdriver: build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("webdriver: %s %s: %w", method, endpoint, err)
	}
	defer func() { _ = res.Body.Close() }()

	data, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, fmt.Errorf("webdriver: read response: %w", err)
	}

	if res.StatusCode >= 400 {
		return nil, decodeError(res.StatusCode, data)
	}

	var out response
	if len(bytes.TrimSpace(data)) == 0 {
		return &out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("webdriver: decode response: %w", err)
	}
	return &out, nil
}

func decodeError(status int, data []byte) error {
	e := &Error{StatusCode: status}

	var env response
	if json.Unmarshal(data, &env) == nil && len(env.Value) > 0 {
		_ = json.Unmarshal(env.Value, e)
	}
	if e.Code == "" {
		e.Code = "unknown error"
		if e.Message == "" {
			e.Message = strings.TrimSpace(string(data))
		}
	}
	return e
}

func joinURL(base string, parts ...string) string {
	return strings.TrimRight(base, "/") + "/" + strings.Join(parts, "/")
}
