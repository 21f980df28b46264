// Package errors provides centralized error definitions and error handling utilities
// for devicerig. It defines the error taxonomy of the session and server lifecycle,
// error constructors with context, and error classification helpers.
//
// # Error Types
//
// Setup-phase errors abort the calling task's setup and are fatal for that task:
//   - ConfigurationError: a required property or override is missing or invalid
//   - InvalidPlatformError: the platform value is not supported (also a ConfigurationError)
//   - ServerStartError: the local Appium server did not reach a running state
//   - SessionInitError: opening the driver session yielded no usable handle
//
// Teardown-phase errors are reported but never propagated:
//   - CleanupError: closing the session or stopping the server failed
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewConfigurationError("appium URL is not specified").WithKey("appiumURL")
//	err := errors.NewInvalidPlatformError("Windows98")
//	err := errors.NewServerStartError("server did not report running", cause).WithPort(4723)
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrConfiguration) { ... }
//
//	var platformErr *errors.InvalidPlatformError
//	if errors.As(err, &platformErr) { ... }
//
//	if errors.IsFatal(err) { ... }
//
// There are no retries: every failure is signaled once and the caller decides
// whether to rerun the whole task.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// Severity represents the severity level of an error.
type Severity int

const (
	// SeverityDebug is for errors that are useful for debugging but not critical.
	SeverityDebug Severity = iota
	// SeverityInfo is for informational errors that don't indicate a problem.
	SeverityInfo
	// SeverityWarning is for errors that might indicate a problem but aren't critical.
	SeverityWarning
	// SeverityError is for errors that indicate a real problem.
	SeverityError
	// SeverityCritical is for errors that abort the task's setup.
	SeverityCritical
)

// String returns the string representation of the severity level.
func (s Severity) String() string {
	switch s {
	case SeverityDebug:
		return "debug"
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Configuration sentinel errors
var (
	// ErrConfiguration indicates a missing or invalid configuration value.
	ErrConfiguration = New("invalid configuration")
	// ErrInvalidPlatform indicates an unsupported platform name.
	ErrInvalidPlatform = New("invalid platform name")
	// ErrMissingProperty indicates that a required property key is absent or empty.
	ErrMissingProperty = New("required property missing")
)

// Server sentinel errors
var (
	// ErrServerNotRunning indicates that the Appium server did not reach a running state.
	ErrServerNotRunning = New("appium server not running")
)

// Session sentinel errors
var (
	// ErrSessionInit indicates that opening a driver session yielded no usable handle.
	ErrSessionInit = New("driver session initialization failed")
	// ErrNoSession indicates use of an absent or closed driver session.
	ErrNoSession = New("no driver session for this task")
)

// General sentinel errors
var (
	// ErrCleanup indicates that a teardown step failed.
	ErrCleanup = New("cleanup failed")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Interface
// -----------------------------------------------------------------------------

// RigError is the base interface for all devicerig errors.
// It extends the standard error interface with additional methods for
// error handling and classification.
type RigError interface {
	error

	// Unwrap returns the underlying error, if any.
	Unwrap() error

	// Is reports whether this error matches the target error.
	// This is used by errors.Is() for error comparison.
	Is(target error) bool

	// Severity returns the severity level of this error.
	Severity() Severity
}

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message  string
	cause    error
	severity Severity
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// Severity returns the error severity.
func (e *baseError) Severity() Severity {
	return e.severity
}

// format renders "<kind> [k=v, ...]: message: cause".
func (e *baseError) format(kind string, parts []string) string {
	prefix := kind
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", kind, strings.Join(parts, ", "))
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.message)
}

// -----------------------------------------------------------------------------
// Setup Errors
// -----------------------------------------------------------------------------

// ConfigurationError represents a required property or override that is missing
// or invalid.
//
// Example:
//
//	err := errors.NewConfigurationError("port must be numeric").WithKey("systemPort").WithValue("abc")
//	fmt.Println(err) // "configuration error [key=systemPort, value=abc]: port must be numeric"
type ConfigurationError struct {
	baseError
	Key   string
	Value string
}

// NewConfigurationError creates a new ConfigurationError.
func NewConfigurationError(message string) *ConfigurationError {
	return &ConfigurationError{
		baseError: baseError{
			message:  message,
			severity: SeverityCritical,
		},
	}
}

// WithKey adds the offending key or field name to the error context.
func (e *ConfigurationError) WithKey(key string) *ConfigurationError {
	e.Key = key
	return e
}

// WithValue adds the offending value to the error context.
func (e *ConfigurationError) WithValue(value string) *ConfigurationError {
	e.Value = value
	return e
}

// WithCause adds a cause to the error.
func (e *ConfigurationError) WithCause(cause error) *ConfigurationError {
	e.cause = cause
	return e
}

// Error returns the formatted error message.
func (e *ConfigurationError) Error() string {
	var parts []string
	if e.Key != "" {
		parts = append(parts, fmt.Sprintf("key=%s", e.Key))
	}
	if e.Value != "" {
		parts = append(parts, fmt.Sprintf("value=%s", e.Value))
	}
	return e.format("configuration error", parts)
}

// Is checks if this error matches the target.
func (e *ConfigurationError) Is(target error) bool {
	if _, ok := target.(*ConfigurationError); ok {
		return true
	}
	if target == ErrConfiguration {
		return true
	}
	return e.baseError.Is(target)
}

// InvalidPlatformError represents an unsupported platform value. It matches
// both ErrInvalidPlatform and the ConfigurationError class.
//
// Example:
//
//	err := errors.NewInvalidPlatformError("Windows98")
//	fmt.Println(err) // "invalid platform error [platform=Windows98]: invalid platform name"
type InvalidPlatformError struct {
	baseError
	Platform string
}

// NewInvalidPlatformError creates a new InvalidPlatformError.
func NewInvalidPlatformError(platform string) *InvalidPlatformError {
	return &InvalidPlatformError{
		baseError: baseError{
			message:  "invalid platform name",
			severity: SeverityCritical,
		},
		Platform: platform,
	}
}

// Error returns the formatted error message.
func (e *InvalidPlatformError) Error() string {
	var parts []string
	if e.Platform != "" {
		parts = append(parts, fmt.Sprintf("platform=%s", e.Platform))
	}
	return e.format("invalid platform error", parts)
}

// Is checks if this error matches the target.
func (e *InvalidPlatformError) Is(target error) bool {
	switch target.(type) {
	case *InvalidPlatformError, *ConfigurationError:
		return true
	}
	if target == ErrInvalidPlatform || target == ErrConfiguration {
		return true
	}
	return e.baseError.Is(target)
}

// ServerStartError represents a local Appium server that did not reach a
// running state.
//
// Example:
//
//	err := errors.NewServerStartError("server did not answer /status", cause).WithPort(4723)
type ServerStartError struct {
	baseError
	Port       int
	Executable string
}

// NewServerStartError creates a new ServerStartError.
func NewServerStartError(message string, cause error) *ServerStartError {
	return &ServerStartError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityCritical,
		},
	}
}

// WithPort adds the server port to the error context.
func (e *ServerStartError) WithPort(port int) *ServerStartError {
	e.Port = port
	return e
}

// WithExecutable adds the server executable to the error context.
func (e *ServerStartError) WithExecutable(executable string) *ServerStartError {
	e.Executable = executable
	return e
}

// Error returns the formatted error message.
func (e *ServerStartError) Error() string {
	var parts []string
	if e.Port > 0 {
		parts = append(parts, fmt.Sprintf("port=%d", e.Port))
	}
	if e.Executable != "" {
		parts = append(parts, fmt.Sprintf("exec=%s", e.Executable))
	}
	return e.format("server start error", parts)
}

// Is checks if this error matches the target.
func (e *ServerStartError) Is(target error) bool {
	if _, ok := target.(*ServerStartError); ok {
		return true
	}
	if target == ErrServerNotRunning {
		return true
	}
	return e.baseError.Is(target)
}

// SessionInitError represents a driver session that could not be opened.
//
// Example:
//
//	err := errors.NewSessionInitError("driver is nil", nil).WithDevice("Pixel_8_API_35")
type SessionInitError struct {
	baseError
	Device string
}

// NewSessionInitError creates a new SessionInitError.
func NewSessionInitError(message string, cause error) *SessionInitError {
	return &SessionInitError{
		baseError: baseError{
			message:  message,
			cause:    cause,
			severity: SeverityCritical,
		},
	}
}

// WithDevice adds the device name to the error context.
func (e *SessionInitError) WithDevice(device string) *SessionInitError {
	e.Device = device
	return e
}

// Error returns the formatted error message.
func (e *SessionInitError) Error() string {
	var parts []string
	if e.Device != "" {
		parts = append(parts, fmt.Sprintf("device=%s", e.Device))
	}
	return e.format("session init error", parts)
}

// Is checks if this error matches the target.
func (e *SessionInitError) Is(target error) bool {
	if _, ok := target.(*SessionInitError); ok {
		return true
	}
	if target == ErrSessionInit {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Teardown Errors
// -----------------------------------------------------------------------------

// CleanupError represents a failed teardown step. It is logged and collected,
// never propagated to the caller of teardown.
//
// Example:
//
//	err := errors.NewCleanupError("session", cause)
//	fmt.Println(err) // "cleanup error [step=session]: cleanup failed: <cause>"
type CleanupError struct {
	baseError
	Step string
}

// NewCleanupError creates a new CleanupError for the named teardown step.
func NewCleanupError(step string, cause error) *CleanupError {
	return &CleanupError{
		baseError: baseError{
			message:  "cleanup failed",
			cause:    cause,
			severity: SeverityWarning,
		},
		Step: step,
	}
}

// Error returns the formatted error message.
func (e *CleanupError) Error() string {
	var parts []string
	if e.Step != "" {
		parts = append(parts, fmt.Sprintf("step=%s", e.Step))
	}
	return e.format("cleanup error", parts)
}

// Is checks if this error matches the target.
func (e *CleanupError) Is(target error) bool {
	if _, ok := target.(*CleanupError); ok {
		return true
	}
	if target == ErrCleanup {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Error Classification Helpers
// -----------------------------------------------------------------------------

// GetSeverity returns the severity level of the error.
// Returns SeverityError for errors that don't implement RigError.
func GetSeverity(err error) Severity {
	if err == nil {
		return SeverityDebug
	}

	var rigErr RigError
	if As(err, &rigErr) {
		return rigErr.Severity()
	}

	return SeverityError
}

// IsFatal returns true if the error aborts the task's setup: configuration,
// platform, server start and session init errors.
func IsFatal(err error) bool {
	return GetSeverity(err) == SeverityCritical
}

// IsCleanup returns true if the error is (or wraps) a CleanupError.
func IsCleanup(err error) bool {
	var cleanupErr *CleanupError
	return As(err, &cleanupErr)
}

// -----------------------------------------------------------------------------
// Convenience Constructors
// -----------------------------------------------------------------------------

// Wrap wraps an error with additional context message.
// Unlike fmt.Errorf with %w, this returns nil for a nil error.
//
// Example:
//
//	err := errors.Wrap(baseErr, "failed to read suite")
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with a formatted context message.
//
// Example:
//
//	err := errors.Wrapf(baseErr, "failed to start device %s", name)
func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}
