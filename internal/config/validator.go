package config

import (
	"fmt"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "server.port")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error", "fatal"}
}

const (
	maxPort       = 65535
	maxPathLength = 4096
)

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateServer()...)
	errors = append(errors, c.validatePaths()...)
	errors = append(errors, c.validateSession()...)
	errors = append(errors, c.validateSuite()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateServer() []ValidationError {
	var errors []ValidationError

	if c.Server.Port < 1 || c.Server.Port > maxPort {
		errors = append(errors, ValidationError{
			Field:   "server.port",
			Value:   c.Server.Port,
			Message: fmt.Sprintf("must be between 1 and %d", maxPort),
		})
	}

	if strings.TrimSpace(c.Server.Executable) == "" {
		errors = append(errors, ValidationError{
			Field:   "server.executable",
			Value:   c.Server.Executable,
			Message: "must not be empty",
		})
	}

	if strings.ContainsAny(c.Server.BasePath, " ?#") {
		errors = append(errors, ValidationError{
			Field:   "server.base_path",
			Value:   c.Server.BasePath,
			Message: "must be a plain URL path",
		})
	}

	if c.Server.StartTimeoutSeconds <= 0 {
		errors = append(errors, ValidationError{
			Field:   "server.start_timeout_seconds",
			Value:   c.Server.StartTimeoutSeconds,
			Message: "must be positive",
		})
	}

	if c.Server.StopTimeoutMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "server.stop_timeout_ms",
			Value:   c.Server.StopTimeoutMs,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validatePaths() []ValidationError {
	var errors []ValidationError

	paths := []struct {
		field    string
		value    string
		required bool
	}{
		{"paths.properties_file", c.Paths.PropertiesFile, true},
		{"paths.resources_dir", c.Paths.ResourcesDir, false},
		{"paths.logs_dir", c.Paths.LogsDir, false},
	}

	for _, p := range paths {
		if p.required && p.value == "" {
			errors = append(errors, ValidationError{
				Field:   p.field,
				Value:   p.value,
				Message: "must not be empty",
			})
			continue
		}
		if strings.ContainsRune(p.value, '\x00') {
			errors = append(errors, ValidationError{
				Field:   p.field,
				Value:   p.value,
				Message: "path contains invalid null character",
			})
		}
		if len(p.value) > maxPathLength {
			errors = append(errors, ValidationError{
				Field:   p.field,
				Value:   p.value,
				Message: fmt.Sprintf("path exceeds maximum length of %d characters", maxPathLength),
			})
		}
	}

	return errors
}

func (c *Config) validateSession() []ValidationError {
	var errors []ValidationError

	timeouts := []struct {
		field string
		value int
	}{
		{"session.new_command_timeout_seconds", c.Session.NewCommandTimeoutSeconds},
		{"session.avd_launch_timeout_seconds", c.Session.AvdLaunchTimeoutSeconds},
		{"session.open_timeout_seconds", c.Session.OpenTimeoutSeconds},
	}

	for _, to := range timeouts {
		if to.value <= 0 {
			errors = append(errors, ValidationError{
				Field:   to.field,
				Value:   to.value,
				Message: "must be positive",
			})
		}
	}

	return errors
}

func (c *Config) validateSuite() []ValidationError {
	var errors []ValidationError

	const maxParallel = 64
	if c.Suite.Parallel < 1 || c.Suite.Parallel > maxParallel {
		errors = append(errors, ValidationError{
			Field:   "suite.parallel",
			Value:   c.Suite.Parallel,
			Message: fmt.Sprintf("must be between 1 and %d", maxParallel),
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}
