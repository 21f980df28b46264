package params

import (
	"fmt"
	"slices"
	"sort"
	"strconv"

	"github.com/Iron-Ham/devicerig/internal/errors"
)

// Store holds one task's parameters. A Store is owned by a single task and
// is not safe for concurrent use.
type Store struct {
	set Set
}

// NewStore returns an empty store. Call InitializeDefaults before use.
func NewStore() *Store {
	return &Store{}
}

// Snapshot returns a copy of the current parameters.
func (s *Store) Snapshot() Set {
	return s.set
}

// Platform returns the current platform, or "" before initialization.
func (s *Store) Platform() Platform {
	return s.set.Platform
}

// Get returns the value of field. ok is false for unknown fields, unset
// fields and port fields of the other platform.
func (s *Store) Get(field string) (value string, ok bool) {
	switch field {
	case FieldPlatformName:
		return string(s.set.Platform), s.set.Platform != ""
	case FieldUDID:
		return s.set.UDID, s.set.UDID != ""
	case FieldDeviceName:
		return s.set.DeviceName, s.set.DeviceName != ""
	}
	if !IsPortField(field) || s.set.Ports == nil {
		return "", false
	}
	port, ok := s.set.Ports.Fields()[field]
	if !ok || port == 0 {
		return "", false
	}
	return strconv.Itoa(port), true
}

// Set assigns a single field.
//
// Changing platformName to a different platform replaces the port block with
// the zero block of the new platform. Setting a port that belongs to the other
// platform, or any port before a platform is set, is a ConfigurationError.
func (s *Store) Set(field, value string) error {
	switch field {
	case FieldPlatformName:
		platform, err := ParsePlatform(value)
		if err != nil {
			return err
		}
		if platform != s.set.Platform {
			s.set.Platform = platform
			s.set.Ports = zeroPorts(platform)
		}
		return nil
	case FieldUDID, FieldDeviceName:
		v, err := ParseIdentifier(field, value)
		if err != nil {
			return err
		}
		if field == FieldUDID {
			s.set.UDID = v
		} else {
			s.set.DeviceName = v
		}
		return nil
	}

	if !IsPortField(field) {
		return unknownField(field)
	}
	port, err := ParsePort(field, value)
	if err != nil {
		return err
	}
	ports, err := withPort(s.set.Ports, field, port)
	if err != nil {
		return err
	}
	s.set.Ports = ports
	return nil
}

// InitializeDefaults resolves every parameter from overrides, falling back to
// the defaults, and commits the result. Only the port fields of the resolved
// platform are consulted. On error the store is left unchanged.
func (s *Store) InitializeDefaults(overrides Overrides) error {
	if overrides == nil {
		overrides = MapOverrides(nil)
	}

	set, err := resolve(Set{}, overrides, false)
	if err != nil {
		return err
	}
	s.set = set
	return nil
}

// Apply layers explicit values over the current parameters (or the defaults
// if the store is empty) and commits the result. Unlike InitializeDefaults it
// rejects unknown fields and ports of the other platform. When values change
// the platform, ports not given in values take the new platform's defaults.
// On error the store is left unchanged.
func (s *Store) Apply(values map[string]string) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !slices.Contains(Fields(), k) {
			return unknownField(k)
		}
	}

	set, err := resolve(s.set, MapOverrides(values), true)
	if err != nil {
		return err
	}
	s.set = set
	return nil
}

// resolve computes a complete Set from base and overrides without touching
// any store. strict rejects overrides for ports of the other platform.
func resolve(base Set, overrides Overrides, strict bool) (Set, error) {
	set := base

	if set.Platform == "" {
		set.Platform = DefaultPlatform
	}
	if v, ok := overrides.Lookup(FieldPlatformName); ok {
		platform, err := ParsePlatform(v)
		if err != nil {
			return Set{}, err
		}
		set.Platform = platform
	}

	var err error
	if set.UDID, err = ParseIdentifier(FieldUDID, lookupOr(overrides, FieldUDID, set.UDID, DefaultUDID)); err != nil {
		return Set{}, err
	}
	if set.DeviceName, err = ParseIdentifier(FieldDeviceName, lookupOr(overrides, FieldDeviceName, set.DeviceName, DefaultDeviceName)); err != nil {
		return Set{}, err
	}

	ports := set.Ports
	if ports == nil || ports.Platform() != set.Platform {
		ports = DefaultPorts(set.Platform)
	}
	if ports == nil {
		return Set{}, errors.NewInvalidPlatformError(string(set.Platform))
	}

	fields := make([]string, 0, len(portPlatform))
	for field := range portPlatform {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	for _, field := range fields {
		v, ok := overrides.Lookup(field)
		if !ok {
			continue
		}
		if portPlatform[field] != set.Platform {
			if strict {
				return Set{}, errors.NewConfigurationError(
					fmt.Sprintf("port does not belong to platform %s", set.Platform)).WithKey(field).WithValue(v)
			}
			continue
		}
		port, err := ParsePort(field, v)
		if err != nil {
			return Set{}, err
		}
		if ports, err = withPort(ports, field, port); err != nil {
			return Set{}, err
		}
	}

	set.Ports = ports
	return set, nil
}

func lookupOr(o Overrides, field, current, def string) string {
	if v, ok := o.Lookup(field); ok {
		return v
	}
	if current != "" {
		return current
	}
	return def
}

func unknownField(field string) error {
	return errors.NewConfigurationError("unknown parameter").WithKey(field).WithCause(errors.ErrInvalidInput)
}
