package params

import (
	"os"
	"strings"
)

// Overrides supplies parameter values that take precedence over defaults.
// Lookup reports ok=false for keys it has no value for; empty values count
// as absent.
type Overrides interface {
	Lookup(field string) (string, bool)
}

// OverridesFunc adapts a function to Overrides.
type OverridesFunc func(field string) (string, bool)

func (f OverridesFunc) Lookup(field string) (string, bool) {
	v, ok := f(field)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// MapOverrides looks values up in a map keyed by field name.
type MapOverrides map[string]string

func (m MapOverrides) Lookup(field string) (string, bool) {
	v, ok := m[field]
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// envNames maps field names to their environment variable suffixes.
var envNames = map[string]string{
	FieldPlatformName:         "PLATFORM_NAME",
	FieldUDID:                 "UDID",
	FieldDeviceName:           "DEVICE_NAME",
	FieldSystemPort:           "SYSTEM_PORT",
	FieldChromeDriverPort:     "CHROME_DRIVER_PORT",
	FieldWDALocalPort:         "WDA_LOCAL_PORT",
	FieldWebkitDebugProxyPort: "WEBKIT_DEBUG_PROXY_PORT",
}

// DefaultEnvPrefix is the prefix EnvOverrides uses when Prefix is empty.
const DefaultEnvPrefix = "DEVICERIG"

// EnvOverrides reads process environment variables such as
// DEVICERIG_PLATFORM_NAME and DEVICERIG_SYSTEM_PORT.
type EnvOverrides struct {
	// Prefix defaults to DEVICERIG.
	Prefix string
	// LookupEnv defaults to os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// EnvName returns the environment variable consulted for field.
func (e EnvOverrides) EnvName(field string) string {
	prefix := e.Prefix
	if prefix == "" {
		prefix = DefaultEnvPrefix
	}
	name, ok := envNames[field]
	if !ok {
		return ""
	}
	return prefix + "_" + name
}

func (e EnvOverrides) Lookup(field string) (string, bool) {
	name := e.EnvName(field)
	if name == "" {
		return "", false
	}
	lookup := e.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}
	v, ok := lookup(name)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return v, true
}

// Chain consults each source in order; the first hit wins.
type Chain []Overrides

func (c Chain) Lookup(field string) (string, bool) {
	for _, o := range c {
		if o == nil {
			continue
		}
		if v, ok := o.Lookup(field); ok {
			return v, true
		}
	}
	return "", false
}
