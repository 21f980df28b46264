// Package params holds the per-task device parameters: platform, device
// identity and the platform-specific port block.
//
// Every device task owns its own [Store]; nothing in this package is shared
// between tasks. Defaults are resolved from layered [Overrides] and committed
// all at once, so a failed resolution never leaves a half-updated store.
package params

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/Iron-Ham/devicerig/internal/errors"
)

// Platform is a supported device-OS family.
type Platform string

const (
	Android Platform = "Android"
	IOS     Platform = "iOS"
)

// Platforms returns the supported platforms.
func Platforms() []Platform {
	return []Platform{Android, IOS}
}

// ParsePlatform returns the canonical Platform for s. Matching ignores case
// and surrounding whitespace ("android" and "IOS" are accepted).
func ParsePlatform(s string) (Platform, error) {
	v := strings.TrimSpace(s)
	for _, p := range Platforms() {
		if strings.EqualFold(v, string(p)) {
			return p, nil
		}
	}
	return "", errors.NewInvalidPlatformError(s)
}

// Parameter field names. These are the keys accepted by Store.Set,
// Store.Get, Store.Apply and looked up in Overrides.
const (
	FieldPlatformName         = "platformName"
	FieldUDID                 = "udid"
	FieldDeviceName           = "deviceName"
	FieldSystemPort           = "systemPort"
	FieldChromeDriverPort     = "chromeDriverPort"
	FieldWDALocalPort         = "wdaLocalPort"
	FieldWebkitDebugProxyPort = "webkitDebugProxyPort"
)

// Fields returns every parameter field name.
func Fields() []string {
	return []string{
		FieldPlatformName,
		FieldUDID,
		FieldDeviceName,
		FieldSystemPort,
		FieldChromeDriverPort,
		FieldWDALocalPort,
		FieldWebkitDebugProxyPort,
	}
}

// Default parameter values.
const (
	DefaultPlatform             = Android
	DefaultUDID                 = "emulator-5554"
	DefaultDeviceName           = "Pixel_8_API_35"
	DefaultSystemPort           = 10000
	DefaultChromeDriverPort     = 11000
	DefaultWDALocalPort         = 10001
	DefaultWebkitDebugProxyPort = 11001
)

// Ports is the platform-specific port block. It is implemented only by
// AndroidPorts and IOSPorts.
type Ports interface {
	// Platform reports which platform the ports belong to.
	Platform() Platform
	// Fields returns the port values keyed by field name.
	Fields() map[string]int
	isPorts()
}

// AndroidPorts are the UiAutomator2 local ports.
type AndroidPorts struct {
	SystemPort       int
	ChromeDriverPort int
}

func (AndroidPorts) Platform() Platform { return Android }
func (AndroidPorts) isPorts()           {}

func (p AndroidPorts) Fields() map[string]int {
	return map[string]int{
		FieldSystemPort:       p.SystemPort,
		FieldChromeDriverPort: p.ChromeDriverPort,
	}
}

// IOSPorts are the XCUITest local ports.
type IOSPorts struct {
	WDALocalPort         int
	WebkitDebugProxyPort int
}

func (IOSPorts) Platform() Platform { return IOS }
func (IOSPorts) isPorts()           {}

func (p IOSPorts) Fields() map[string]int {
	return map[string]int{
		FieldWDALocalPort:         p.WDALocalPort,
		FieldWebkitDebugProxyPort: p.WebkitDebugProxyPort,
	}
}

// DefaultPorts returns the default port block for platform, or nil for an
// unsupported platform.
func DefaultPorts(platform Platform) Ports {
	switch platform {
	case Android:
		return AndroidPorts{SystemPort: DefaultSystemPort, ChromeDriverPort: DefaultChromeDriverPort}
	case IOS:
		return IOSPorts{WDALocalPort: DefaultWDALocalPort, WebkitDebugProxyPort: DefaultWebkitDebugProxyPort}
	default:
		return nil
	}
}

func zeroPorts(platform Platform) Ports {
	switch platform {
	case Android:
		return AndroidPorts{}
	case IOS:
		return IOSPorts{}
	default:
		return nil
	}
}

// portPlatform maps a port field to the platform that owns it.
var portPlatform = map[string]Platform{
	FieldSystemPort:           Android,
	FieldChromeDriverPort:     Android,
	FieldWDALocalPort:         IOS,
	FieldWebkitDebugProxyPort: IOS,
}

// IsPortField reports whether field names a port parameter.
func IsPortField(field string) bool {
	_, ok := portPlatform[field]
	return ok
}

// withPort returns ports with field set to port. The field must belong to
// the ports' platform.
func withPort(ports Ports, field string, port int) (Ports, error) {
	switch p := ports.(type) {
	case AndroidPorts:
		switch field {
		case FieldSystemPort:
			p.SystemPort = port
			return p, nil
		case FieldChromeDriverPort:
			p.ChromeDriverPort = port
			return p, nil
		}
	case IOSPorts:
		switch field {
		case FieldWDALocalPort:
			p.WDALocalPort = port
			return p, nil
		case FieldWebkitDebugProxyPort:
			p.WebkitDebugProxyPort = port
			return p, nil
		}
	}

	platform := "unset"
	if ports != nil {
		platform = string(ports.Platform())
	}
	return nil, errors.NewConfigurationError(fmt.Sprintf("port does not belong to platform %s", platform)).
		WithKey(field)
}

// ParseIdentifier checks a udid or deviceName value. Blank values are
// rejected since the capabilities would address no device.
func ParseIdentifier(field, value string) (string, error) {
	if strings.TrimSpace(value) == "" {
		return "", errors.NewConfigurationError("value must not be empty").
			WithKey(field).
			WithValue(value).
			WithCause(errors.ErrInvalidInput)
	}
	return value, nil
}

// ParsePort parses a port override. Ports must be numeric and in 1..65535.
func ParsePort(field, value string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return 0, errors.NewConfigurationError("port must be numeric").
			WithKey(field).
			WithValue(value).
			WithCause(errors.ErrInvalidInput)
	}
	if port < 1 || port > 65535 {
		return 0, errors.NewConfigurationError("port must be between 1 and 65535").
			WithKey(field).
			WithValue(value).
			WithCause(errors.ErrInvalidInput)
	}
	return port, nil
}

// Set is a snapshot of one task's parameters. Ports always matches Platform
// once the set has been resolved.
type Set struct {
	Platform   Platform
	UDID       string
	DeviceName string
	Ports      Ports
}

// RoutingKey identifies the task in logs and log directories:
// "<platform>_<device>".
func (s Set) RoutingKey() string {
	return string(s.Platform) + "_" + s.DeviceName
}

// Values returns every populated field as strings, keyed by field name.
func (s Set) Values() map[string]string {
	out := make(map[string]string, 5)
	if s.Platform != "" {
		out[FieldPlatformName] = string(s.Platform)
	}
	if s.UDID != "" {
		out[FieldUDID] = s.UDID
	}
	if s.DeviceName != "" {
		out[FieldDeviceName] = s.DeviceName
	}
	if s.Ports != nil {
		for k, v := range s.Ports.Fields() {
			out[k] = strconv.Itoa(v)
		}
	}
	return out
}
