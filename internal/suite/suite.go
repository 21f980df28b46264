// Package suite reads multi-device suite files and runs one rig task per
// device.
package suite

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/gobwas/glob"
	"gopkg.in/yaml.v3"

	"github.com/Iron-Ham/devicerig/internal/errors"
	"github.com/Iron-Ham/devicerig/internal/params"
)

// Device is one entry of a suite file. Zero ports and empty strings mean
// "not set" and fall through to the process overrides and defaults.
type Device struct {
	Name                 string `yaml:"name,omitempty"`
	PlatformName         string `yaml:"platformName,omitempty"`
	UDID                 string `yaml:"udid,omitempty"`
	DeviceName           string `yaml:"deviceName,omitempty"`
	SystemPort           int    `yaml:"systemPort,omitempty"`
	ChromeDriverPort     int    `yaml:"chromeDriverPort,omitempty"`
	WDALocalPort         int    `yaml:"wdaLocalPort,omitempty"`
	WebkitDebugProxyPort int    `yaml:"webkitDebugProxyPort,omitempty"`
}

// Label names the device in reports: Name, else DeviceName, else UDID.
func (d Device) Label() string {
	switch {
	case d.Name != "":
		return d.Name
	case d.DeviceName != "":
		return d.DeviceName
	case d.UDID != "":
		return d.UDID
	default:
		return "default"
	}
}

// Values returns the parameter values the device sets, keyed by
// params field name.
func (d Device) Values() map[string]string {
	out := make(map[string]string)
	put := func(field, v string) {
		if v != "" {
			out[field] = v
		}
	}
	port := func(field string, v int) {
		if v != 0 {
			out[field] = strconv.Itoa(v)
		}
	}
	put(params.FieldPlatformName, d.PlatformName)
	put(params.FieldUDID, d.UDID)
	put(params.FieldDeviceName, d.DeviceName)
	port(params.FieldSystemPort, d.SystemPort)
	port(params.FieldChromeDriverPort, d.ChromeDriverPort)
	port(params.FieldWDALocalPort, d.WDALocalPort)
	port(params.FieldWebkitDebugProxyPort, d.WebkitDebugProxyPort)
	return out
}

// Suite is a parsed suite file.
type Suite struct {
	Name string `yaml:"name"`
	// Parallel bounds how many devices run at once. Zero defers to config.
	Parallel int `yaml:"parallel,omitempty"`
	// Command is run once per device after its session is open.
	Command []string `yaml:"command,omitempty"`
	Devices []Device `yaml:"devices"`
}

// Load reads and validates a suite file.
func Load(path string) (*Suite, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigurationError("cannot read suite file").WithValue(path).WithCause(err)
	}
	s, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "suite %s", path)
	}
	return s, nil
}

// Parse decodes a suite document. Unknown keys are rejected.
func Parse(data []byte) (*Suite, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var s Suite
	if err := dec.Decode(&s); err != nil {
		if err == io.EOF {
			return nil, errors.NewConfigurationError("suite is empty")
		}
		return nil, errors.NewConfigurationError("invalid suite document").WithCause(err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// Validate checks the suite without touching any device.
func (s *Suite) Validate() error {
	if len(s.Devices) == 0 {
		return errors.NewConfigurationError("suite has no devices").WithKey("devices")
	}
	if s.Parallel < 0 {
		return errors.NewConfigurationError("parallel must not be negative").
			WithKey("parallel").WithValue(strconv.Itoa(s.Parallel))
	}

	seen := make(map[string]int, len(s.Devices))
	for i, d := range s.Devices {
		key := fmt.Sprintf("devices[%d]", i)
		if d.PlatformName != "" {
			if _, err := params.ParsePlatform(d.PlatformName); err != nil {
				return err
			}
		}
		for field, v := range d.Values() {
			if !params.IsPortField(field) {
				continue
			}
			if _, err := params.ParsePort(field, v); err != nil {
				return err
			}
		}
		label := d.Label()
		if j, dup := seen[label]; dup {
			return errors.NewConfigurationError(fmt.Sprintf("duplicate device %q (also devices[%d])", label, j)).WithKey(key)
		}
		seen[label] = i
	}
	return nil
}

// Filter returns the devices whose Name or DeviceName matches the glob
// pattern. An empty pattern selects every device.
func Filter(devices []Device, pattern string) ([]Device, error) {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return devices, nil
	}
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, errors.NewConfigurationError("invalid device filter").WithValue(pattern).WithCause(err)
	}

	var out []Device
	for _, d := range devices {
		if (d.Name != "" && g.Match(d.Name)) || (d.DeviceName != "" && g.Match(d.DeviceName)) {
			out = append(out, d)
		}
	}
	return out, nil
}
