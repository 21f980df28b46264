// Package properties loads the static key/value file shared by every device
// task (appiumURL, automation names, app package and bundle settings).
//
// The file is read at most once per [Loader]: the first successful load is
// cached and served lock-free afterwards. A failed load is not cached, so a
// later call retries. Keys are case-insensitive.
package properties

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	javaprops "github.com/magiconair/properties"
	"github.com/spf13/viper"

	"github.com/Iron-Ham/devicerig/internal/errors"
	"github.com/Iron-Ham/devicerig/internal/logging"
)

// Well-known keys.
const (
	KeyAppiumURL             = "appiumURL"
	KeyAndroidAutomationName = "androidAutomationName"
	KeyAndroidAppPackage     = "androidAppPackage"
	KeyAndroidAppActivity    = "androidAppActivity"
	KeyAndroidApp            = "androidApp"
	KeyIOSAutomationName     = "iOSAutomationName"
	KeyIOSBundleID           = "iOSBundleId"
	KeyIOSApp                = "iOSApp"
)

// Properties is an immutable key/value mapping.
type Properties struct {
	values map[string]string
}

// New returns Properties holding a copy of values.
func New(values map[string]string) Properties {
	m := make(map[string]string, len(values))
	for k, v := range values {
		m[strings.ToLower(k)] = v
	}
	return Properties{values: m}
}

// Get returns the value for key.
func (p Properties) Get(key string) (string, bool) {
	v, ok := p.values[strings.ToLower(key)]
	return v, ok
}

// Require returns the value for key, or a ConfigurationError when the key is
// missing or blank.
func (p Properties) Require(key string) (string, error) {
	v, ok := p.Get(key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", errors.NewConfigurationError(fmt.Sprintf("%s is not specified", key)).
			WithKey(key).
			WithCause(errors.ErrMissingProperty)
	}
	return strings.TrimSpace(v), nil
}

// Keys returns the (lower-cased) keys in sorted order.
func (p Properties) Keys() []string {
	keys := make([]string, 0, len(p.values))
	for k := range p.values {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of keys.
func (p Properties) Len() int {
	return len(p.values)
}

// Loader loads a properties file once and caches the result.
type Loader struct {
	path   string
	logger *logging.Logger

	mu     sync.Mutex
	cached atomic.Pointer[Properties]
	loads  atomic.Int32
}

// NewLoader returns a Loader for path. A nil logger discards output.
func NewLoader(path string, logger *logging.Logger) *Loader {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Loader{path: path, logger: logger.WithComponent("properties")}
}

// Path returns the file the loader reads.
func (l *Loader) Path() string {
	return l.path
}

// Get returns the cached properties, loading the file on the first call.
// Concurrent first calls perform a single load. Failures are logged at FATAL
// and returned as ConfigurationError; they are not cached.
func (l *Loader) Get() (Properties, error) {
	if p := l.cached.Load(); p != nil {
		return *p, nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if p := l.cached.Load(); p != nil {
		return *p, nil
	}

	l.loads.Add(1)
	props, err := Read(l.path)
	if err != nil {
		l.logger.Fatal("failed to load properties", "path", l.path, "error", err.Error())
		return Properties{}, err
	}

	l.cached.Store(&props)
	l.logger.Debug("properties loaded", "path", l.path, "keys", props.Len())
	return props, nil
}

// Read parses the file at path without caching. ".properties", ".props" and
// ".prop" files (or files without an extension) use Java properties syntax:
// '#' and '!' start comment lines, '=', ':' or whitespace separate key and
// value, and '#' inside a value is kept. Other extensions are decoded by
// viper according to the extension (yaml, json, toml, env).
func Read(path string) (Properties, error) {
	if path == "" {
		return Properties{}, errors.NewConfigurationError("properties file path is empty").
			WithKey("paths.properties_file")
	}

	var (
		values map[string]string
		err    error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".properties", ".props", ".prop", "":
		values, err = readJavaProperties(path)
	default:
		values, err = readViper(path)
	}
	if err != nil {
		return Properties{}, errors.NewConfigurationError("failed to read properties file").
			WithValue(path).
			WithCause(err)
	}
	if len(values) == 0 {
		return Properties{}, errors.NewConfigurationError("properties file is empty").
			WithValue(path).
			WithCause(errors.ErrMissingProperty)
	}
	return New(values), nil
}

func readJavaProperties(path string) (map[string]string, error) {
	loader := javaprops.Loader{Encoding: javaprops.UTF8, DisableExpansion: true}
	p, err := loader.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return p.Map(), nil
}

func readViper(path string) (map[string]string, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	values := make(map[string]string)
	for _, k := range v.AllKeys() {
		values[k] = v.GetString(k)
	}
	return values, nil
}
