// Package capability turns a task's parameters and the shared properties
// into the session capabilities sent to the Appium server.
package capability

import (
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/Iron-Ham/devicerig/internal/errors"
	"github.com/Iron-Ham/devicerig/internal/params"
	"github.com/Iron-Ham/devicerig/internal/properties"
)

// Bundled app binaries, resolved against Settings.ResourcesDir unless the
// androidApp / iOSApp property overrides them.
const (
	AndroidAppFile = "Android.SauceLabs.Mobile.Sample.app.2.7.1.apk"
	IOSAppFile     = "SwagLabsMobileApp.app"
)

// Automation engine names used when the properties leave them out.
const (
	UiAutomator2 = "UiAutomator2"
	XCUITest     = "XCUITest"
)

// VendorPrefix marks non-standard W3C capabilities.
const VendorPrefix = "appium:"

// Settings are the builder inputs that come from the rig configuration
// rather than from the task parameters.
type Settings struct {
	ResourcesDir      string
	NewCommandTimeout time.Duration
	AvdLaunchTimeout  time.Duration
}

// DefaultSettings mirrors the config defaults.
func DefaultSettings() Settings {
	return Settings{
		ResourcesDir:      filepath.Join("src", "test", "resources", "app"),
		NewCommandTimeout: 560 * time.Second,
		AvdLaunchTimeout:  660 * time.Second,
	}
}

// Options is the platform-specific half of a Descriptor. It is implemented
// only by UiAutomator2Options and XCUITestOptions.
type Options interface {
	Platform() params.Platform
	capabilities() map[string]any
}

// UiAutomator2Options are the Android session options.
type UiAutomator2Options struct {
	UDID              string
	DeviceName        string
	AutomationName    string
	AppPackage        string
	AppActivity       string
	App               string
	NewCommandTimeout time.Duration
	AVD               string
	AvdLaunchTimeout  time.Duration
	SystemPort        int
	ChromedriverPort  int
}

func (UiAutomator2Options) Platform() params.Platform { return params.Android }

func (o UiAutomator2Options) capabilities() map[string]any {
	return map[string]any{
		"platformName":                     string(params.Android),
		VendorPrefix + "udid":              o.UDID,
		VendorPrefix + "deviceName":        o.DeviceName,
		VendorPrefix + "automationName":    o.AutomationName,
		VendorPrefix + "appPackage":        o.AppPackage,
		VendorPrefix + "appActivity":       o.AppActivity,
		VendorPrefix + "app":               o.App,
		VendorPrefix + "newCommandTimeout": int(o.NewCommandTimeout / time.Second),
		VendorPrefix + "avd":               o.AVD,
		VendorPrefix + "avdLaunchTimeout":  int(o.AvdLaunchTimeout / time.Millisecond),
		VendorPrefix + "systemPort":        o.SystemPort,
		VendorPrefix + "chromedriverPort":  o.ChromedriverPort,
	}
}

// XCUITestOptions are the iOS session options.
type XCUITestOptions struct {
	UDID                 string
	DeviceName           string
	AutomationName       string
	App                  string
	BundleID             string
	WDALocalPort         int
	WebkitDebugProxyPort int
}

func (XCUITestOptions) Platform() params.Platform { return params.IOS }

func (o XCUITestOptions) capabilities() map[string]any {
	return map[string]any{
		"platformName":                        string(params.IOS),
		VendorPrefix + "udid":                 o.UDID,
		VendorPrefix + "deviceName":           o.DeviceName,
		VendorPrefix + "automationName":       o.AutomationName,
		VendorPrefix + "app":                  o.App,
		VendorPrefix + "bundleId":             o.BundleID,
		VendorPrefix + "wdaLocalPort":         o.WDALocalPort,
		VendorPrefix + "webkitDebugProxyPort": o.WebkitDebugProxyPort,
	}
}

// Descriptor is the complete description of a session to open.
type Descriptor struct {
	ServerURL *url.URL
	Options   Options
}

// Platform returns the platform the descriptor targets.
func (d Descriptor) Platform() params.Platform {
	if d.Options == nil {
		return ""
	}
	return d.Options.Platform()
}

// Capabilities renders the W3C capabilities: platformName unprefixed,
// everything else under the appium: vendor prefix.
func (d Descriptor) Capabilities() map[string]any {
	if d.Options == nil {
		return map[string]any{}
	}
	return d.Options.capabilities()
}

// Builder builds descriptors. It holds no per-task state and may be shared.
type Builder struct {
	settings Settings
}

// NewBuilder returns a Builder. Zero settings fields take their defaults.
func NewBuilder(settings Settings) *Builder {
	def := DefaultSettings()
	if settings.ResourcesDir == "" {
		settings.ResourcesDir = def.ResourcesDir
	}
	if settings.NewCommandTimeout <= 0 {
		settings.NewCommandTimeout = def.NewCommandTimeout
	}
	if settings.AvdLaunchTimeout <= 0 {
		settings.AvdLaunchTimeout = def.AvdLaunchTimeout
	}
	return &Builder{settings: settings}
}

// Build returns the descriptor for set. Every required property is checked
// before any option is filled in, so on error no partial descriptor exists.
// A port block that does not match a supported platform yields an
// InvalidPlatformError.
func (b *Builder) Build(set params.Set, props properties.Properties) (Descriptor, error) {
	serverURL, err := ParseServerURL(props)
	if err != nil {
		return Descriptor{}, err
	}

	if set.Ports == nil || set.Ports.Platform() != set.Platform {
		return Descriptor{}, errors.NewInvalidPlatformError(string(set.Platform))
	}
	if _, err := params.ParseIdentifier(params.FieldUDID, set.UDID); err != nil {
		return Descriptor{}, err
	}
	if _, err := params.ParseIdentifier(params.FieldDeviceName, set.DeviceName); err != nil {
		return Descriptor{}, err
	}

	var opts Options
	switch ports := set.Ports.(type) {
	case params.AndroidPorts:
		opts, err = b.android(set, ports, props)
	case params.IOSPorts:
		opts, err = b.ios(set, ports, props)
	default:
		return Descriptor{}, errors.NewInvalidPlatformError(string(set.Platform))
	}
	if err != nil {
		return Descriptor{}, err
	}

	return Descriptor{ServerURL: serverURL, Options: opts}, nil
}

func (b *Builder) android(set params.Set, ports params.AndroidPorts, props properties.Properties) (Options, error) {
	automation, err := props.Require(properties.KeyAndroidAutomationName)
	if err != nil {
		return nil, err
	}
	pkg, err := props.Require(properties.KeyAndroidAppPackage)
	if err != nil {
		return nil, err
	}
	activity, err := props.Require(properties.KeyAndroidAppActivity)
	if err != nil {
		return nil, err
	}
	app, err := b.appPath(props, properties.KeyAndroidApp, AndroidAppFile)
	if err != nil {
		return nil, err
	}

	return UiAutomator2Options{
		UDID:              set.UDID,
		DeviceName:        set.DeviceName,
		AutomationName:    automation,
		AppPackage:        pkg,
		AppActivity:       activity,
		App:               app,
		NewCommandTimeout: b.settings.NewCommandTimeout,
		AVD:               set.DeviceName,
		AvdLaunchTimeout:  b.settings.AvdLaunchTimeout,
		SystemPort:        ports.SystemPort,
		ChromedriverPort:  ports.ChromeDriverPort,
	}, nil
}

func (b *Builder) ios(set params.Set, ports params.IOSPorts, props properties.Properties) (Options, error) {
	automation, err := props.Require(properties.KeyIOSAutomationName)
	if err != nil {
		return nil, err
	}
	bundleID, err := props.Require(properties.KeyIOSBundleID)
	if err != nil {
		return nil, err
	}
	app, err := b.appPath(props, properties.KeyIOSApp, IOSAppFile)
	if err != nil {
		return nil, err
	}

	return XCUITestOptions{
		UDID:                 set.UDID,
		DeviceName:           set.DeviceName,
		AutomationName:       automation,
		App:                  app,
		BundleID:             bundleID,
		WDALocalPort:         ports.WDALocalPort,
		WebkitDebugProxyPort: ports.WebkitDebugProxyPort,
	}, nil
}

// appPath resolves the app binary to an absolute path. The property may hold
// a file name inside the resources dir or an absolute path.
func (b *Builder) appPath(props properties.Properties, key, fallback string) (string, error) {
	name := fallback
	if v, ok := props.Get(key); ok && strings.TrimSpace(v) != "" {
		name = strings.TrimSpace(v)
	}
	if filepath.IsAbs(name) {
		return name, nil
	}
	abs, err := filepath.Abs(filepath.Join(b.settings.ResourcesDir, name))
	if err != nil {
		return "", errors.NewConfigurationError("cannot resolve app path").WithKey(key).WithValue(name).WithCause(err)
	}
	return abs, nil
}

// ParseServerURL reads appiumURL and checks that it is an absolute http(s) URL.
func ParseServerURL(props properties.Properties) (*url.URL, error) {
	raw, err := props.Require(properties.KeyAppiumURL)
	if err != nil {
		return nil, err
	}

	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.NewConfigurationError("appium URL is malformed").
			WithKey(properties.KeyAppiumURL).
			WithValue(raw).
			WithCause(err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, errors.NewConfigurationError("appium URL must be an absolute http(s) URL").
			WithKey(properties.KeyAppiumURL).
			WithValue(raw).
			WithCause(errors.ErrInvalidInput)
	}
	return u, nil
}
