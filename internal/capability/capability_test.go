package capability

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/Iron-Ham/devicerig/internal/errors"
	"github.com/Iron-Ham/devicerig/internal/params"
	"github.com/Iron-Ham/devicerig/internal/properties"
)

func baseValues() map[string]string {
	return map[string]string{
		properties.KeyAppiumURL:             "http://127.0.0.1:4723",
		properties.KeyAndroidAutomationName: "UiAutomator2",
		properties.KeyAndroidAppPackage:     "com.swaglabsmobileapp",
		properties.KeyAndroidAppActivity:    "com.swaglabsmobileapp.MainActivity",
		properties.KeyIOSAutomationName:     "XCUITest",
		properties.KeyIOSBundleID:           "org.reactjs.native.example.SwagLabsMobileApp",
	}
}

func testProps() properties.Properties {
	return properties.New(baseValues())
}

func androidSet() params.Set {
	return params.Set{
		Platform:   params.Android,
		UDID:       "emulator-5554",
		DeviceName: "Pixel_8_API_35",
		Ports:      params.AndroidPorts{SystemPort: 10000, ChromeDriverPort: 11000},
	}
}

func iosSet() params.Set {
	return params.Set{
		Platform:   params.IOS,
		UDID:       "sim-1",
		DeviceName: "iPhone 15",
		Ports:      params.IOSPorts{WDALocalPort: 10001, WebkitDebugProxyPort: 11001},
	}
}

func TestBuild_Android(t *testing.T) {
	resources := t.TempDir()
	b := NewBuilder(Settings{ResourcesDir: resources})

	d, err := b.Build(androidSet(), testProps())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if d.ServerURL.String() != "http://127.0.0.1:4723" {
		t.Errorf("ServerURL = %v", d.ServerURL)
	}
	if d.Platform() != params.Android {
		t.Errorf("Platform() = %q", d.Platform())
	}

	want := map[string]any{
		"platformName":             "Android",
		"appium:udid":              "emulator-5554",
		"appium:deviceName":        "Pixel_8_API_35",
		"appium:automationName":    "UiAutomator2",
		"appium:appPackage":        "com.swaglabsmobileapp",
		"appium:appActivity":       "com.swaglabsmobileapp.MainActivity",
		"appium:app":               filepath.Join(resources, AndroidAppFile),
		"appium:newCommandTimeout": 560,
		"appium:avd":               "Pixel_8_API_35",
		"appium:avdLaunchTimeout":  660000,
		"appium:systemPort":        10000,
		"appium:chromedriverPort":  11000,
	}
	assertCaps(t, d.Capabilities(), want)
}

func TestBuild_IOS(t *testing.T) {
	resources := t.TempDir()
	b := NewBuilder(Settings{ResourcesDir: resources})

	d, err := b.Build(iosSet(), testProps())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	want := map[string]any{
		"platformName":                "iOS",
		"appium:udid":                 "sim-1",
		"appium:deviceName":           "iPhone 15",
		"appium:automationName":       "XCUITest",
		"appium:app":                  filepath.Join(resources, IOSAppFile),
		"appium:bundleId":             "org.reactjs.native.example.SwagLabsMobileApp",
		"appium:wdaLocalPort":         10001,
		"appium:webkitDebugProxyPort": 11001,
	}
	assertCaps(t, d.Capabilities(), want)
}

func assertCaps(t *testing.T, got, want map[string]any) {
	t.Helper()
	if len(got) != len(want) {
		t.Errorf("got %d capabilities, want %d: %v", len(got), len(want), got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %#v, want %#v", k, got[k], v)
		}
	}
}

func TestBuild_AppOverride(t *testing.T) {
	props := properties.New(map[string]string{
		properties.KeyAppiumURL:             "http://127.0.0.1:4723",
		properties.KeyAndroidAutomationName: "UiAutomator2",
		properties.KeyAndroidAppPackage:     "p",
		properties.KeyAndroidAppActivity:    "a",
		properties.KeyAndroidApp:            "/opt/apps/custom.apk",
	})

	d, err := NewBuilder(Settings{}).Build(androidSet(), props)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if got := d.Capabilities()["appium:app"]; got != "/opt/apps/custom.apk" {
		t.Errorf("appium:app = %v, want absolute override kept", got)
	}
}

func TestBuild_CustomTimeouts(t *testing.T) {
	b := NewBuilder(Settings{NewCommandTimeout: 90 * time.Second, AvdLaunchTimeout: 2 * time.Minute})

	d, err := b.Build(androidSet(), testProps())
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	caps := d.Capabilities()
	if caps["appium:newCommandTimeout"] != 90 {
		t.Errorf("newCommandTimeout = %v, want 90", caps["appium:newCommandTimeout"])
	}
	if caps["appium:avdLaunchTimeout"] != 120000 {
		t.Errorf("avdLaunchTimeout = %v, want 120000", caps["appium:avdLaunchTimeout"])
	}
}

func TestBuild_Errors(t *testing.T) {
	without := func(key string) properties.Properties {
		values := baseValues()
		delete(values, key)
		return properties.New(values)
	}

	tests := []struct {
		name    string
		set     params.Set
		props   properties.Properties
		wantErr error
		wantKey string
	}{
		{"missing appium URL", androidSet(), without(properties.KeyAppiumURL), errors.ErrMissingProperty, properties.KeyAppiumURL},
		{"relative appium URL", androidSet(), withURL("127.0.0.1:4723"), errors.ErrConfiguration, properties.KeyAppiumURL},
		{"non-http appium URL", androidSet(), withURL("ftp://host/"), errors.ErrConfiguration, properties.KeyAppiumURL},
		{"missing android automation", androidSet(), without(properties.KeyAndroidAutomationName), errors.ErrMissingProperty, properties.KeyAndroidAutomationName},
		{"missing app package", androidSet(), without(properties.KeyAndroidAppPackage), errors.ErrMissingProperty, properties.KeyAndroidAppPackage},
		{"missing app activity", androidSet(), without(properties.KeyAndroidAppActivity), errors.ErrMissingProperty, properties.KeyAndroidAppActivity},
		{"missing ios automation", iosSet(), without(properties.KeyIOSAutomationName), errors.ErrMissingProperty, properties.KeyIOSAutomationName},
		{"missing bundle id", iosSet(), without(properties.KeyIOSBundleID), errors.ErrMissingProperty, properties.KeyIOSBundleID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewBuilder(Settings{}).Build(tt.set, tt.props)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Build() error = %v, want %v", err, tt.wantErr)
			}
			var cfgErr *errors.ConfigurationError
			if !errors.As(err, &cfgErr) || cfgErr.Key != tt.wantKey {
				t.Errorf("error key = %v, want %q", err, tt.wantKey)
			}
			if d.Options != nil || d.ServerURL != nil {
				t.Error("no partial descriptor may be returned")
			}
		})
	}
}

func withURL(raw string) properties.Properties {
	return properties.New(map[string]string{
		properties.KeyAppiumURL:             raw,
		properties.KeyAndroidAutomationName: "UiAutomator2",
		properties.KeyAndroidAppPackage:     "p",
		properties.KeyAndroidAppActivity:    "a",
	})
}

func TestBuild_BlankIdentifiers(t *testing.T) {
	noUDID := androidSet()
	noUDID.UDID = ""
	blankName := iosSet()
	blankName.DeviceName = "  "

	tests := []struct {
		name    string
		set     params.Set
		wantKey string
	}{
		{"empty udid", noUDID, params.FieldUDID},
		{"blank device name", blankName, params.FieldDeviceName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := NewBuilder(Settings{}).Build(tt.set, testProps())
			if !errors.Is(err, errors.ErrConfiguration) {
				t.Fatalf("Build() error = %v, want a configuration error", err)
			}
			var cfgErr *errors.ConfigurationError
			if !errors.As(err, &cfgErr) || cfgErr.Key != tt.wantKey {
				t.Errorf("error key = %v, want %q", err, tt.wantKey)
			}
			if d.Options != nil {
				t.Error("no partial descriptor may be returned")
			}
		})
	}
}

func TestBuild_InvalidPlatform(t *testing.T) {
	tests := []struct {
		name string
		set  params.Set
	}{
		{"no ports", params.Set{Platform: params.Android, UDID: "x", DeviceName: "y"}},
		{"unknown platform", params.Set{Platform: "Windows98", Ports: params.AndroidPorts{}}},
		{"ports of the other platform", params.Set{Platform: params.IOS, Ports: params.AndroidPorts{SystemPort: 1}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBuilder(Settings{}).Build(tt.set, testProps())
			if !errors.Is(err, errors.ErrInvalidPlatform) {
				t.Errorf("Build() error = %v, want ErrInvalidPlatform", err)
			}
			if !errors.Is(err, errors.ErrConfiguration) {
				t.Error("invalid platform should be a configuration error")
			}
		})
	}
}

func TestDescriptor_ZeroValue(t *testing.T) {
	var d Descriptor
	if d.Platform() != "" {
		t.Errorf("Platform() = %q, want empty", d.Platform())
	}
	if len(d.Capabilities()) != 0 {
		t.Error("zero descriptor should render no capabilities")
	}
}
