package testutil

import (
	"encoding/json"
	"net"
	"net/http"
	"os"
	"strings"
	"time"
)

// FakeAppiumEnv switches a test binary into a minimal Appium server process.
// Its value selects the behavior: "serve", "exit" or "hang". Test packages
// that launch os.Args[0] as the server call RunFakeAppiumIfRequested first
// thing in TestMain.
const FakeAppiumEnv = "DEVICERIG_FAKE_APPIUM"

// RunFakeAppiumIfRequested runs the fake server and exits when FakeAppiumEnv
// is set. Otherwise it returns immediately.
func RunFakeAppiumIfRequested() {
	if mode := os.Getenv(FakeAppiumEnv); mode != "" {
		os.Exit(runFakeAppium(mode, os.Args[1:]))
	}
}

// runFakeAppium understands the flags a ServiceSpec generates. "serve"
// answers GET {base-path}/status until killed and exits 1 if the port is
// taken.
func runFakeAppium(mode string, args []string) int {
	address, port, basePath := "127.0.0.1", "4723", ""
	for i := 0; i+1 < len(args); i++ {
		switch args[i] {
		case "--address":
			address = args[i+1]
		case "--port":
			port = args[i+1]
		case "--base-path":
			basePath = args[i+1]
		}
	}
	_, _ = os.Stdout.WriteString("fake appium " + strings.Join(args, " ") + "\n")

	switch mode {
	case "exit":
		return 3
	case "hang":
		time.Sleep(time.Hour)
		return 0
	}

	mux := http.NewServeMux()
	mux.HandleFunc(basePath+"/status", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"value": map[string]any{"ready": true}})
	})
	if err := http.ListenAndServe(net.JoinHostPort(address, port), mux); err != nil {
		return 1
	}
	return 0
}
