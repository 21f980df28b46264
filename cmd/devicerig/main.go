// Command devicerig manages Appium servers and driver sessions for mobile
// UI-test runs.
package main

import (
	"os"

	"github.com/Iron-Ham/devicerig/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
