package devicelock

import (
	"errors"
	"sort"
	"strconv"
	"time"

	"github.com/Iron-Ham/devicerig/internal/params"
)

// ErrAlreadyClaimed is returned when a resource is held by another run.
var ErrAlreadyClaimed = errors.New("resource already claimed by another run")

// Claim records ownership of one resource.
type Claim struct {
	RunID     string    // Run that owns the claim
	Resource  string    // "udid:<udid>" or "port:<n>"
	ClaimedAt time.Time // When the claim was established
}

// UDID returns the resource name for a device.
func UDID(udid string) string { return "udid:" + udid }

// Port returns the resource name for a local port.
func Port(port int) string { return "port:" + strconv.Itoa(port) }

// Resources returns the sorted resource names a session on udid with ports
// occupies. Empty UDIDs and zero ports are left out.
func Resources(udid string, ports params.Ports) []string {
	var out []string
	if udid != "" {
		out = append(out, UDID(udid))
	}
	if ports != nil {
		for _, p := range ports.Fields() {
			if p > 0 {
				out = append(out, Port(p))
			}
		}
	}
	sort.Strings(out)
	return out
}
