// Package devicelock tracks which run owns a device and its local ports.
//
// Devices in a suite run in parallel, but two sessions must never share a
// UDID or a driver-side port (systemPort, chromeDriverPort, wdaLocalPort,
// webkitDebugProxyPort). Before opening a session a run claims every
// resource it needs; a run whose resources are held by another waits until
// they are released.
//
// # Basic Usage
//
//	reg := devicelock.NewRegistry()
//
//	res := devicelock.Resources("emulator-5554", params.DefaultPorts(params.Android))
//	if err := reg.Acquire(ctx, runID, res); err != nil {
//		return err
//	}
//	defer reg.ReleaseAll(runID)
//
// Acquire is all-or-nothing: a run never holds part of its resources while
// it waits, so two runs cannot deadlock on each other.
//
// # Thread Safety
//
// All [Registry] methods are safe for concurrent use.
package devicelock
