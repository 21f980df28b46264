// Package logging provides structured logging for devicerig runs.
//
// Logs are JSON lines written through log/slog to {logs_dir}/devicerig.log.
// Each device task logs through a child logger carrying its platform, device
// and run ID, so entries from parallel tasks can be separated afterwards:
//
//	logger, err := logging.NewLoggerWithRotation(cfg.Paths.LogsDir, cfg.Logging.Level, rotation)
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	task := logger.WithPlatform("Android").WithDevice("Pixel_8_API_35").WithRun(runID)
//	task.Info("appium server started", "port", 4723)
//
// # Levels
//
// Besides DEBUG, INFO, WARN and ERROR the package defines FATAL. Setup
// failures that abort a device task are logged at FATAL and then returned to
// the caller; [Logger.Fatal] never exits the process.
//
// # Server logs
//
// Appium server output goes to a per-device file opened with [OpenServerLog]
// at {logs_dir}/{platform}_{device}/server.log. Every launch starts a fresh
// file and the previous one becomes server.log.1. Both log kinds also rotate
// through [RotatingWriter] once they exceed [RotationConfig.MaxSizeMB].
//
// # Reading logs
//
// [ReadLogs], [FilterLogs] and [WriteEntries] back the "devicerig logs"
// command.
package logging
