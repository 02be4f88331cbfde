// Package logging provides structured logging with per-module log level configuration.
//
// # Overview
//
// The logging system uses Go's slog package with automatic output routing:
//   - Logs to systemd journal when available (Linux systems with journald)
//   - Logs to stderr when a terminal, pipe, or file is connected
//   - Logs to both when both are available
//
// Stdout is left to the commands being run, so console logs always go to
// stderr unless redirected with SetOutput.
//
// # Usage
//
// Initialize the logging system once at startup:
//
//	logging.Initialize(logging.Config{
//		Level:  "info",
//		Format: "text",
//		Modules: map[string]string{
//			"process": "debug",
//			"pool":    "warn",
//		},
//	})
//
// Get a logger for your module:
//
//	logger := logging.GetLogger("pool")
//	logger.Info("Pool run started", "queued", 12)
//
// Levels can be changed while running, for example from a config reload:
//
//	_ = logging.SetLevel("process", "debug")
//
// # Viewing Logs
//
//	journalctl -t procpool -f
//	journalctl -t procpool MODULE=process EXIT_CODE=1
//
// # Configuration
//
//	[logging]
//	level = "info"
//	format = "text"
//	process = "debug"
package logging
