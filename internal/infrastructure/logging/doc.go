// Package logging provides structured logging for pglive.
//
// It wraps log/slog so every component logs with the same handler,
// level and default fields (service, version).
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, version)
//	logger.Info("live server started", "port", cfg.API.Port)
//
// Per-message drop reasons from the throttle gate are logged at debug level.
//
// # Security
//
// Never log access tokens, JWT secrets, database URLs or broker passwords.
package logging
