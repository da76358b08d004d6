// Package logging provides structured logging for the pet feeder bridge.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Optional append-only file output
//   - Redaction helpers for account emails and vendor tokens
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr, file
//	  file: "/var/log/petfeeder.log"
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.WithComponent("cache").Info("invalidated", "pattern", "realInfo:SN1", "removed", 1)
//
// # Security
//
// Never log the vendor password or access token. Use RedactEmail and
// RedactToken when an identifier has to appear in a record.
package logging
