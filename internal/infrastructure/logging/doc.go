// Package logging provides structured logging for the flow-channel client.
//
// This package wraps Go's standard log/slog package to provide
// consistent, structured logging across the entire application.
//
// # Features
//
//   - JSON output for production (machine-parsable)
//   - Text output for development (human-readable)
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
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
//	logger := logging.New(cfg.Logging, "1.0.0")
//	logger.Info("connecting", "broker", cfg.MQTT.Broker)
//	logger.Error("subscribe failed", "error", err)
//
// # Security
//
// Never log session keys or device tokens. Request topics embed the
// credential, so log topic filters only at debug level.
package logging
