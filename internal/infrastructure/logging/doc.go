// Package logging provides structured logging for MicroCoaster Core.
//
// It wraps Go's standard log/slog package so every component logs with the
// same shape: JSON in production, text in development, and the service and
// version fields on every entry.
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
//	logger.Component("gateway").Info("module connected", "module_id", id)
//
// Never log module secrets, passwords or tokens.
package logging
