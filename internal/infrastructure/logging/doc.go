// Package logging provides structured logging for the QLC+ bridge.
//
// It wraps log/slog with JSON or text output, level filtering and the
// default fields service=qlcbridge and version on every entry.
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
//	client.SetLogger(logger.Component("qlc"))
//	logger.Error("failed to connect", "error", err)
//
// Never log secrets, tokens or passwords.
package logging
