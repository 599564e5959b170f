// Package logging provides structured logging for heatbridge.
//
// It wraps the standard library log/slog with:
//   - Configurable output format (JSON or text)
//   - Level-based filtering (debug, info, warn, error)
//   - Default service and version attributes on every record
//
// Components that need a logger accept a narrow Logger interface
// (Debug/Info/Warn/Error) rather than this concrete type, so tests
// can substitute their own implementations.
//
// Usage:
//
//	log := logging.New(cfg.Logging, version)
//	pollLog := log.With("component", "poller")
//	pollLog.Info("refresh complete", "devices", 3)
package logging
