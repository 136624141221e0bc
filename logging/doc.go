// Package logging provides a minimal logging interface and adapters for meshchat.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the transport, planner, consumer and orchestrator use for observability.
// This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - ZapAdapter wrapping a *zap.Logger
//   - ChatLogger with contextual helpers for streams, plans and turns
//   - NoOpLogger for silent operation (testing, minimal setups)
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	client := meshchat.New("http://localhost:8000", func(o *meshchat.Options) { o.Logger = logger })
//
// Arguments after the message are slog style key/value pairs.
package logging
