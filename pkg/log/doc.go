// Package log provides structured protocol logging for tradewire.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at multiple layers (transport, wire, session).
// It is separate from operational logging (slog) - protocol capture provides
// a complete machine-readable event trace for debugging and analysis.
//
// # Basic Usage
//
// Applications configure logging by providing a Logger implementation:
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/tradewire/client.twlog")
//
//	// Both: use MultiLogger
//	cfg.ProtocolLogger = log.NewMultiLogger(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
// Events are captured at multiple layers:
//   - Transport: text frames and control messages (FrameEvent, ControlMsgEvent)
//   - Wire: per-subscription frame dispatch (FrameEvent with subscription id)
//   - Session: connection, session and pairing state changes (StateChangeEvent)
//
// Errors at any layer use ErrorEventData. Frame payloads are captured as
// sent on the wire; credential material never appears in frames, so it
// never appears in logs.
//
// # File Format
//
// Log files use CBOR encoding with .twlog extension. Reader provides
// filtered streaming access for analysis tooling.
package log
