// Package log provides structured protocol logging for relay transports.
//
// This package defines the Logger interface and Event types for capturing
// protocol-level events at each stage of the stack (wire, transport,
// health, harness). It is separate from operational logging (slog) - protocol
// capture provides a complete machine-readable trace of every frame, ack,
// probe and reconnect for debugging delivery problems.
//
// # Basic Usage
//
//	// For development: log to console via slog
//	cfg.ProtocolLogger = log.NewSlogAdapter(slog.Default())
//
//	// For production: write to binary file
//	cfg.ProtocolLogger, _ = log.NewFileLogger("/var/log/relay/server.rlog")
//
//	// Both: use Tee
//	cfg.ProtocolLogger = log.Tee(
//	    log.NewSlogAdapter(slog.Default()),
//	    fileLogger,
//	)
//
// # Event Types
//
//   - FrameEvent: DATA frames in and out, including resends
//   - ControlMsgEvent: ACK, PING, PING_REPLY, HANDSHAKE, HANDSHAKE_REPLY, CLOSE
//   - StateChangeEvent: transport, link and health state transitions
//   - ErrorEventData: errors at any layer
//
// # File Format
//
// Log files (.rlog) start with the header "RLOG" plus a version byte and
// a reserved byte, followed by a stream of CBOR-encoded events. Readers
// reject files without the header. The relay-log CLI tool provides
// viewing, filtering, statistics and export.
package log
