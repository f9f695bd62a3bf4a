// Package transport provides the reliable, reconnecting message transport.
//
// A MessageTransport is a logical channel that outlives the physical
// connections (Links) carrying it. Every DATA frame gets a sequence number
// and stays in the send window until the peer acknowledges it; the
// receiver delivers frames strictly in order and drops duplicates by
// comparing against its receive cursor. When a link fails the transport is
// PAUSED, and a reconnect presenting the same ConnectionID resumes it by
// resending everything past the peer's cursor.
//
// # Protocol Stack
//
//	┌────────────────────────────────┐
//	│        Handler / Inbox         │
//	├────────────────────────────────┤
//	│  MessageTransport (seq / ack)  │
//	├────────────────────────────────┤
//	│  HealthChecker (PING / REPLY)  │
//	├────────────────────────────────┤
//	│   Frames (pkg/wire, 4B len)    │
//	├────────────────────────────────┤
//	│ TCP, TLS 1.3 or WebSocket Link │
//	└────────────────────────────────┘
//
// # Lifecycle
//
//	CONNECTING ──handshake──▶ CONNECTED ◀──resume──┐
//	     │                        │                │
//	     │                   link lost ──▶ PAUSED ─┘
//	     ▼                        ▼          │
//	   CLOSED ◀──────── terminal error ◀─ grace expired
//
// A StackHarness owns one transport and the link bound to it. The Server
// keeps its harnesses in a Registry keyed by ConnectionID; the Client
// redials with exponential backoff until the grace period ends.
//
// # Health Checks
//
// In probe mode a PING is sent every PingInterval once nothing was received
// for PingIdleTime. After PingProbes unanswered probes the link is declared
// dead (optionally after a socket-connect check) and detached. Both modes
// answer PING with PING_REPLY; health frames never reach the Handler.
package transport
