// Package wire defines the binary frame format of the relay transport.
//
// Every frame on a physical connection has the same fixed header:
//
//	┌──────────────┬────────┬──────────────────┬─────────────┐
//	│ length (4B)  │ kind   │ sequence (8B)    │ payload ... │
//	│ big-endian   │ (1B)   │ big-endian       │             │
//	└──────────────┴────────┴──────────────────┴─────────────┘
//
// The length field counts kind, sequence and payload, so the smallest legal
// value is HeaderSize (9). Lengths outside [HeaderSize, max frame size] make
// the stream unusable and are reported as ErrMalformedFrame.
//
// # Frame Kinds
//
//   - DATA: application payload, sequence is the message number (first is 1)
//   - ACK: cumulative acknowledgement, sequence is the receive cursor
//   - PING / PING_REPLY: health probes, sequence is the probe number
//   - HANDSHAKE / HANDSHAKE_REPLY: carry a ConnectionID, sequence is the
//     sender's receive cursor
//   - CLOSE: CBOR-encoded CloseReason
//
// # Connection Identity
//
// A ConnectionID is a channel number plus a 16-byte random token. It is
// minted by the server on the first handshake and presented again by the
// client on every reconnect.
package wire
