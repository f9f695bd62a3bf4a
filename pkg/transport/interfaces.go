package transport

import (
	"context"
	"net"
)

// TransportServer represents a relay server.
// Implemented by Server.
type TransportServer interface {
	// Start begins accepting connections.
	Start(ctx context.Context) error

	// Stop closes every transport and stops accepting.
	Stop() error

	// Addr returns the server's listen address.
	Addr() net.Addr

	// TransportCount returns the number of live transports.
	TransportCount() int
}

// Sender is the upstream send side of a transport.
// Implemented by MessageTransport.
type Sender interface {
	// Send queues payload for in-order delivery to the peer.
	Send(payload []byte) error

	// Flush waits until everything sent has been acknowledged.
	Flush(ctx context.Context) error

	// Close shuts the transport down.
	Close() error
}

// Compile-time interface satisfaction checks.
var (
	_ TransportServer = (*Server)(nil)
	_ Sender          = (*MessageTransport)(nil)
	_ Handler         = (*Inbox)(nil)
	_ Handler         = HandlerFuncs{}
	_ Dialer          = (*TCPDialer)(nil)
	_ Dialer          = (*WSDialer)(nil)
	_ Dialer          = DialerFunc(nil)
	_ linkHandler     = (*StackHarness)(nil)
)
