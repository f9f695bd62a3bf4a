package transport

import (
	"errors"
	"fmt"

	"github.com/relay-protocol/relay-go/pkg/wire"
)

// Transport errors.
var (
	// ErrTransportClosed is returned by Send on a CLOSED transport and is the
	// close cause after an explicit shutdown.
	ErrTransportClosed = errors.New("transport closed")

	// ErrInvalidConnectionID rejects a reconnect whose token does not match
	// the transport registered under its channel.
	ErrInvalidConnectionID = errors.New("invalid connection id")

	// ErrStackNotFound rejects a reconnect for a channel with no transport.
	ErrStackNotFound = errors.New("stack not found")

	// ErrHandshakeTimeout indicates the handshake was not answered in time.
	ErrHandshakeTimeout = errors.New("handshake timeout")

	// ErrWindowExceeded closes a transport whose send window overflowed.
	ErrWindowExceeded = errors.New("send window exceeded")

	// ErrGraceExpired closes a transport that was not reattached in time.
	ErrGraceExpired = errors.New("reconnect grace period expired")

	// ErrProtocolViolation indicates the peer broke the framing or
	// sequencing contract.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrMaxConnections rejects a new transport when the server is full.
	ErrMaxConnections = errors.New("max connections reached")

	// ErrPeerClosed indicates the peer shut the transport down.
	ErrPeerClosed = errors.New("transport closed by peer")

	// ErrPeerUnresponsive indicates the health checker declared the
	// physical connection dead.
	ErrPeerUnresponsive = errors.New("peer unresponsive")

	// ErrReconnectFailed closes a client transport whose reconnect loop
	// gave up before the grace period ended.
	ErrReconnectFailed = errors.New("reconnect failed")

	// ErrLinkClosed is the cause reported when a link is closed locally.
	ErrLinkClosed = errors.New("link closed")
)

// IsTerminal reports whether err ends a logical transport rather than
// just its current physical connection. Terminal errors are never retried.
func IsTerminal(err error) bool {
	switch {
	case errors.Is(err, ErrTransportClosed),
		errors.Is(err, ErrInvalidConnectionID),
		errors.Is(err, ErrStackNotFound),
		errors.Is(err, ErrWindowExceeded),
		errors.Is(err, ErrGraceExpired),
		errors.Is(err, ErrProtocolViolation),
		errors.Is(err, ErrMaxConnections),
		errors.Is(err, ErrPeerClosed),
		errors.Is(err, ErrReconnectFailed):
		return true
	}
	return wire.IsProtocolViolation(err)
}

// closeReasonFor maps a local close cause to the CLOSE frame sent to the peer.
func closeReasonFor(err error) wire.CloseReason {
	r := wire.CloseReason{Code: wire.CloseNormal}
	switch {
	case err == nil, errors.Is(err, ErrTransportClosed):
		return r
	case errors.Is(err, ErrInvalidConnectionID):
		r.Code = wire.CloseInvalidConnectionID
	case errors.Is(err, ErrStackNotFound):
		r.Code = wire.CloseStackNotFound
	case errors.Is(err, ErrMaxConnections):
		r.Code = wire.CloseMaxConnections
	case errors.Is(err, ErrWindowExceeded):
		r.Code = wire.CloseWindowExceeded
	case errors.Is(err, ErrGraceExpired):
		r.Code = wire.CloseGraceExpired
	case errors.Is(err, ErrProtocolViolation), wire.IsProtocolViolation(err):
		r.Code = wire.CloseProtocolViolation
	}
	r.Message = err.Error()
	return r
}

// closeError maps a CLOSE frame received from the peer to a local error.
func closeError(r wire.CloseReason) error {
	var base error
	switch r.Code {
	case wire.CloseInvalidConnectionID:
		base = ErrInvalidConnectionID
	case wire.CloseStackNotFound:
		base = ErrStackNotFound
	case wire.CloseMaxConnections:
		base = ErrMaxConnections
	case wire.CloseProtocolViolation:
		base = ErrProtocolViolation
	case wire.CloseWindowExceeded:
		base = ErrWindowExceeded
	case wire.CloseGraceExpired:
		base = ErrGraceExpired
	default:
		return ErrPeerClosed
	}
	if r.Message == "" {
		return fmt.Errorf("%w: %w", ErrPeerClosed, base)
	}
	return fmt.Errorf("%w: %w (%s)", ErrPeerClosed, base, r.Message)
}

func protocolViolation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrProtocolViolation, fmt.Sprintf(format, args...))
}
