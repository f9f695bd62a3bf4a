package wire

import "fmt"

// CloseCode tells the peer why a transport or handshake was terminated.
type CloseCode uint8

const (
	// CloseNormal is an explicit shutdown.
	CloseNormal CloseCode = 0

	// CloseInvalidConnectionID rejects a reconnect whose token does not match.
	CloseInvalidConnectionID CloseCode = 1

	// CloseStackNotFound rejects a reconnect for an unknown channel.
	CloseStackNotFound CloseCode = 2

	// CloseMaxConnections rejects a new transport when the server is full.
	CloseMaxConnections CloseCode = 3

	// CloseProtocolViolation reports a framing or sequencing violation.
	CloseProtocolViolation CloseCode = 4

	// CloseWindowExceeded reports send window overflow.
	CloseWindowExceeded CloseCode = 5

	// CloseGraceExpired reports that the reconnect grace period ran out.
	CloseGraceExpired CloseCode = 6
)

// String returns the close code name.
func (c CloseCode) String() string {
	switch c {
	case CloseNormal:
		return "normal"
	case CloseInvalidConnectionID:
		return "invalid-connection-id"
	case CloseStackNotFound:
		return "stack-not-found"
	case CloseMaxConnections:
		return "max-connections"
	case CloseProtocolViolation:
		return "protocol-violation"
	case CloseWindowExceeded:
		return "window-exceeded"
	case CloseGraceExpired:
		return "grace-expired"
	default:
		return "unknown"
	}
}

// CloseReason is the CBOR payload of a CLOSE frame.
type CloseReason struct {
	Code    CloseCode `cbor:"1,keyasint"`
	Message string    `cbor:"2,keyasint,omitempty"`

	// MaxConnections is set with CloseMaxConnections.
	MaxConnections uint32 `cbor:"3,keyasint,omitempty"`
}

// String returns a description for logs and errors.
func (r CloseReason) String() string {
	if r.Message == "" {
		return r.Code.String()
	}
	return r.Code.String() + ": " + r.Message
}

// EncodeCloseReason encodes a close reason.
func EncodeCloseReason(r CloseReason) ([]byte, error) {
	return closeEncMode.Marshal(r)
}

// DecodeCloseReason decodes a close reason. An empty payload is a normal close.
func DecodeCloseReason(data []byte) (CloseReason, error) {
	var r CloseReason
	if len(data) == 0 {
		return r, nil
	}
	if err := closeDecMode.Unmarshal(data, &r); err != nil {
		return CloseReason{}, fmt.Errorf("failed to decode close reason: %w", err)
	}
	return r, nil
}

// CloseFrame builds a CLOSE frame carrying the given reason.
func CloseFrame(r CloseReason) (Frame, error) {
	payload, err := EncodeCloseReason(r)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Kind: KindClose, Payload: payload}, nil
}
