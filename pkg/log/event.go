package log

import (
	"time"

	"github.com/relay-protocol/relay-go/pkg/wire"
)

// Event represents a protocol log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID identifies the logical transport ("<channel>.<token>").
	// Empty before the handshake completes.
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates frame flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// LocalRole indicates whether this is the server or client side.
	LocalRole Role `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address (IP:port).
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// LinkID identifies the physical connection the event occurred on.
	LinkID string `cbor:"8,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Data frames
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Transport/link/health state
	ControlMsg  *ControlMsgEvent  `cbor:"13,keyasint,omitempty"` // Ack/ping/handshake/close
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of frame flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming frame.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing frame.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which stage of the stack captured the event.
type Layer uint8

const (
	// LayerWire is the framing layer.
	LayerWire Layer = 0
	// LayerTransport is the sequencing/resend layer.
	LayerTransport Layer = 1
	// LayerHealth is the health checker.
	LayerHealth Layer = 2
	// LayerHarness is the attach/detach/reconnect control path.
	LayerHarness Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerWire:
		return "WIRE"
	case LayerTransport:
		return "TRANSPORT"
	case LayerHealth:
		return "HEALTH"
	case LayerHarness:
		return "HARNESS"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryData indicates a DATA frame.
	CategoryData Category = 0
	// CategoryControl indicates a control frame (ack/ping/handshake/close).
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryError indicates an error event.
	CategoryError Category = 3
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryData:
		return "DATA"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role indicates which side of the transport logged the event.
type Role uint8

const (
	// RoleServer indicates the accepting side.
	RoleServer Role = 0
	// RoleClient indicates the dialing side.
	RoleClient Role = 1
)

// String returns the role name.
func (r Role) String() string {
	switch r {
	case RoleServer:
		return "SERVER"
	case RoleClient:
		return "CLIENT"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures a DATA frame.
type FrameEvent struct {
	// Sequence is the frame sequence number.
	Sequence uint64 `cbor:"1,keyasint"`

	// Size is the frame size in bytes (including length prefix).
	Size int `cbor:"2,keyasint"`

	// Data is the payload (may be truncated for large frames).
	Data []byte `cbor:"3,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"4,keyasint,omitempty"`

	// Resend marks a frame written again after a reconnect.
	Resend bool `cbor:"5,keyasint,omitempty"`
}

// MaxFrameData is the number of payload bytes kept in a FrameEvent.
const MaxFrameData = 64

// NewFrameEvent builds a FrameEvent, truncating the payload copy.
func NewFrameEvent(f wire.Frame) *FrameEvent {
	ev := &FrameEvent{Sequence: f.Sequence, Size: f.Size()}
	data := f.Payload
	if len(data) > MaxFrameData {
		data = data[:MaxFrameData]
		ev.Truncated = true
	}
	if len(data) > 0 {
		ev.Data = append([]byte(nil), data...)
	}
	return ev
}

// StateChangeEvent captures transport, link and health lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityTransport indicates a logical transport state change.
	StateEntityTransport StateEntity = 0
	// StateEntityLink indicates a physical connection attach/detach.
	StateEntityLink StateEntity = 1
	// StateEntityHealth indicates a health checker state change.
	StateEntityHealth StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityTransport:
		return "TRANSPORT"
	case StateEntityLink:
		return "LINK"
	case StateEntityHealth:
		return "HEALTH"
	default:
		return "UNKNOWN"
	}
}

// ControlMsgEvent captures non-DATA frames.
type ControlMsgEvent struct {
	// Type of control frame.
	Type ControlMsgType `cbor:"1,keyasint"`

	// Sequence is the frame's sequence field (ack cursor, probe number,
	// or handshake receive cursor).
	Sequence uint64 `cbor:"2,keyasint,omitempty"`

	// CloseReason is the reason code for close frames.
	CloseReason *uint8 `cbor:"3,keyasint,omitempty"`
}

// ControlMsgType indicates the type of control frame.
type ControlMsgType uint8

const (
	// ControlMsgAck indicates an acknowledgement.
	ControlMsgAck ControlMsgType = 0
	// ControlMsgPing indicates a health probe.
	ControlMsgPing ControlMsgType = 1
	// ControlMsgPingReply indicates a health probe reply.
	ControlMsgPingReply ControlMsgType = 2
	// ControlMsgHandshake indicates a handshake request.
	ControlMsgHandshake ControlMsgType = 3
	// ControlMsgHandshakeReply indicates a handshake reply.
	ControlMsgHandshakeReply ControlMsgType = 4
	// ControlMsgClose indicates a close frame.
	ControlMsgClose ControlMsgType = 5
)

// String returns the control message type name.
func (c ControlMsgType) String() string {
	switch c {
	case ControlMsgAck:
		return "ACK"
	case ControlMsgPing:
		return "PING"
	case ControlMsgPingReply:
		return "PING_REPLY"
	case ControlMsgHandshake:
		return "HANDSHAKE"
	case ControlMsgHandshakeReply:
		return "HANDSHAKE_REPLY"
	case ControlMsgClose:
		return "CLOSE"
	default:
		return "UNKNOWN"
	}
}

// ControlMsgTypeForKind maps a frame kind to its control message type.
// It returns false for DATA and unknown kinds.
func ControlMsgTypeForKind(k wire.Kind) (ControlMsgType, bool) {
	switch k {
	case wire.KindAck:
		return ControlMsgAck, true
	case wire.KindPing:
		return ControlMsgPing, true
	case wire.KindPingReply:
		return ControlMsgPingReply, true
	case wire.KindHandshake:
		return ControlMsgHandshake, true
	case wire.KindHandshakeReply:
		return ControlMsgHandshakeReply, true
	case wire.KindClose:
		return ControlMsgClose, true
	default:
		return 0, false
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Code is the close code sent or received (if applicable).
	Code *int `cbor:"3,keyasint,omitempty"`

	// Context describes what operation was being performed.
	Context string `cbor:"4,keyasint,omitempty"`
}
