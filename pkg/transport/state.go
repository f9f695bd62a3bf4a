package transport

// State is the lifecycle state of a logical transport.
type State int32

const (
	// StateConnecting is the initial state of a client transport until
	// its first handshake completes.
	StateConnecting State = iota

	// StateConnected means exactly one physical connection is bound.
	StateConnected

	// StatePaused means no physical connection is bound and the transport
	// is waiting for a reconnect within the grace period. Sends are queued.
	StatePaused

	// StateClosed is terminal.
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StatePaused:
		return "PAUSED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}
