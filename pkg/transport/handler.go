package transport

import (
	"context"
	"sync"
)

// Handler receives what a transport delivers to the application.
//
// Calls for one transport are serialized: OnMessage is invoked in strictly
// increasing sequence order, and OnStateChange / OnDeliveryFailure in the
// order the transitions happened. Handlers must not block for long; they
// run on the transport's receive and control paths.
type Handler interface {
	// OnMessage is called with each in-order payload exactly once.
	OnMessage(payload []byte)

	// OnStateChange is called on every state transition.
	OnStateChange(oldState, newState State)

	// OnDeliveryFailure is called once when a transport closes with
	// unacknowledged sends. The payloads may or may not have reached the peer.
	OnDeliveryFailure(payloads [][]byte, err error)
}

// HandlerFuncs adapts optional functions to a Handler.
type HandlerFuncs struct {
	Message         func(payload []byte)
	StateChange     func(oldState, newState State)
	DeliveryFailure func(payloads [][]byte, err error)
}

// OnMessage implements Handler.
func (h HandlerFuncs) OnMessage(payload []byte) {
	if h.Message != nil {
		h.Message(payload)
	}
}

// OnStateChange implements Handler.
func (h HandlerFuncs) OnStateChange(oldState, newState State) {
	if h.StateChange != nil {
		h.StateChange(oldState, newState)
	}
}

// OnDeliveryFailure implements Handler.
func (h HandlerFuncs) OnDeliveryFailure(payloads [][]byte, err error) {
	if h.DeliveryFailure != nil {
		h.DeliveryFailure(payloads, err)
	}
}

// StateTransition is one recorded state change.
type StateTransition struct {
	Old, New State
}

// DeliveryFailure is one recorded delivery failure.
type DeliveryFailure struct {
	Payloads [][]byte
	Err      error
}

// Inbox is a Handler that queues deliveries for pull-style consumers.
// The queue is unbounded; a consumer that stops calling Receive grows it.
type Inbox struct {
	mu       sync.Mutex
	messages [][]byte
	states   []StateTransition
	failures []DeliveryFailure
	closed   bool
	notify   chan struct{}
}

// NewInbox creates an empty inbox.
func NewInbox() *Inbox {
	return &Inbox{notify: make(chan struct{})}
}

// OnMessage implements Handler.
func (in *Inbox) OnMessage(payload []byte) {
	in.mu.Lock()
	in.messages = append(in.messages, payload)
	in.broadcastLocked()
	in.mu.Unlock()
}

// OnStateChange implements Handler.
func (in *Inbox) OnStateChange(oldState, newState State) {
	in.mu.Lock()
	in.states = append(in.states, StateTransition{Old: oldState, New: newState})
	if newState == StateClosed {
		in.closed = true
	}
	in.broadcastLocked()
	in.mu.Unlock()
}

// OnDeliveryFailure implements Handler.
func (in *Inbox) OnDeliveryFailure(payloads [][]byte, err error) {
	in.mu.Lock()
	in.failures = append(in.failures, DeliveryFailure{Payloads: payloads, Err: err})
	in.broadcastLocked()
	in.mu.Unlock()
}

// Receive returns the next delivered payload. It blocks until one is
// available, the transport is CLOSED and drained (ErrTransportClosed),
// or ctx ends.
func (in *Inbox) Receive(ctx context.Context) ([]byte, error) {
	for {
		in.mu.Lock()
		if len(in.messages) > 0 {
			msg := in.messages[0]
			in.messages[0] = nil
			in.messages = in.messages[1:]
			in.mu.Unlock()
			return msg, nil
		}
		if in.closed {
			in.mu.Unlock()
			return nil, ErrTransportClosed
		}
		ch := in.notify
		in.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Len returns the number of queued payloads.
func (in *Inbox) Len() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.messages)
}

// States returns every state transition seen so far.
func (in *Inbox) States() []StateTransition {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]StateTransition(nil), in.states...)
}

// Failures returns every delivery failure seen so far.
func (in *Inbox) Failures() []DeliveryFailure {
	in.mu.Lock()
	defer in.mu.Unlock()
	return append([]DeliveryFailure(nil), in.failures...)
}

// WaitState blocks until the transport has entered s at least count
// times, or ctx ends.
func (in *Inbox) WaitState(ctx context.Context, s State, count int) error {
	for {
		in.mu.Lock()
		n := 0
		for _, tr := range in.states {
			if tr.New == s {
				n++
			}
		}
		if n >= count {
			in.mu.Unlock()
			return nil
		}
		ch := in.notify
		in.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (in *Inbox) broadcastLocked() {
	close(in.notify)
	in.notify = make(chan struct{})
}

// noopHandler discards everything.
type noopHandler struct{}

func (noopHandler) OnMessage([]byte)                  {}
func (noopHandler) OnStateChange(State, State)        {}
func (noopHandler) OnDeliveryFailure([][]byte, error) {}
