package transport

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"github.com/relay-protocol/relay-go/pkg/wire"
)

// Stats is a snapshot of a transport's counters.
type Stats struct {
	ID    wire.ConnectionID
	State State

	// Sent counts payloads accepted by Send.
	Sent uint64
	// Delivered counts payloads handed to the Handler.
	Delivered uint64
	// Duplicates counts received DATA frames at or just below the cursor.
	Duplicates uint64
	// OutOfOrder counts DATA frames buffered ahead of the cursor.
	OutOfOrder uint64
	// Resent counts DATA frames handed to a link before a reconnect and
	// queued again after it.
	Resent uint64
	// Reconnects counts successful re-attachments after the first.
	Reconnects uint64

	// Window is the number of unacknowledged outgoing frames.
	Window int
	// Buffered is the number of out-of-order frames held.
	Buffered int

	// NextSequence is the sequence number the next Send will use.
	NextSequence uint64
	// AckCursor is the highest sequence number the peer acknowledged.
	AckCursor uint64
	// ReceiveCursor is the highest contiguous sequence number delivered.
	ReceiveCursor uint64
}

type transportEvent struct {
	oldState State
	newState State
	failed   [][]byte
	err      error
}

// MessageTransport is the reliable, ordered, reconnectable channel. It
// outlives any single physical connection: on disconnect it is PAUSED and
// keeps its send window and receive cursor until a reconnect resumes it
// or the grace period closes it.
//
// Send is safe for concurrent use.
type MessageTransport struct {
	config  Config
	handler Handler
	harness *StackHarness

	// Called before the handler for every state transition.
	observe func(old, new State, cause error)

	mu         sync.Mutex
	id         wire.ConnectionID
	state      State
	closeErr   error
	link       *Link
	nextSeq    uint64
	window     []wire.Frame
	sentCursor uint64
	ackCursor  uint64
	recvCursor uint64
	ooo        map[uint64][]byte
	attached   bool
	stats      Stats
	changed    chan struct{}

	// Notification queue; drained FIFO by whichever goroutine claims it.
	events    []transportEvent
	notifying bool

	// Serializes the receive path so delivery order matches cursor order.
	recvMu sync.Mutex
}

func newMessageTransport(cfg Config, handler Handler) *MessageTransport {
	if handler == nil {
		handler = noopHandler{}
	}
	return &MessageTransport{
		config:  cfg,
		handler: handler,
		state:   StateConnecting,
		nextSeq: 1,
		ooo:     make(map[uint64][]byte),
		changed: make(chan struct{}),
	}
}

// ConnectionID returns the transport identity. It is null until the first
// handshake completes.
func (t *MessageTransport) ConnectionID() wire.ConnectionID {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

// State returns the current state.
func (t *MessageTransport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Err returns the close cause once the transport is CLOSED.
func (t *MessageTransport) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closeErr
}

// Stats returns a snapshot of the transport counters.
func (t *MessageTransport) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats
	s.ID = t.id
	s.State = t.state
	s.Window = len(t.window)
	s.Buffered = len(t.ooo)
	s.NextSequence = t.nextSeq
	s.AckCursor = t.ackCursor
	s.ReceiveCursor = t.recvCursor
	return s
}

// Send assigns the next sequence number to payload and queues it. It never
// waits for the network: while CONNECTING or PAUSED the frame is only
// retained. It fails only when the transport is CLOSED, when the payload
// exceeds the frame limit, or when the send window is full (which closes
// the transport with ErrWindowExceeded).
func (t *MessageTransport) Send(payload []byte) error {
	if len(payload) > wire.MaxPayloadSize(t.config.MaxFrameSize) {
		return fmt.Errorf("%w: %d bytes", wire.ErrPayloadTooLarge, len(payload))
	}

	t.mu.Lock()
	if t.state == StateClosed {
		err := t.closeErr
		t.mu.Unlock()
		return fmt.Errorf("%w: %w", ErrTransportClosed, err)
	}
	if len(t.window) >= t.config.MaxWindow {
		t.mu.Unlock()
		err := fmt.Errorf("%w: %d unacknowledged frames", ErrWindowExceeded, t.config.MaxWindow)
		t.fail(err)
		return err
	}

	seq := t.nextSeq
	t.nextSeq++
	t.window = append(t.window, wire.Frame{
		Kind:     wire.KindData,
		Sequence: seq,
		Payload:  append([]byte(nil), payload...),
	})
	t.stats.Sent++
	link := t.link
	t.mu.Unlock()

	if link != nil {
		link.signalData()
	}
	return nil
}

// Flush blocks until every sent frame has been acknowledged, the transport
// closes, or ctx ends.
func (t *MessageTransport) Flush(ctx context.Context) error {
	for {
		t.mu.Lock()
		if t.state == StateClosed {
			err := t.closeErr
			t.mu.Unlock()
			return fmt.Errorf("%w: %w", ErrTransportClosed, err)
		}
		if len(t.window) == 0 {
			t.mu.Unlock()
			return nil
		}
		ch := t.changed
		t.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close shuts the transport down permanently, telling the peer if a
// connection is bound. Unacknowledged sends are reported through
// OnDeliveryFailure.
func (t *MessageTransport) Close() error {
	if t.harness != nil {
		t.harness.Finalize()
		return nil
	}
	t.closeWith(ErrTransportClosed)
	return nil
}

// fail closes the transport because of a local error.
func (t *MessageTransport) fail(err error) {
	if t.harness != nil {
		t.harness.finalize(err, true)
		return
	}
	t.closeWith(err)
}

func (t *MessageTransport) setID(id wire.ConnectionID) {
	t.mu.Lock()
	t.id = id
	t.mu.Unlock()
}

func (t *MessageTransport) setHandler(h Handler) {
	if h == nil {
		return
	}
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

func (t *MessageTransport) receiveCursor() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.recvCursor
}

// receiveData processes a DATA frame from l.
func (t *MessageTransport) receiveData(l *Link, seq uint64, payload []byte) error {
	t.recvMu.Lock()
	defer t.recvMu.Unlock()

	t.mu.Lock()
	if t.state == StateClosed || t.link != l {
		t.mu.Unlock()
		return nil
	}

	cursor := t.recvCursor
	switch {
	case seq <= cursor:
		if cursor-seq >= uint64(t.config.MaxWindow) {
			t.mu.Unlock()
			return protocolViolation("DATA seq %d is more than %d behind cursor %d", seq, t.config.MaxWindow, cursor)
		}
		t.stats.Duplicates++
		t.mu.Unlock()
		l.sendAck(cursor)
		return nil

	case seq > cursor+1:
		if seq-cursor > uint64(t.config.MaxWindow) {
			t.mu.Unlock()
			return protocolViolation("DATA seq %d is more than %d ahead of cursor %d", seq, t.config.MaxWindow, cursor)
		}
		if _, dup := t.ooo[seq]; dup {
			t.stats.Duplicates++
		} else {
			t.ooo[seq] = payload
			t.stats.OutOfOrder++
		}
		t.mu.Unlock()
		return nil
	}

	batch := [][]byte{payload}
	next := seq + 1
	for {
		p, ok := t.ooo[next]
		if !ok {
			break
		}
		delete(t.ooo, next)
		batch = append(batch, p)
		next++
	}
	t.recvCursor = next - 1
	t.stats.Delivered += uint64(len(batch))
	cursor = t.recvCursor
	handler := t.handler
	t.mu.Unlock()

	for _, p := range batch {
		handler.OnMessage(p)
	}
	l.sendAck(cursor)
	return nil
}

// receiveAck retires window entries up to ack.
func (t *MessageTransport) receiveAck(l *Link, ack uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state == StateClosed || t.link != l {
		return nil
	}
	if ack >= t.nextSeq {
		return protocolViolation("ACK %d for unsent sequence (next %d)", ack, t.nextSeq)
	}
	t.retireLocked(ack)
	return nil
}

func (t *MessageTransport) retireLocked(ack uint64) {
	if ack > t.ackCursor {
		t.ackCursor = ack
	}
	n := sort.Search(len(t.window), func(i int) bool { return t.window[i].Sequence > ack })
	if n == 0 {
		return
	}
	t.window = slices.Delete(t.window, 0, n)
	if t.sentCursor < ack {
		t.sentCursor = ack
	}
	t.broadcastLocked()
}

// takeUnsent implements the writer's pull of DATA frames for l.
func (t *MessageTransport) takeUnsent(l *Link, max int) []wire.Frame {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateConnected || t.link != l {
		return nil
	}
	start := sort.Search(len(t.window), func(i int) bool { return t.window[i].Sequence > t.sentCursor })
	end := min(start+max, len(t.window))
	if start >= end {
		return nil
	}
	frames := append([]wire.Frame(nil), t.window[start:end]...)
	t.sentCursor = frames[len(frames)-1].Sequence
	return frames
}

// resume binds l and queues every frame the peer has not acknowledged.
// peerAck is the peer's receive cursor from the handshake.
func (t *MessageTransport) resume(l *Link, peerAck uint64) (resent int, err error) {
	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		return 0, ErrTransportClosed
	}
	if peerAck >= t.nextSeq {
		t.mu.Unlock()
		return 0, protocolViolation("peer cursor %d ahead of next sequence %d", peerAck, t.nextSeq)
	}

	t.retireLocked(peerAck)
	written := t.sentCursor
	t.sentCursor = peerAck
	if t.attached {
		resent = sort.Search(len(t.window), func(i int) bool {
			return t.window[i].Sequence > written
		})
		t.stats.Resent += uint64(resent)
		t.stats.Reconnects++
	}
	t.attached = true
	t.link = l
	t.setStateLocked(StateConnected, nil)
	t.mu.Unlock()

	t.notify()
	l.signalData()
	return resent, nil
}

// pause unbinds l. It returns false if l is not the bound link.
func (t *MessageTransport) pause(l *Link) bool {
	t.mu.Lock()
	if t.state == StateClosed || t.link != l {
		t.mu.Unlock()
		return false
	}
	t.link = nil
	t.setStateLocked(StatePaused, nil)
	t.mu.Unlock()

	t.notify()
	return true
}

// closeWith moves the transport to CLOSED and reports unacknowledged
// sends. It returns false if the transport was already closed.
func (t *MessageTransport) closeWith(err error) bool {
	t.mu.Lock()
	if t.state == StateClosed {
		t.mu.Unlock()
		return false
	}

	var failed [][]byte
	for _, f := range t.window {
		failed = append(failed, f.Payload)
	}
	t.window = nil
	t.ooo = nil
	t.link = nil
	t.closeErr = err
	t.setStateLocked(StateClosed, err)
	if len(failed) > 0 {
		t.events = append(t.events, transportEvent{failed: failed, err: err})
	}
	t.broadcastLocked()
	t.mu.Unlock()

	t.notify()
	return true
}

func (t *MessageTransport) setStateLocked(s State, err error) {
	if t.state == s {
		return
	}
	t.events = append(t.events, transportEvent{oldState: t.state, newState: s, err: err})
	t.state = s
	t.broadcastLocked()
}

func (t *MessageTransport) broadcastLocked() {
	close(t.changed)
	t.changed = make(chan struct{})
}

// notify drains queued events to the handler. Only one goroutine drains at
// a time, which keeps notifications FIFO; a handler that re-enters the
// transport only enqueues.
func (t *MessageTransport) notify() {
	t.mu.Lock()
	if t.notifying {
		t.mu.Unlock()
		return
	}
	t.notifying = true

	for len(t.events) > 0 {
		ev := t.events[0]
		t.events = t.events[1:]
		handler, observe := t.handler, t.observe
		t.mu.Unlock()

		if ev.failed != nil {
			handler.OnDeliveryFailure(ev.failed, ev.err)
		} else {
			if observe != nil {
				observe(ev.oldState, ev.newState, ev.err)
			}
			handler.OnStateChange(ev.oldState, ev.newState)
		}

		t.mu.Lock()
	}
	t.notifying = false
	t.mu.Unlock()
}
