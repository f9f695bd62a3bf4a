package transport

import (
	"errors"
	"time"

	"github.com/relay-protocol/relay-go/pkg/log"
	"github.com/relay-protocol/relay-go/pkg/wire"
)

func (h *StackHarness) baseEvent(l *Link, layer log.Layer, cat log.Category) log.Event {
	ev := log.Event{
		Timestamp: time.Now(),
		Layer:     layer,
		Category:  cat,
		LocalRole: h.role,
	}
	if id := h.transport.ConnectionID(); !id.IsNull() {
		ev.ConnectionID = id.String()
	}
	if l != nil {
		ev.LinkID = l.ID()
		if addr := l.RemoteAddr(); addr != nil {
			ev.RemoteAddr = addr.String()
		}
	}
	return ev
}

func (h *StackHarness) stateEvent(l *Link, layer log.Layer, sc *log.StateChangeEvent) log.Event {
	ev := h.baseEvent(l, layer, log.CategoryState)
	ev.StateChange = sc
	return ev
}

// logFrame records one frame crossing the wire.
func (h *StackHarness) logFrame(l *Link, dir log.Direction, f wire.Frame) {
	if f.Kind == wire.KindData {
		resend := false
		if dir == log.DirectionOut {
			resend = !h.markWritten(f.Sequence)
		}
		ev := h.baseEvent(l, log.LayerTransport, log.CategoryData)
		ev.Direction = dir
		ev.Frame = log.NewFrameEvent(f)
		ev.Frame.Resend = resend
		h.plog.Log(ev)
		return
	}

	typ, ok := log.ControlMsgTypeForKind(f.Kind)
	if !ok {
		return
	}
	ev := h.baseEvent(l, log.LayerWire, log.CategoryControl)
	ev.Direction = dir
	ev.ControlMsg = &log.ControlMsgEvent{Type: typ, Sequence: f.Sequence}
	if f.Kind == wire.KindClose {
		if r, err := wire.DecodeCloseReason(f.Payload); err == nil {
			code := uint8(r.Code)
			ev.ControlMsg.CloseReason = &code
		}
	}
	h.plog.Log(ev)
}

// markWritten records seq as written and reports whether it is new.
func (h *StackHarness) markWritten(seq uint64) bool {
	for {
		cur := h.maxWritten.Load()
		if seq <= cur {
			return false
		}
		if h.maxWritten.CompareAndSwap(cur, seq) {
			return true
		}
	}
}

func (h *StackHarness) logLink(l *Link, state, reason string) {
	h.plog.Log(h.stateEvent(l, log.LayerHarness, &log.StateChangeEvent{
		Entity:   log.StateEntityLink,
		NewState: state,
		Reason:   reason,
	}))
}

func (h *StackHarness) logTransportState(old, new State, cause error) {
	sc := &log.StateChangeEvent{
		Entity:   log.StateEntityTransport,
		OldState: old.String(),
		NewState: new.String(),
	}
	if cause != nil {
		sc.Reason = cause.Error()
	}
	h.plog.Log(h.stateEvent(h.Link(), log.LayerTransport, sc))

	if new == StateClosed && cause != nil && !errors.Is(cause, ErrTransportClosed) {
		code := int(closeReasonFor(cause).Code)
		ev := h.baseEvent(nil, log.LayerTransport, log.CategoryError)
		ev.Error = &log.ErrorEventData{
			Layer:   log.LayerTransport,
			Message: cause.Error(),
			Code:    &code,
			Context: "close",
		}
		h.plog.Log(ev)
	}
}
