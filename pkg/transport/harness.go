package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relay-protocol/relay-go/pkg/connection"
	"github.com/relay-protocol/relay-go/pkg/log"
	"github.com/relay-protocol/relay-go/pkg/wire"
)

// redialFunc performs a reconnect handshake for the given identity and
// receive cursor and returns the new link with the peer's cursor.
type redialFunc func(ctx context.Context, id wire.ConnectionID, cursor uint64) (*Link, uint64, error)

// StackHarness owns one MessageTransport and the physical connection
// currently bound to it. It attaches links after a handshake, runs the
// health checker per link, holds the grace timer while PAUSED and, on
// the client side, drives the reconnect loop.
type StackHarness struct {
	transport *MessageTransport
	config    Config
	role      log.Role
	logger    *slog.Logger
	plog      log.Logger

	// Server side only.
	registry *Registry

	// Client side only.
	redial      redialFunc
	socketProbe func(ctx context.Context) error

	ctx    context.Context
	cancel context.CancelFunc

	// Highest DATA sequence ever written; lower ones are resends.
	maxWritten atomic.Uint64

	mu           sync.Mutex
	link         *Link
	health       *HealthChecker
	grace        *time.Timer
	graceGen     uint64
	closed       bool
	reconnecting bool

	// Why the last reconnect loop gave up, reported with grace expiry.
	reconnectErr error
}

func newStackHarness(cfg Config, handler Handler, role log.Role) *StackHarness {
	ctx, cancel := context.WithCancel(context.Background())
	h := &StackHarness{
		transport: newMessageTransport(cfg, handler),
		config:    cfg,
		role:      role,
		logger:    cfg.Logger,
		plog:      cfg.ProtocolLogger,
		ctx:       ctx,
		cancel:    cancel,
	}
	h.transport.harness = h
	h.transport.observe = h.logTransportState
	return h
}

// Transport returns the transport owned by the harness.
func (h *StackHarness) Transport() *MessageTransport {
	return h.transport
}

// Link returns the bound physical connection, or nil while not CONNECTED.
func (h *StackHarness) Link() *Link {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.link
}

// Finalize closes the transport permanently and notifies the peer if a
// link is bound.
func (h *StackHarness) Finalize() {
	h.finalize(ErrTransportClosed, true)
}

// attach binds l to the transport after a successful handshake. peerAck is
// the peer's receive cursor. A previously bound link is closed.
func (h *StackHarness) attach(l *Link, peerAck uint64) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = l.Close()
		return ErrTransportClosed
	}
	h.stopGraceLocked()
	h.reconnecting = false
	h.reconnectErr = nil

	old, oldHealth := h.link, h.health
	hc := h.newHealthChecker(l)
	l.health = hc
	h.link, h.health = l, hc
	h.mu.Unlock()

	if oldHealth != nil {
		oldHealth.Stop()
	}
	if old != nil && old != l {
		_ = old.Close()
	}

	resent, err := h.transport.resume(l, peerAck)
	if err != nil {
		h.finalize(err, true)
		return err
	}

	h.logLink(l, "ATTACHED", "")
	h.logger.Debug("link attached",
		"conn_id", h.transport.ConnectionID(),
		"link", l.ID(),
		"remote", l.RemoteAddr(),
		"peer_ack", peerAck,
		"resent", resent)

	l.start(h)
	hc.Start(h.ctx)
	return nil
}

func (h *StackHarness) newHealthChecker(l *Link) *HealthChecker {
	hc := NewHealthChecker(h.config.Health,
		func(seq uint64) error {
			if !l.sendControl(wire.Frame{Kind: wire.KindPing, Sequence: seq}) {
				return ErrLinkClosed
			}
			return nil
		},
		func() { h.detach(l, ErrPeerUnresponsive) },
	)
	if h.socketProbe != nil {
		hc.SetSocketProbe(h.socketProbe)
	}
	hc.SetStateCallback(func(old, new HealthState) {
		h.plog.Log(h.stateEvent(l, log.LayerHealth, &log.StateChangeEvent{
			Entity:   log.StateEntityHealth,
			OldState: old.String(),
			NewState: new.String(),
		}))
	})
	return hc
}

// detach unbinds l after it failed. Terminal errors close the transport;
// anything else pauses it, starts the grace timer and, on the client,
// the reconnect loop.
func (h *StackHarness) detach(l *Link, cause error) {
	h.mu.Lock()
	if h.closed || h.link != l {
		h.mu.Unlock()
		_ = l.Close()
		return
	}
	if IsTerminal(cause) {
		h.mu.Unlock()
		h.finalize(cause, !errors.Is(cause, ErrPeerClosed))
		return
	}

	hc := h.health
	h.link, h.health = nil, nil
	h.startGraceLocked()
	startReconnect := h.redial != nil && !h.reconnecting && !h.config.DisableReconnect
	if startReconnect {
		h.reconnecting = true
	}
	h.mu.Unlock()

	if hc != nil {
		hc.Stop()
	}
	_ = l.Close()

	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	h.logLink(l, "DETACHED", reason)
	h.logger.Info("link lost",
		"conn_id", h.transport.ConnectionID(),
		"link", l.ID(),
		"error", cause)

	if !h.transport.pause(l) {
		return
	}
	if startReconnect {
		go h.reconnect(time.Now().Add(h.config.GracePeriod))
	}
}

func (h *StackHarness) startGraceLocked() {
	h.stopGraceLocked()
	gen := h.graceGen
	h.grace = time.AfterFunc(h.config.GracePeriod, func() {
		h.mu.Lock()
		if h.closed || h.graceGen != gen {
			h.mu.Unlock()
			return
		}
		cause := ErrGraceExpired
		if h.reconnectErr != nil {
			cause = fmt.Errorf("%w: %w", ErrGraceExpired, h.reconnectErr)
		}
		l, hc := h.shutdownLocked()
		h.mu.Unlock()

		h.logger.Info("grace period expired", "conn_id", h.transport.ConnectionID())
		h.complete(l, hc, cause, false)
	})
}

func (h *StackHarness) stopGraceLocked() {
	h.graceGen++
	if h.grace != nil {
		h.grace.Stop()
		h.grace = nil
	}
}

// reconnect redials until a handshake succeeds, a terminal error occurs,
// attempts run out or the grace deadline passes.
func (h *StackHarness) reconnect(deadline time.Time) {
	est := connection.NewEstablisher(connection.EstablisherConfig{
		Backoff:        h.config.Backoff,
		MaxAttempts:    h.config.MaxReconnectTries,
		Deadline:       deadline,
		AttemptTimeout: h.config.HandshakeTimeout,
		IsTerminal:     IsTerminal,
		OnAttempt: func(attempt int, delay time.Duration) {
			h.logger.Debug("reconnecting",
				"conn_id", h.transport.ConnectionID(),
				"attempt", attempt,
				"delay", delay)
		},
		OnFailure: func(attempt int, err error) {
			h.logger.Debug("reconnect attempt failed",
				"conn_id", h.transport.ConnectionID(),
				"attempt", attempt,
				"error", err)
		},
	})

	err := est.Run(h.ctx, func(ctx context.Context) error {
		l, peerAck, err := h.redial(ctx, h.transport.ConnectionID(), h.transport.receiveCursor())
		if err != nil {
			return err
		}
		return h.attach(l, peerAck)
	})
	if err == nil {
		return
	}

	h.mu.Lock()
	h.reconnecting = false
	h.mu.Unlock()

	switch {
	case h.ctx.Err() != nil:
	case errors.Is(err, connection.ErrReconnectDisabled), errors.Is(err, connection.ErrAttemptsExhausted):
		// Stay PAUSED; the grace timer closes the transport.
		h.mu.Lock()
		h.reconnectErr = fmt.Errorf("%w: %w", ErrReconnectFailed, err)
		h.mu.Unlock()
		h.logger.Info("reconnect abandoned, waiting for grace period",
			"conn_id", h.transport.ConnectionID(),
			"error", err)
	case errors.Is(err, connection.ErrDeadlineExceeded):
		h.finalize(ErrGraceExpired, false)
	default:
		h.finalize(err, false)
	}
}

// finalize closes the transport for good. It is idempotent.
func (h *StackHarness) finalize(cause error, notifyPeer bool) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	l, hc := h.shutdownLocked()
	h.mu.Unlock()

	h.complete(l, hc, cause, notifyPeer)
}

func (h *StackHarness) shutdownLocked() (*Link, *HealthChecker) {
	h.closed = true
	h.stopGraceLocked()
	l, hc := h.link, h.health
	h.link, h.health = nil, nil
	return l, hc
}

func (h *StackHarness) complete(l *Link, hc *HealthChecker, cause error, notifyPeer bool) {
	h.cancel()
	if hc != nil {
		hc.Stop()
	}
	if l != nil {
		if notifyPeer {
			h.sendClose(l, closeReasonFor(cause))
		}
		_ = l.Close()
		h.logLink(l, "DETACHED", cause.Error())
	}

	id := h.transport.ConnectionID()
	h.transport.closeWith(cause)
	if h.registry != nil {
		h.registry.Remove(id)
	}

	if errors.Is(cause, ErrTransportClosed) {
		h.logger.Debug("transport closed", "conn_id", id)
	} else {
		h.logger.Info("transport closed", "conn_id", id, "error", cause)
	}
}

// sendClose writes a CLOSE frame directly, bypassing the writer task.
func (h *StackHarness) sendClose(l *Link, r wire.CloseReason) {
	f, err := wire.CloseFrame(r)
	if err != nil {
		return
	}
	if err := l.writeNow(f); err != nil {
		h.logger.Debug("failed to send close", "link", l.ID(), "error", err)
		return
	}
	h.logFrame(l, log.DirectionOut, f)
}

// handleFrame implements linkHandler.
func (h *StackHarness) handleFrame(l *Link, f wire.Frame) error {
	h.logFrame(l, log.DirectionIn, f)
	if l.health != nil {
		l.health.Touch()
	}

	switch f.Kind {
	case wire.KindData:
		return h.transport.receiveData(l, f.Sequence, f.Payload)
	case wire.KindAck:
		return h.transport.receiveAck(l, f.Sequence)
	case wire.KindPing:
		l.sendControl(wire.Frame{Kind: wire.KindPingReply, Sequence: f.Sequence})
		return nil
	case wire.KindPingReply:
		return nil
	case wire.KindClose:
		r, err := wire.DecodeCloseReason(f.Payload)
		if err != nil {
			return protocolViolation("CLOSE: %v", err)
		}
		return closeError(r)
	default:
		return protocolViolation("unexpected %s on an attached link", f.Kind)
	}
}

// takeUnsent implements linkHandler.
func (h *StackHarness) takeUnsent(l *Link, max int) []wire.Frame {
	return h.transport.takeUnsent(l, max)
}

// framesWritten implements linkHandler.
func (h *StackHarness) framesWritten(l *Link, frames []wire.Frame) {
	for _, f := range frames {
		h.logFrame(l, log.DirectionOut, f)
	}
}

// linkDone implements linkHandler.
func (h *StackHarness) linkDone(l *Link, err error) {
	h.detach(l, err)
}
