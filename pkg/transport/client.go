package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/relay-protocol/relay-go/pkg/log"
	"github.com/relay-protocol/relay-go/pkg/wire"
)

// ClientConfig configures a relay client.
type ClientConfig struct {
	// Address of the server.
	Address string

	// Dialer opens physical connections. Defaults to a plain TCPDialer.
	Dialer Dialer

	// Handler receives what the transport delivers (optional).
	Handler Handler

	// Config holds the transport settings.
	Config Config
}

// Client dials a relay server and establishes transports.
type Client struct {
	config ClientConfig
	tconf  Config
}

// NewClient creates a new relay client.
func NewClient(config ClientConfig) (*Client, error) {
	if config.Address == "" {
		return nil, fmt.Errorf("%w: Address is required", ErrInvalidConfig)
	}
	if err := config.Config.Validate(); err != nil {
		return nil, err
	}
	if config.Dialer == nil {
		config.Dialer = &TCPDialer{}
	}
	return &Client{
		config: config,
		tconf:  config.Config.withDefaults(),
	}, nil
}

// Connect dials the server and performs the initial handshake. The returned
// transport reconnects on its own until it is closed, its grace period
// expires or a reconnect is rejected.
func (c *Client) Connect(ctx context.Context) (*MessageTransport, error) {
	h := newStackHarness(c.tconf, c.config.Handler, log.RoleClient)
	h.redial = c.redial
	if c.tconf.Health.SocketConnect {
		h.socketProbe = c.probe
	}

	l, id, peerAck, err := c.handshake(ctx, wire.NullConnectionID, 0)
	if err != nil {
		h.finalize(err, false)
		return nil, err
	}
	h.transport.setID(id)
	if err := h.attach(l, peerAck); err != nil {
		return nil, err
	}

	c.tconf.Logger.Info("transport connected", "conn_id", id, "remote", l.RemoteAddr())
	return h.transport, nil
}

func (c *Client) redial(ctx context.Context, id wire.ConnectionID, cursor uint64) (*Link, uint64, error) {
	l, _, peerAck, err := c.handshake(ctx, id, cursor)
	return l, peerAck, err
}

// probe checks that the server still accepts connections.
func (c *Client) probe(ctx context.Context) error {
	conn, err := c.config.Dialer.DialContext(ctx, c.config.Address)
	if err != nil {
		return err
	}
	return conn.Close()
}

// handshake dials the server and exchanges HANDSHAKE / HANDSHAKE_REPLY.
// A null id requests a new transport; cursor is the local receive cursor.
func (c *Client) handshake(ctx context.Context, id wire.ConnectionID, cursor uint64) (*Link, wire.ConnectionID, uint64, error) {
	deadline := time.Now().Add(c.tconf.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	dctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	conn, err := c.config.Dialer.DialContext(dctx, c.config.Address)
	if err != nil {
		if dctx.Err() != nil && ctx.Err() == nil {
			return nil, id, 0, fmt.Errorf("%w: %w", ErrHandshakeTimeout, err)
		}
		return nil, id, 0, fmt.Errorf("dial failed: %w", err)
	}

	l := newLink(conn, c.tconf)

	req := wire.HandshakeFrame(id, cursor)
	if err := l.writeNow(req); err != nil {
		_ = l.Close()
		return nil, id, 0, fmt.Errorf("handshake write failed: %w", err)
	}
	c.logHandshake(l, id, log.DirectionOut, req)

	f, err := l.readFrame(deadline)
	if err != nil {
		_ = l.Close()
		if errors.Is(ctx.Err(), context.Canceled) {
			return nil, id, 0, ctx.Err()
		}
		if isTimeout(err) {
			return nil, id, 0, ErrHandshakeTimeout
		}
		return nil, id, 0, fmt.Errorf("handshake read failed: %w", err)
	}
	c.logHandshake(l, id, log.DirectionIn, f)

	switch f.Kind {
	case wire.KindHandshakeReply:
		got, err := wire.DecodeHandshake(f.Payload)
		if err != nil {
			_ = l.Close()
			return nil, id, 0, fmt.Errorf("%w: %w", ErrProtocolViolation, err)
		}
		if got.IsNull() || (!id.IsNull() && got != id) {
			_ = l.Close()
			return nil, id, 0, protocolViolation("handshake reply for %s, requested %s", got, id)
		}
		return l, got, f.Sequence, nil

	case wire.KindClose:
		_ = l.Close()
		r, err := wire.DecodeCloseReason(f.Payload)
		if err != nil {
			return nil, id, 0, fmt.Errorf("%w: %w", ErrProtocolViolation, err)
		}
		return nil, id, 0, closeError(r)

	default:
		_ = l.Close()
		return nil, id, 0, protocolViolation("expected HANDSHAKE_REPLY, got %s", f.Kind)
	}
}

func (c *Client) logHandshake(l *Link, id wire.ConnectionID, dir log.Direction, f wire.Frame) {
	typ, ok := log.ControlMsgTypeForKind(f.Kind)
	if !ok {
		return
	}
	ev := log.Event{
		Timestamp: time.Now(),
		Direction: dir,
		Layer:     log.LayerHarness,
		Category:  log.CategoryControl,
		LocalRole: log.RoleClient,
		LinkID:    l.ID(),
		ControlMsg: &log.ControlMsgEvent{
			Type:     typ,
			Sequence: f.Sequence,
		},
	}
	if addr := l.RemoteAddr(); addr != nil {
		ev.RemoteAddr = addr.String()
	}
	if got, err := wire.DecodeHandshake(f.Payload); err == nil && !got.IsNull() {
		ev.ConnectionID = got.String()
	} else if !id.IsNull() {
		ev.ConnectionID = id.String()
	}
	if f.Kind == wire.KindClose {
		if r, err := wire.DecodeCloseReason(f.Payload); err == nil {
			code := uint8(r.Code)
			ev.ControlMsg.CloseReason = &code
		}
	}
	c.tconf.ProtocolLogger.Log(ev)
}
