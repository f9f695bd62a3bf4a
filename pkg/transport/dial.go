package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"golang.org/x/net/websocket"
)

// Dialer opens physical connections for a Client.
type Dialer interface {
	DialContext(ctx context.Context, address string) (net.Conn, error)
}

// DialerFunc adapts a function to a Dialer.
type DialerFunc func(ctx context.Context, address string) (net.Conn, error)

// DialContext implements Dialer.
func (f DialerFunc) DialContext(ctx context.Context, address string) (net.Conn, error) {
	return f(ctx, address)
}

// TCPDialer dials TCP, optionally with TLS.
type TCPDialer struct {
	// TLSConfig enables TLS when set. Build it with NewClientTLSConfig.
	TLSConfig *tls.Config

	// Timeout bounds the dial (and TLS handshake). Zero means only the
	// context applies.
	Timeout time.Duration
}

// DialContext implements Dialer.
func (d *TCPDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	nd := &net.Dialer{Timeout: d.Timeout}
	if d.TLSConfig == nil {
		return nd.DialContext(ctx, "tcp", address)
	}

	td := &tls.Dialer{NetDialer: nd, Config: d.TLSConfig}
	conn, err := td.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	if err := VerifyConnection(conn.(*tls.Conn).ConnectionState()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("connection verification failed: %w", err)
	}
	return conn, nil
}

// WSDialer dials a WebSocket server created with ListenWS. The address is
// a host and port; opening a connection at a particular path is not
// supported.
type WSDialer struct {
	// Origin sent in the WebSocket handshake. Defaults to http://<address>/.
	Origin string
}

// DialContext implements Dialer.
func (d *WSDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	origin := d.Origin
	if origin == "" {
		origin = fmt.Sprintf("http://%s/", address)
	}
	cfg, err := websocket.NewConfig(fmt.Sprintf("ws://%s/", address), origin)
	if err != nil {
		return nil, err
	}
	ws, err := cfg.DialContext(ctx)
	if err != nil {
		return nil, err
	}
	ws.PayloadType = websocket.BinaryFrame
	return ws, nil
}
