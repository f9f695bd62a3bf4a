package transport

import (
	"net"
	"net/http"
	"sync"

	"golang.org/x/net/websocket"
)

// wsListener wraps a TCP listener and WebSocket server to return connected
// WebSocket connections as net.Conn.
type wsListener struct {
	net.Listener
	srv       *http.Server
	accepted  chan net.Conn
	done      chan struct{}
	closeOnce sync.Once
}

// Accept waits for and returns the next WebSocket connection.
func (l *wsListener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.accepted:
		return conn, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

// Close closes the listener.
// Any blocked Accept operations will be unblocked and return errors.
func (l *wsListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.done)
		err = l.srv.Close()
	})
	return err
}

// ListenWS takes a TCP address and returns a listener for a HTTP+WebSocket
// server listening on it. Pass it as ServerConfig.Listener.
func ListenWS(addr string) (net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	wsl := &wsListener{
		Listener: l,
		accepted: make(chan net.Conn),
		done:     make(chan struct{}),
	}
	wsl.srv = &http.Server{
		Handler: websocket.Handler(func(ws *websocket.Conn) {
			ws.PayloadType = websocket.BinaryFrame
			conn := &wsConn{Conn: ws, closed: make(chan struct{})}
			select {
			case wsl.accepted <- conn:
			case <-wsl.done:
				ws.Close()
				return
			}
			// The HTTP handler owns the connection until it returns.
			select {
			case <-conn.closed:
			case <-wsl.done:
				ws.Close()
			}
		}),
	}
	go wsl.srv.Serve(l)
	return wsl, nil
}

// wsConn signals the handler goroutine when the connection is closed.
type wsConn struct {
	*websocket.Conn
	closeOnce sync.Once
	closed    chan struct{}
}

func (c *wsConn) Close() error {
	err := c.Conn.Close()
	c.closeOnce.Do(func() { close(c.closed) })
	return err
}
