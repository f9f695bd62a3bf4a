// Package netsim is an in-memory network for transport tests. Connections
// are synchronous pipes that can be severed, refused or blackholed on
// demand, which makes reconnect and health-check scenarios deterministic.
package netsim

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
)

// Errors returned by the simulated network.
var (
	ErrAddrInUse   = errors.New("netsim: address in use")
	ErrRefused     = errors.New("netsim: connection refused")
	ErrNetworkDown = errors.New("netsim: network down")
)

// Addr is a simulated network address.
type Addr string

// Network implements net.Addr.
func (a Addr) Network() string { return "netsim" }

// String implements net.Addr.
func (a Addr) String() string { return string(a) }

// Network is a set of listeners and the connections between them.
type Network struct {
	mu        sync.Mutex
	listeners map[string]*Listener
	conns     map[*Conn]struct{}
	nextPort  int

	down      atomic.Bool
	blackhole atomic.Bool
	dials     atomic.Int64
}

// New creates an empty network that is up.
func New() *Network {
	return &Network{
		listeners: make(map[string]*Listener),
		conns:     make(map[*Conn]struct{}),
		nextPort:  40000,
	}
}

// Listen registers a listener at addr.
func (n *Network) Listen(addr string) (*Listener, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, ok := n.listeners[addr]; ok {
		return nil, fmt.Errorf("%w: %s", ErrAddrInUse, addr)
	}
	l := &Listener{
		net:      n,
		addr:     Addr(addr),
		accepted: make(chan net.Conn),
		done:     make(chan struct{}),
	}
	n.listeners[addr] = l
	return l, nil
}

// DialContext connects to the listener at addr. It fails while the network
// is down or when nothing listens at addr.
func (n *Network) DialContext(ctx context.Context, addr string) (net.Conn, error) {
	n.dials.Add(1)
	if n.down.Load() {
		return nil, ErrNetworkDown
	}

	n.mu.Lock()
	l, ok := n.listeners[addr]
	n.nextPort++
	local := Addr(fmt.Sprintf("client:%d", n.nextPort))
	n.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRefused, addr)
	}

	a, b := net.Pipe()
	client := n.track(a, local, l.addr)
	server := n.track(b, l.addr, local)

	select {
	case l.accepted <- server:
		return client, nil
	case <-l.done:
		client.Close()
		server.Close()
		return nil, fmt.Errorf("%w: %s", ErrRefused, addr)
	case <-ctx.Done():
		client.Close()
		server.Close()
		return nil, ctx.Err()
	}
}

// Sever closes every open connection. Listeners stay open.
func (n *Network) Sever() {
	n.mu.Lock()
	conns := make([]*Conn, 0, len(n.conns))
	for c := range n.conns {
		conns = append(conns, c)
	}
	n.mu.Unlock()

	for _, c := range conns {
		c.Close()
	}
}

// SetDown makes dials fail while down is true. Existing connections are
// not affected; combine with Sever for a full outage.
func (n *Network) SetDown(down bool) {
	n.down.Store(down)
}

// SetBlackhole makes every write succeed without delivering anything,
// simulating a peer that vanished without closing the connection.
func (n *Network) SetBlackhole(on bool) {
	n.blackhole.Store(on)
}

// Conns returns the number of open connection ends.
func (n *Network) Conns() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.conns)
}

// Dials returns the number of dial attempts made.
func (n *Network) Dials() int {
	return int(n.dials.Load())
}

func (n *Network) track(c net.Conn, local, remote Addr) *Conn {
	conn := &Conn{Conn: c, net: n, local: local, remote: remote}
	n.mu.Lock()
	n.conns[conn] = struct{}{}
	n.mu.Unlock()
	return conn
}

func (n *Network) untrack(c *Conn) {
	n.mu.Lock()
	delete(n.conns, c)
	n.mu.Unlock()
}

func (n *Network) removeListener(l *Listener) {
	n.mu.Lock()
	if n.listeners[string(l.addr)] == l {
		delete(n.listeners, string(l.addr))
	}
	n.mu.Unlock()
}

// Listener accepts simulated connections.
type Listener struct {
	net       *Network
	addr      Addr
	accepted  chan net.Conn
	done      chan struct{}
	closeOnce sync.Once
}

// Accept implements net.Listener.
func (l *Listener) Accept() (net.Conn, error) {
	select {
	case c := <-l.accepted:
		return c, nil
	case <-l.done:
		return nil, net.ErrClosed
	}
}

// Close implements net.Listener.
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.net.removeListener(l)
	})
	return nil
}

// Addr implements net.Listener.
func (l *Listener) Addr() net.Addr {
	return l.addr
}

// Conn is one end of a simulated connection.
type Conn struct {
	net.Conn
	net           *Network
	local, remote Addr
	closeOnce     sync.Once
}

// Write implements net.Conn. While the network is blackholed the data is
// discarded.
func (c *Conn) Write(b []byte) (int, error) {
	if c.net.blackhole.Load() {
		return len(b), nil
	}
	return c.Conn.Write(b)
}

// Close implements net.Conn.
func (c *Conn) Close() error {
	err := c.Conn.Close()
	c.closeOnce.Do(func() { c.net.untrack(c) })
	if errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}

// LocalAddr implements net.Conn.
func (c *Conn) LocalAddr() net.Addr { return c.local }

// RemoteAddr implements net.Conn.
func (c *Conn) RemoteAddr() net.Addr { return c.remote }
