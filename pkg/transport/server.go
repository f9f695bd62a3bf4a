package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/relay-protocol/relay-go/pkg/log"
	"github.com/relay-protocol/relay-go/pkg/wire"
)

// DefaultPort is the default relay server port.
const DefaultPort = 7470

// ServerConfig configures a relay server.
type ServerConfig struct {
	// Address to listen on (e.g., ":7470" or "127.0.0.1:7470").
	// Ignored when Listener is set.
	Address string

	// Listener accepts physical connections. If nil, Start listens on
	// Address over TCP.
	Listener net.Listener

	// TLSConfig enables TLS on the listener (optional).
	TLSConfig *TLSConfig

	// Registry holds the server's transports. A new one is created if nil.
	Registry *Registry

	// MaxConnections bounds the number of live transports (PAUSED ones
	// included). Zero means unbounded.
	MaxConnections int

	// NewHandler returns the handler for a newly created transport.
	// Transports without a handler discard what they receive.
	NewHandler func(t *MessageTransport) Handler

	// Config holds the transport settings.
	Config Config
}

// Server accepts physical connections and binds each to a new or
// existing transport according to the ConnectionID in its handshake.
type Server struct {
	config   ServerConfig
	tconf    Config
	tlsConf  *tls.Config
	registry *Registry
	logger   *slog.Logger
	listener net.Listener

	// Connections still in the handshake.
	pending   map[net.Conn]struct{}
	pendingMu sync.Mutex

	// State
	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewServer creates a new relay server.
func NewServer(config ServerConfig) (*Server, error) {
	if err := config.Config.Validate(); err != nil {
		return nil, err
	}
	if config.MaxConnections < 0 {
		return nil, fmt.Errorf("%w: MaxConnections %d is negative", ErrInvalidConfig, config.MaxConnections)
	}
	if config.Address == "" && config.Listener == nil {
		config.Address = fmt.Sprintf(":%d", DefaultPort)
	}
	if config.Registry == nil {
		config.Registry = NewRegistry()
	}

	var tlsConf *tls.Config
	if config.TLSConfig != nil {
		var err error
		tlsConf, err = NewServerTLSConfig(config.TLSConfig)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
	}

	tconf := config.Config.withDefaults()
	return &Server{
		config:   config,
		tconf:    tconf,
		tlsConf:  tlsConf,
		registry: config.Registry,
		logger:   tconf.Logger,
		pending:  make(map[net.Conn]struct{}),
	}, nil
}

// Start starts the server and begins accepting connections.
func (s *Server) Start(ctx context.Context) error {
	if s.running.Load() {
		return fmt.Errorf("server already running")
	}

	listener := s.config.Listener
	if listener == nil {
		var err error
		listener, err = net.Listen("tcp", s.config.Address)
		if err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
	}
	if s.tlsConf != nil {
		listener = tls.NewListener(listener, s.tlsConf)
	}
	s.listener = listener

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running.Store(true)

	s.wg.Add(1)
	go s.acceptLoop()

	s.logger.Info("relay server listening", "addr", listener.Addr())
	return nil
}

// Stop stops accepting, closes every transport and waits for pending
// handshakes to finish.
func (s *Server) Stop() error {
	if !s.running.Swap(false) {
		return nil
	}
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}

	s.pendingMu.Lock()
	for conn := range s.pending {
		_ = conn.Close()
	}
	s.pendingMu.Unlock()

	for _, h := range s.registry.All() {
		h.Finalize()
	}

	s.wg.Wait()
	return nil
}

// Addr returns the server's listen address.
func (s *Server) Addr() net.Addr {
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// TransportCount returns the number of live transports.
func (s *Server) TransportCount() int {
	return s.registry.Len()
}

// Registry returns the server's transport registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.running.Load() || errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Warn("accept failed", "error", err)
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection runs the server side of the handshake and hands the
// link to the matching harness.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	s.pendingMu.Lock()
	s.pending[conn] = struct{}{}
	s.pendingMu.Unlock()
	defer func() {
		s.pendingMu.Lock()
		delete(s.pending, conn)
		s.pendingMu.Unlock()
	}()

	deadline := time.Now().Add(s.tconf.HandshakeTimeout)

	if tlsConn, ok := conn.(*tls.Conn); ok {
		hctx, cancel := context.WithDeadline(s.ctx, deadline)
		err := tlsConn.HandshakeContext(hctx)
		cancel()
		if err == nil {
			err = VerifyConnection(tlsConn.ConnectionState())
		}
		if err != nil {
			_ = conn.Close()
			s.logger.Debug("TLS handshake failed", "remote", conn.RemoteAddr(), "error", err)
			return
		}
	}

	l := newLink(conn, s.tconf)
	f, err := l.readFrame(deadline)
	if err != nil {
		_ = l.Close()
		if isTimeout(err) {
			s.logger.Debug("handshake timeout", "remote", conn.RemoteAddr())
		} else {
			s.logger.Debug("handshake read failed", "remote", conn.RemoteAddr(), "error", err)
		}
		return
	}
	s.logHandshake(l, log.DirectionIn, f)

	if f.Kind != wire.KindHandshake {
		s.reject(l, protocolViolation("expected HANDSHAKE, got %s", f.Kind))
		return
	}
	id, err := wire.DecodeHandshake(f.Payload)
	if err != nil {
		s.reject(l, fmt.Errorf("%w: %w", ErrProtocolViolation, err))
		return
	}

	if id.IsNull() {
		s.createStack(l, f.Sequence)
	} else {
		s.resumeStack(l, id, f.Sequence)
	}
}

// createStack mints a new transport for l.
func (s *Server) createStack(l *Link, peerAck uint64) {
	h := newStackHarness(s.tconf, nil, log.RoleServer)
	h.registry = s.registry

	id, err := s.registry.register(h, s.config.MaxConnections)
	if err != nil {
		s.reject(l, err)
		return
	}
	h.transport.setID(id)
	if !s.running.Load() {
		h.finalize(ErrTransportClosed, false)
		s.reject(l, ErrTransportClosed)
		return
	}
	if s.config.NewHandler != nil {
		h.transport.setHandler(s.config.NewHandler(h.transport))
	}

	reply := wire.HandshakeReplyFrame(id, 0)
	if err := l.writeNow(reply); err != nil {
		s.logger.Debug("handshake reply failed", "conn_id", id, "error", err)
		h.finalize(fmt.Errorf("%w: %w", ErrLinkClosed, err), false)
		_ = l.Close()
		return
	}
	s.logHandshake(l, log.DirectionOut, reply)

	if err := h.attach(l, peerAck); err != nil {
		return
	}
	s.logger.Info("transport created", "conn_id", id, "remote", l.RemoteAddr())
}

// resumeStack rebinds l to the transport registered under id.
func (s *Server) resumeStack(l *Link, id wire.ConnectionID, peerAck uint64) {
	h, err := s.registry.Lookup(id)
	if err != nil {
		s.reject(l, err)
		return
	}

	reply := wire.HandshakeReplyFrame(id, h.transport.receiveCursor())
	if err := l.writeNow(reply); err != nil {
		_ = l.Close()
		return
	}
	s.logHandshake(l, log.DirectionOut, reply)

	if err := h.attach(l, peerAck); err != nil {
		return
	}
	s.logger.Info("transport resumed", "conn_id", id, "remote", l.RemoteAddr())
}

// reject answers a handshake with CLOSE and drops the connection.
func (s *Server) reject(l *Link, cause error) {
	r := closeReasonFor(cause)
	if errors.Is(cause, ErrMaxConnections) {
		r.MaxConnections = uint32(s.config.MaxConnections)
	}
	if f, err := wire.CloseFrame(r); err == nil {
		if l.writeNow(f) == nil {
			s.logHandshake(l, log.DirectionOut, f)
		}
	}
	_ = l.Close()
	s.logger.Info("handshake rejected", "remote", l.RemoteAddr(), "reason", r)
}

func (s *Server) logHandshake(l *Link, dir log.Direction, f wire.Frame) {
	typ, ok := log.ControlMsgTypeForKind(f.Kind)
	if !ok {
		return
	}
	ev := log.Event{
		Timestamp: time.Now(),
		Direction: dir,
		Layer:     log.LayerHarness,
		Category:  log.CategoryControl,
		LocalRole: log.RoleServer,
		LinkID:    l.ID(),
		ControlMsg: &log.ControlMsgEvent{
			Type:     typ,
			Sequence: f.Sequence,
		},
	}
	if addr := l.RemoteAddr(); addr != nil {
		ev.RemoteAddr = addr.String()
	}
	if id, err := wire.DecodeHandshake(f.Payload); err == nil && !id.IsNull() {
		ev.ConnectionID = id.String()
	}
	if f.Kind == wire.KindClose {
		if r, err := wire.DecodeCloseReason(f.Payload); err == nil {
			code := uint8(r.Code)
			ev.ControlMsg.CloseReason = &code
		}
	}
	s.tconf.ProtocolLogger.Log(ev)
}
