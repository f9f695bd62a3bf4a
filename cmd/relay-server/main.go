// Command relay-server accepts relay transports and echoes or sinks what
// they receive.
//
// Usage:
//
//	relay-server [flags]
//
// Flags:
//
//	-config string          Configuration file path (YAML)
//	-listen string          Listen address (default ":7470")
//	-ws                     Accept WebSocket connections instead of raw TCP
//	-tls-cert string        Server certificate (PEM); enables TLS
//	-tls-key string         Server private key (PEM)
//	-tls-ca string          CA bundle for client certificates (PEM)
//	-max-connections int    Maximum live transports, 0 for unbounded
//	-advertise string       Publish the server over mDNS under this name
//	-mode string            What to do with received messages: echo, sink
//	-log-level string       Log level: debug, info, warn, error
//	-protocol-log string    Write protocol events to this file (CBOR)
//
// Examples:
//
//	# Echo server on the default port
//	relay-server
//
//	# WebSocket server advertised on the local network
//	relay-server -ws -listen :8080 -advertise lab
//
//	# Server from a config file, recording protocol events
//	relay-server -config /etc/relay/server.yaml -protocol-log server.rlog
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/relay-protocol/relay-go/pkg/config"
	"github.com/relay-protocol/relay-go/pkg/discovery"
	"github.com/relay-protocol/relay-go/pkg/transport"
)

var (
	configFile     = flag.String("config", "", "Configuration file path (YAML)")
	listen         = flag.String("listen", "", "Listen address (default \":7470\")")
	websocket      = flag.Bool("ws", false, "Accept WebSocket connections instead of raw TCP")
	tlsCert        = flag.String("tls-cert", "", "Server certificate (PEM); enables TLS")
	tlsKey         = flag.String("tls-key", "", "Server private key (PEM)")
	tlsCA          = flag.String("tls-ca", "", "CA bundle for client certificates (PEM)")
	maxConnections = flag.Int("max-connections", -1, "Maximum live transports, 0 for unbounded")
	advertise      = flag.String("advertise", "", "Publish the server over mDNS under this name")
	mode           = flag.String("mode", "echo", "What to do with received messages: echo, sink")
	logLevel       = flag.String("log-level", "", "Log level: debug, info, warn, error")
	protocolLog    = flag.String("protocol-log", "", "Write protocol events to this file (CBOR)")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file (if any) and applies flag overrides.
func loadConfig() (*config.File, error) {
	cfg := &config.File{}
	if *configFile != "" {
		var err error
		if cfg, err = config.Load(*configFile); err != nil {
			return nil, err
		}
	}

	if *listen != "" {
		cfg.Server.Listen = *listen
	}
	if *websocket {
		cfg.Server.WebSocket = true
	}
	if *tlsCert != "" {
		cfg.Server.TLS.Cert = *tlsCert
		cfg.Server.TLS.Key = *tlsKey
	}
	if *tlsCA != "" {
		cfg.Server.TLS.CA = *tlsCA
	}
	if *maxConnections >= 0 {
		cfg.Server.MaxConnections = *maxConnections
	}
	if *advertise != "" {
		cfg.Server.Advertise = *advertise
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *protocolLog != "" {
		cfg.Log.Protocol = *protocolLog
	}

	switch *mode {
	case "echo", "sink":
	default:
		return nil, fmt.Errorf("unknown mode: %s", *mode)
	}
	return cfg, nil
}

func run(cfg *config.File, logger *slog.Logger) error {
	tconf, err := cfg.TransportConfig()
	if err != nil {
		return err
	}
	tconf.Logger = logger

	plog, closeLog, err := newProtocolLogger(cfg.Log.Protocol, logger)
	if err != nil {
		return err
	}
	defer closeLog()
	tconf.ProtocolLogger = plog

	sc := transport.ServerConfig{
		Address:        cfg.Server.Listen,
		MaxConnections: cfg.Server.MaxConnections,
		NewHandler:     newHandler(*mode, logger),
		Config:         tconf,
	}

	tlsOn := cfg.Server.TLS.Cert != ""
	if tlsOn {
		if cfg.Server.WebSocket {
			return errors.New("TLS is only supported on raw TCP listeners")
		}
		if sc.TLSConfig, err = cfg.Server.TLS.Load(true); err != nil {
			return err
		}
	}
	if cfg.Server.WebSocket {
		addr := cfg.Server.Listen
		if addr == "" {
			addr = fmt.Sprintf(":%d", transport.DefaultPort)
		}
		if sc.Listener, err = transport.ListenWS(addr); err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
	}

	srv, err := transport.NewServer(sc)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := srv.Start(ctx); err != nil {
		return err
	}
	defer srv.Stop()

	if cfg.Server.Advertise != "" {
		adv, err := startAdvertiser(ctx, cfg.Server.Advertise, srv.Addr(), cfg.Server.WebSocket, tlsOn)
		if err != nil {
			logger.Warn("mDNS advertising failed", "error", err)
		} else {
			defer adv.Stop()
			logger.Info("advertising", "instance", cfg.Server.Advertise, "service", discovery.ServiceType)
		}
	}

	<-ctx.Done()
	logger.Info("shutting down", "transports", srv.TransportCount())
	return nil
}

// newHandler returns the per-transport handler factory for mode.
func newHandler(mode string, logger *slog.Logger) func(*transport.MessageTransport) transport.Handler {
	return func(t *transport.MessageTransport) transport.Handler {
		id := t.ConnectionID()
		return transport.HandlerFuncs{
			Message: func(payload []byte) {
				if mode != "echo" {
					return
				}
				if err := t.Send(payload); err != nil {
					logger.Warn("echo failed", "conn_id", id, "error", err)
				}
			},
			StateChange: func(oldState, newState transport.State) {
				logger.Debug("transport state", "conn_id", id, "old", oldState, "new", newState)
			},
			DeliveryFailure: func(payloads [][]byte, err error) {
				logger.Info("undelivered messages dropped", "conn_id", id, "count", len(payloads), "error", err)
			},
		}
	}
}

func startAdvertiser(ctx context.Context, instance string, addr net.Addr, ws, tlsOn bool) (*discovery.MDNSAdvertiser, error) {
	info := &discovery.ServerInfo{Instance: instance, WebSocket: ws, TLS: tlsOn}
	if tcp, ok := addr.(*net.TCPAddr); ok {
		info.Port = uint16(tcp.Port)
	}

	adv, err := discovery.NewMDNSAdvertiser(discovery.DefaultAdvertiserConfig())
	if err != nil {
		return nil, err
	}
	if err := adv.Advertise(ctx, info); err != nil {
		return nil, err
	}
	return adv, nil
}
