// Command relay-client connects to a relay server and sends messages from
// an interactive console.
//
// Usage:
//
//	relay-client [flags]
//
// Flags:
//
//	-config string          Configuration file path (YAML)
//	-address string         Server address host:port
//	-browse string          Find the server over mDNS ("any" for the first one)
//	-ws                     Connect over WebSocket
//	-tls                    Connect over TLS
//	-tls-cert string        Client certificate (PEM)
//	-tls-key string         Client private key (PEM)
//	-tls-ca string          CA bundle for the server certificate (PEM)
//	-tls-server-name string Expected server name
//	-log-level string       Log level: debug, info, warn, error
//	-protocol-log string    Write protocol events to this file (CBOR)
//
// Examples:
//
//	# Connect to a local server
//	relay-client -address localhost:7470
//
//	# Find a server named "lab" on the local network
//	relay-client -browse lab
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chzyer/readline"

	"github.com/relay-protocol/relay-go/pkg/config"
	"github.com/relay-protocol/relay-go/pkg/discovery"
	"github.com/relay-protocol/relay-go/pkg/transport"
)

var (
	configFile    = flag.String("config", "", "Configuration file path (YAML)")
	address       = flag.String("address", "", "Server address host:port")
	browse        = flag.String("browse", "", "Find the server over mDNS (\"any\" for the first one)")
	websocket     = flag.Bool("ws", false, "Connect over WebSocket")
	tlsFlag       = flag.Bool("tls", false, "Connect over TLS")
	tlsCert       = flag.String("tls-cert", "", "Client certificate (PEM)")
	tlsKey        = flag.String("tls-key", "", "Client private key (PEM)")
	tlsCA         = flag.String("tls-ca", "", "CA bundle for the server certificate (PEM)")
	tlsServerName = flag.String("tls-server-name", "", "Expected server name")
	logLevel      = flag.String("log-level", "", "Log level: debug, info, warn, error")
	protocolLog   = flag.String("protocol-log", "", "Write protocol events to this file (CBOR)")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "relay> ",
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to create readline: %v\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	// Log through readline so output does not garble the prompt.
	logger, err := newLogger(cfg.Log.Level, rl.Stderr())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(cfg, logger, rl); err != nil {
		logger.Error("client failed", "error", err)
		rl.Close()
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

	if *address != "" {
		cfg.Client.Address = *address
	}
	if *browse != "" {
		cfg.Client.Browse = true
	}
	if *websocket {
		cfg.Client.WebSocket = true
	}
	tc := &cfg.Client.TLS
	if *tlsCert != "" {
		tc.Cert, tc.Key = *tlsCert, *tlsKey
	}
	if *tlsCA != "" {
		tc.CA = *tlsCA
	}
	if *tlsServerName != "" {
		tc.ServerName = *tlsServerName
	}
	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	if *protocolLog != "" {
		cfg.Log.Protocol = *protocolLog
	}

	if cfg.Client.Address == "" && !cfg.Client.Browse {
		return nil, fmt.Errorf("either -address or -browse is required")
	}
	return cfg, nil
}

func run(cfg *config.File, logger *slog.Logger, rl *readline.Instance) error {
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

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	addr := cfg.Client.Address
	useWS := cfg.Client.WebSocket
	useTLS := *tlsFlag || cfg.Client.TLS.Enabled()
	if addr == "" {
		svc, err := findServer(ctx, *browse)
		if err != nil {
			return err
		}
		addr = svc.Address()
		useWS = useWS || svc.WebSocket
		useTLS = useTLS || svc.TLS
		logger.Info("found server", "instance", svc.InstanceName, "address", addr)
	}

	dialer, err := newDialer(cfg.Client, useWS, useTLS, tconf.HandshakeTimeout)
	if err != nil {
		return err
	}

	client, err := transport.NewClient(transport.ClientConfig{
		Address: addr,
		Dialer:  dialer,
		Handler: printHandler(rl, logger),
		Config:  tconf,
	})
	if err != nil {
		return err
	}
	t, err := client.Connect(ctx)
	if err != nil {
		return err
	}
	defer t.Close()

	console := NewConsole(t, rl.Stdout())
	console.printHelp()
	for ctx.Err() == nil {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err != nil {
			break
		}
		if !console.Exec(ctx, line) {
			break
		}
	}
	fmt.Fprintln(rl.Stdout(), "Exiting...")
	return nil
}

// findServer browses for relay servers. An instance of "any" accepts the
// first one found.
func findServer(ctx context.Context, instance string) (*discovery.ServerService, error) {
	if instance == "any" {
		instance = ""
	}
	b, err := discovery.NewMDNSBrowser(discovery.DefaultBrowserConfig())
	if err != nil {
		return nil, err
	}
	defer b.Stop()

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	svc, err := b.Find(ctx, instance)
	if err != nil {
		return nil, fmt.Errorf("no relay server found: %w", err)
	}
	return svc, nil
}

// newDialer builds the dialer for the client settings.
func newDialer(c config.Client, ws, tlsOn bool, timeout time.Duration) (transport.Dialer, error) {
	if ws {
		if tlsOn {
			return nil, fmt.Errorf("TLS is only supported over raw TCP")
		}
		return &transport.WSDialer{}, nil
	}

	d := &transport.TCPDialer{Timeout: timeout}
	if tlsOn {
		tc, err := c.TLS.Load(false)
		if err != nil {
			return nil, err
		}
		if d.TLSConfig, err = transport.NewClientTLSConfig(tc); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// printHandler prints received messages above the prompt.
func printHandler(rl *readline.Instance, logger *slog.Logger) transport.Handler {
	return transport.HandlerFuncs{
		Message: func(payload []byte) {
			fmt.Fprintf(rl.Stdout(), "<- %s\n", printable(payload))
		},
		StateChange: func(oldState, newState transport.State) {
			logger.Info("transport state", "old", oldState, "new", newState)
		},
		DeliveryFailure: func(payloads [][]byte, err error) {
			logger.Warn("messages not delivered", "count", len(payloads), "error", err)
		},
	}
}

// printable renders payload as text when it is printable ASCII, else as a
// length summary.
func printable(payload []byte) string {
	for _, b := range payload {
		if b < 0x20 || b > 0x7e {
			return fmt.Sprintf("[%d bytes]", len(payload))
		}
	}
	return string(payload)
}
