package relay_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/relay-protocol/relay-go/pkg/config"
	"github.com/relay-protocol/relay-go/pkg/discovery"
	"github.com/relay-protocol/relay-go/pkg/transport"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// recordingDialer dials TCP and remembers every connection so a test can
// cut them.
type recordingDialer struct {
	inner transport.TCPDialer
	mu    sync.Mutex
	conns []net.Conn
}

func (d *recordingDialer) DialContext(ctx context.Context, address string) (net.Conn, error) {
	conn, err := d.inner.DialContext(ctx, address)
	if err == nil {
		d.mu.Lock()
		d.conns = append(d.conns, conn)
		d.mu.Unlock()
	}
	return conn, err
}

func (d *recordingDialer) cut() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, c := range d.conns {
		c.Close()
	}
	d.conns = nil
}

func (d *recordingDialer) dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

// startTCPServer starts a server on a random local port. Every transport it
// creates is reported on the returned channel with its inbox.
func startTCPServer(t *testing.T, cfg transport.Config) (*transport.Server, <-chan *transport.Inbox) {
	t.Helper()
	created := make(chan *transport.Inbox, 4)
	srv, err := transport.NewServer(transport.ServerConfig{
		Address: "127.0.0.1:0",
		NewHandler: func(*transport.MessageTransport) transport.Handler {
			in := transport.NewInbox()
			created <- in
			return in
		},
		Config: cfg,
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if err := srv.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })
	return srv, created
}

func e2eConfig() transport.Config {
	cfg := transport.DefaultConfig()
	cfg.GracePeriod = 5 * time.Second
	cfg.HandshakeTimeout = 2 * time.Second
	cfg.Backoff.Initial = 10 * time.Millisecond
	cfg.Backoff.Max = 100 * time.Millisecond
	cfg.Logger = quiet
	return cfg
}

// TestE2E_ReconnectOverTCP drops the TCP connection in the middle of a
// stream and checks that the server sees every message once, in order.
func TestE2E_ReconnectOverTCP(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	cfg := e2eConfig()
	srv, created := startTCPServer(t, cfg)

	dialer := &recordingDialer{}
	client, err := transport.NewClient(transport.ClientConfig{
		Address: srv.Addr().String(),
		Dialer:  dialer,
		Config:  cfg,
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	mt, err := client.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer mt.Close()

	var inbox *transport.Inbox
	select {
	case inbox = <-created:
	case <-ctx.Done():
		t.Fatal("server never created a transport")
	}

	const total = 40
	for i := 1; i <= total; i++ {
		if err := mt.Send([]byte(strconv.Itoa(i))); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
		if i == total/2 {
			if err := mt.Flush(ctx); err != nil {
				t.Fatalf("Flush failed: %v", err)
			}
			dialer.cut()
		}
	}
	if err := mt.Flush(ctx); err != nil {
		t.Fatalf("Flush after reconnect failed: %v", err)
	}

	for i := 1; i <= total; i++ {
		got, err := inbox.Receive(ctx)
		if err != nil {
			t.Fatalf("Receive %d failed: %v", i, err)
		}
		if string(got) != strconv.Itoa(i) {
			t.Fatalf("message %d: got %q", i, got)
		}
	}
	if inbox.Len() != 0 {
		t.Errorf("%d extra messages delivered", inbox.Len())
	}
	if dialer.dials() < 1 {
		t.Error("expected a redial after the cut")
	}
	if st := mt.Stats(); st.Reconnects < 1 {
		t.Errorf("Reconnects = %d, want at least 1", st.Reconnects)
	}
	if srv.TransportCount() != 1 {
		t.Errorf("server has %d transports, want 1", srv.TransportCount())
	}
}

// TestE2E_ConfigFile runs both ends from a YAML configuration.
func TestE2E_ConfigFile(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	path := filepath.Join(t.TempDir(), "relay.yaml")
	err := os.WriteFile(path, []byte(`
server:
  listen: "127.0.0.1:0"
  max_connections: 1
transport:
  max_window: 16
  grace_period: 2s
  health:
    mode: probe
    ping_idle_time: 500ms
    ping_interval: 100ms
`), 0o600)
	if err != nil {
		t.Fatal(err)
	}

	file, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	cfg, err := file.TransportConfig()
	if err != nil {
		t.Fatalf("TransportConfig failed: %v", err)
	}
	cfg.Logger = quiet

	srv, err := transport.NewServer(transport.ServerConfig{
		Address:        file.Server.Listen,
		MaxConnections: file.Server.MaxConnections,
		Config:         cfg,
	})
	if err != nil {
		t.Fatalf("NewServer failed: %v", err)
	}
	if err := srv.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer srv.Stop()

	newClient := func() *transport.Client {
		c, err := transport.NewClient(transport.ClientConfig{Address: srv.Addr().String(), Config: cfg})
		if err != nil {
			t.Fatalf("NewClient failed: %v", err)
		}
		return c
	}

	first, err := newClient().Connect(ctx)
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer first.Close()

	_, err = newClient().Connect(ctx)
	if !errors.Is(err, transport.ErrMaxConnections) {
		t.Errorf("second Connect error = %v, want ErrMaxConnections", err)
	}

	// Probes keep an idle transport alive.
	time.Sleep(time.Second)
	if first.State() != transport.StateConnected {
		t.Errorf("idle transport state = %s, want CONNECTED", first.State())
	}
}

// TestE2E_Discovery advertises a server over mDNS and finds it again.
func TestE2E_Discovery(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	advertiser, err := discovery.NewMDNSAdvertiser(discovery.AdvertiserConfig{})
	if err != nil {
		t.Fatalf("Failed to create advertiser: %v", err)
	}
	defer advertiser.Stop()

	info := &discovery.ServerInfo{Instance: "relay-e2e", Port: 7471, WebSocket: true}
	if err := advertiser.Advertise(ctx, info); err != nil {
		t.Skipf("mDNS unavailable: %v", err)
	}

	browser, err := discovery.NewMDNSBrowser(discovery.BrowserConfig{})
	if err != nil {
		t.Fatalf("Failed to create browser: %v", err)
	}
	defer browser.Stop()

	browseCtx, browseCancel := context.WithTimeout(ctx, 5*time.Second)
	defer browseCancel()

	found, err := browser.Find(browseCtx, "relay-e2e")
	if errors.Is(err, context.DeadlineExceeded) {
		t.Skip("no multicast route; advertisement not seen")
	}
	if err != nil {
		t.Fatalf("Failed to find server: %v", err)
	}
	if found.Port != 7471 {
		t.Errorf("Port mismatch: expected 7471, got %d", found.Port)
	}
	if !found.WebSocket {
		t.Error("expected WebSocket flag")
	}
}
