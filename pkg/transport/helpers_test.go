package transport

import (
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/relay-protocol/relay-go/pkg/connection"
)

// testConfig returns a config with short timeouts and quiet logging.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.GracePeriod = 2 * time.Second
	cfg.HandshakeTimeout = 300 * time.Millisecond
	cfg.WriteTimeout = time.Second
	cfg.Backoff = connection.BackoffConfig{
		Initial:    5 * time.Millisecond,
		Max:        50 * time.Millisecond,
		Multiplier: 2,
	}
	cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	return cfg
}

// newTestLink returns an unstarted link over one end of an in-memory pipe.
func newTestLink(t *testing.T, cfg Config) *Link {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return newLink(a, cfg)
}

// newBoundTransport returns a CONNECTED transport bound to an unstarted link.
func newBoundTransport(t *testing.T, cfg Config, h Handler) (*MessageTransport, *Link) {
	t.Helper()
	cfg = cfg.withDefaults()
	mt := newMessageTransport(cfg, h)
	l := newTestLink(t, cfg)
	if _, err := mt.resume(l, 0); err != nil {
		t.Fatalf("resume() error = %v", err)
	}
	return mt, l
}

func drainUnsent(mt *MessageTransport, l *Link) []uint64 {
	var seqs []uint64
	for {
		frames := mt.takeUnsent(l, writeBatchSize)
		if len(frames) == 0 {
			return seqs
		}
		for _, f := range frames {
			seqs = append(seqs, f.Sequence)
		}
	}
}
