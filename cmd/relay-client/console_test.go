package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/relay-protocol/relay-go/pkg/transport"
	"github.com/relay-protocol/relay-go/pkg/wire"
)

type fakeSession struct {
	sent     [][]byte
	sendErr  error
	flushErr error
	closed   bool
}

func (f *fakeSession) Send(p []byte) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, p)
	return nil
}

func (f *fakeSession) Flush(ctx context.Context) error { return f.flushErr }

func (f *fakeSession) Close() error {
	f.closed = true
	return nil
}

func (f *fakeSession) ConnectionID() wire.ConnectionID {
	return wire.ConnectionID{Channel: 3}
}

func (f *fakeSession) State() transport.State { return transport.StateConnected }

func (f *fakeSession) Stats() transport.Stats {
	n := uint64(len(f.sent))
	return transport.Stats{Sent: n, NextSequence: n + 1, Window: len(f.sent)}
}

func newTestConsole() (*Console, *fakeSession, *bytes.Buffer) {
	s := &fakeSession{}
	var out bytes.Buffer
	return NewConsole(s, &out), s, &out
}

func TestConsoleSend(t *testing.T) {
	c, s, out := newTestConsole()

	if !c.Exec(context.Background(), "send hello  relay") {
		t.Fatal("send should not exit")
	}
	if len(s.sent) != 1 || string(s.sent[0]) != "hello  relay" {
		t.Errorf("sent = %q", s.sent)
	}
	if !strings.Contains(out.String(), "Queued seq 1") {
		t.Errorf("unexpected output: %s", out.String())
	}

	out.Reset()
	c.Exec(context.Background(), "send")
	if !strings.Contains(out.String(), "Usage: send") {
		t.Errorf("expected usage, got: %s", out.String())
	}
}

func TestConsoleSendError(t *testing.T) {
	c, s, out := newTestConsole()
	s.sendErr = transport.ErrTransportClosed

	c.Exec(context.Background(), "send x")
	if !strings.Contains(out.String(), "Send failed") {
		t.Errorf("expected failure, got: %s", out.String())
	}
}

func TestConsoleFlood(t *testing.T) {
	c, s, out := newTestConsole()

	c.Exec(context.Background(), "flood 5 16")
	if len(s.sent) != 5 {
		t.Fatalf("sent %d messages, want 5", len(s.sent))
	}
	for _, p := range s.sent {
		if len(p) != 16 {
			t.Errorf("payload size %d, want 16", len(p))
		}
	}
	if !strings.Contains(out.String(), "Queued 5 messages") {
		t.Errorf("unexpected output: %s", out.String())
	}

	for _, bad := range []string{"flood", "flood x", "flood 0", "flood 2 -1"} {
		out.Reset()
		c.Exec(context.Background(), bad)
		if out.Len() == 0 {
			t.Errorf("%q printed nothing", bad)
		}
	}
	if len(s.sent) != 5 {
		t.Errorf("invalid floods sent messages: %d", len(s.sent))
	}
}

func TestConsoleFlush(t *testing.T) {
	c, s, out := newTestConsole()

	c.Exec(context.Background(), "flush")
	if !strings.Contains(out.String(), "All acknowledged") {
		t.Errorf("unexpected output: %s", out.String())
	}

	s.flushErr = errors.New("boom")
	c.flushTimeout = time.Millisecond
	out.Reset()
	c.Exec(context.Background(), "flush")
	if !strings.Contains(out.String(), "Flush failed: boom") {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestConsoleStatus(t *testing.T) {
	c, _, out := newTestConsole()
	c.Exec(context.Background(), "send a")
	out.Reset()

	c.Exec(context.Background(), "status")
	for _, want := range []string{"State:      CONNECTED", "Sent:       1 (window 1"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("expected %q in output, got:\n%s", want, out.String())
		}
	}
}

func TestConsoleExit(t *testing.T) {
	c, s, _ := newTestConsole()
	if c.Exec(context.Background(), "quit") {
		t.Error("quit should exit")
	}
	if s.closed {
		t.Error("quit should leave closing to the caller")
	}

	if c.Exec(context.Background(), "close") {
		t.Error("close should exit")
	}
	if !s.closed {
		t.Error("close should close the transport")
	}
}

func TestConsoleUnknownAndBlank(t *testing.T) {
	c, _, out := newTestConsole()
	if !c.Exec(context.Background(), "   ") {
		t.Error("blank line should not exit")
	}
	if out.Len() != 0 {
		t.Errorf("blank line printed: %s", out.String())
	}
	c.Exec(context.Background(), "dance")
	if !strings.Contains(out.String(), "Unknown command: dance") {
		t.Errorf("unexpected output: %s", out.String())
	}
}

func TestPrintable(t *testing.T) {
	if got := printable([]byte("hello")); got != "hello" {
		t.Errorf("printable(hello) = %q", got)
	}
	if got := printable([]byte{0, 1, 2}); got != "[3 bytes]" {
		t.Errorf("printable(binary) = %q", got)
	}
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"", "debug", "INFO", "warn", "error"} {
		if _, err := newLogger(level, io.Discard); err != nil {
			t.Errorf("newLogger(%q) failed: %v", level, err)
		}
	}
	if _, err := newLogger("loud", io.Discard); err == nil {
		t.Error("expected error for unknown level")
	}
}
