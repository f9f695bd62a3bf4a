package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/relay-protocol/relay-go/pkg/transport"
	"github.com/relay-protocol/relay-go/pkg/wire"
)

// session is the part of a MessageTransport the console drives.
type session interface {
	transport.Sender
	ConnectionID() wire.ConnectionID
	State() transport.State
	Stats() transport.Stats
}

// Console executes interactive commands against a transport.
type Console struct {
	s   session
	out io.Writer

	flushTimeout time.Duration
}

// NewConsole creates a console writing its output to out.
func NewConsole(s session, out io.Writer) *Console {
	return &Console{s: s, out: out, flushTimeout: 30 * time.Second}
}

// Exec runs one command line. It returns false when the console should exit.
func (c *Console) Exec(ctx context.Context, line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return true
	}

	cmd, rest, _ := strings.Cut(input, " ")
	args := strings.Fields(rest)

	switch strings.ToLower(cmd) {
	case "help", "?":
		c.printHelp()

	case "send", "s":
		c.cmdSend(rest)

	case "flood", "f":
		c.cmdFlood(args)

	case "flush":
		c.cmdFlush(ctx)

	case "status", "st":
		c.cmdStatus()

	case "close":
		if err := c.s.Close(); err != nil {
			fmt.Fprintf(c.out, "Close failed: %v\n", err)
		}
		return false

	case "quit", "exit", "q":
		return false

	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return true
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
Relay Client Commands:
  send <text>          - Send text as one message
  flood <n> [size]     - Send n messages of size random bytes (default 64)
  flush                - Wait until everything sent is acknowledged
  status               - Show transport state and counters
  close                - Close the transport and exit
  quit                 - Exit (the transport is closed on exit)`)
}

func (c *Console) cmdSend(text string) {
	if text == "" {
		fmt.Fprintln(c.out, "Usage: send <text>")
		return
	}
	if err := c.s.Send([]byte(text)); err != nil {
		fmt.Fprintf(c.out, "Send failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Queued seq %d\n", c.s.Stats().NextSequence-1)
}

func (c *Console) cmdFlood(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(c.out, "Usage: flood <n> [size]")
		return
	}
	n, err := strconv.Atoi(args[0])
	if err != nil || n <= 0 {
		fmt.Fprintf(c.out, "Invalid count: %s\n", args[0])
		return
	}
	size := 64
	if len(args) > 1 {
		if size, err = strconv.Atoi(args[1]); err != nil || size < 0 {
			fmt.Fprintf(c.out, "Invalid size: %s\n", args[1])
			return
		}
	}

	start := time.Now()
	for i := range n {
		payload := make([]byte, size)
		_, _ = rand.Read(payload)
		if err := c.s.Send(payload); err != nil {
			fmt.Fprintf(c.out, "Send %d/%d failed: %v\n", i+1, n, err)
			return
		}
	}
	fmt.Fprintf(c.out, "Queued %d messages in %s\n", n, time.Since(start).Round(time.Microsecond))
}

func (c *Console) cmdFlush(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.flushTimeout)
	defer cancel()

	start := time.Now()
	if err := c.s.Flush(ctx); err != nil {
		fmt.Fprintf(c.out, "Flush failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "All acknowledged after %s\n", time.Since(start).Round(time.Millisecond))
}

func (c *Console) cmdStatus() {
	st := c.s.Stats()
	fmt.Fprintf(c.out, "Connection: %s\n", c.s.ConnectionID())
	fmt.Fprintf(c.out, "State:      %s\n", c.s.State())
	fmt.Fprintf(c.out, "Sent:       %d (window %d, acked up to %d)\n", st.Sent, st.Window, st.AckCursor)
	fmt.Fprintf(c.out, "Received:   %d (cursor %d, buffered %d)\n", st.Delivered, st.ReceiveCursor, st.Buffered)
	fmt.Fprintf(c.out, "Duplicates: %d  Out of order: %d\n", st.Duplicates, st.OutOfOrder)
	fmt.Fprintf(c.out, "Resent:     %d  Reconnects: %d\n", st.Resent, st.Reconnects)
}
