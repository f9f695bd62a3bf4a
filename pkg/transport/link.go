package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/xid"
	"golang.org/x/sync/errgroup"

	"github.com/relay-protocol/relay-go/pkg/wire"
)

const (
	readBufferSize  = 32 * 1024
	writeBatchSize  = 64
	ctrlQueueLength = 16
)

// linkHandler is the owner of a started link.
type linkHandler interface {
	// handleFrame processes one received frame. A non-nil error ends the link.
	handleFrame(l *Link, f wire.Frame) error

	// takeUnsent returns up to max DATA frames not yet written to l.
	takeUnsent(l *Link, max int) []wire.Frame

	// framesWritten is called after frames were written to l.
	framesWritten(l *Link, frames []wire.Frame)

	// linkDone is called once when both loops have exited.
	linkDone(l *Link, err error)
}

// Link is one physical connection. Before start it is used synchronously
// for the handshake; after start it runs one reader and one writer task.
// The writer is the only task writing DATA, so sends never block callers.
type Link struct {
	id           xid.ID
	conn         net.Conn
	dec          *wire.Decoder
	fw           *wire.FrameWriter
	writeTimeout time.Duration

	// Frames decoded during the handshake but not yet consumed.
	pending []wire.Frame

	// Set by the harness before start.
	health *HealthChecker

	ctrl       chan wire.Frame
	ackSeq     atomic.Uint64
	ackSignal  chan struct{}
	dataSignal chan struct{}

	closeOnce sync.Once
	closeCh   chan struct{}
	done      chan struct{}
}

func newLink(conn net.Conn, cfg Config) *Link {
	return &Link{
		id:           xid.New(),
		conn:         conn,
		dec:          wire.NewDecoderWithMaxSize(cfg.MaxFrameSize),
		fw:           wire.NewFrameWriterWithMaxSize(conn, cfg.MaxFrameSize),
		writeTimeout: cfg.WriteTimeout,
		ctrl:         make(chan wire.Frame, ctrlQueueLength),
		ackSignal:    make(chan struct{}, 1),
		dataSignal:   make(chan struct{}, 1),
		closeCh:      make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// ID returns the link identifier.
func (l *Link) ID() string {
	return l.id.String()
}

// RemoteAddr returns the peer address.
func (l *Link) RemoteAddr() net.Addr {
	return l.conn.RemoteAddr()
}

// LocalAddr returns the local address.
func (l *Link) LocalAddr() net.Addr {
	return l.conn.LocalAddr()
}

// Close closes the underlying connection. Safe to call multiple times.
func (l *Link) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closeCh)
		err = l.conn.Close()
	})
	return err
}

// Done is closed when the reader and writer have exited.
func (l *Link) Done() <-chan struct{} {
	return l.done
}

func (l *Link) isClosed() bool {
	select {
	case <-l.closeCh:
		return true
	default:
		return false
	}
}

// readFrame reads one frame synchronously. Used only before start.
func (l *Link) readFrame(deadline time.Time) (wire.Frame, error) {
	if len(l.pending) > 0 {
		return l.popPending(), nil
	}

	_ = l.conn.SetReadDeadline(deadline)
	defer l.conn.SetReadDeadline(time.Time{})

	buf := make([]byte, readBufferSize)
	for {
		n, err := l.conn.Read(buf)
		if n > 0 {
			frames, derr := l.dec.Feed(buf[:n])
			l.pending = append(l.pending, frames...)
			if derr != nil {
				return wire.Frame{}, fmt.Errorf("%w: %w", ErrProtocolViolation, derr)
			}
			if len(l.pending) > 0 {
				return l.popPending(), nil
			}
		}
		if err != nil {
			return wire.Frame{}, fmt.Errorf("read: %w", err)
		}
	}
}

func (l *Link) popPending() wire.Frame {
	f := l.pending[0]
	l.pending = l.pending[1:]
	return f
}

// writeNow writes frames synchronously. The frame writer serializes it with
// the writer task at frame boundaries.
func (l *Link) writeNow(frames ...wire.Frame) error {
	if l.writeTimeout > 0 {
		_ = l.conn.SetWriteDeadline(time.Now().Add(l.writeTimeout))
	}
	return l.fw.WriteFrames(frames...)
}

// sendControl queues a control frame for the writer. It never blocks; a
// full queue drops the frame.
func (l *Link) sendControl(f wire.Frame) bool {
	if l.isClosed() {
		return false
	}
	select {
	case l.ctrl <- f:
		return true
	default:
		return false
	}
}

// sendAck records a cumulative ack. Consecutive acks are coalesced and only
// the highest is written.
func (l *Link) sendAck(cursor uint64) {
	for {
		cur := l.ackSeq.Load()
		if cursor <= cur || l.ackSeq.CompareAndSwap(cur, cursor) {
			break
		}
	}
	select {
	case l.ackSignal <- struct{}{}:
	default:
	}
}

// signalData wakes the writer to pull unsent DATA frames.
func (l *Link) signalData() {
	select {
	case l.dataSignal <- struct{}{}:
	default:
	}
}

// start runs the reader and writer until either fails or the link is closed.
func (l *Link) start(h linkHandler) {
	go func() {
		g, ctx := errgroup.WithContext(context.Background())
		g.Go(func() error { return l.readLoop(h) })
		g.Go(func() error { return l.writeLoop(ctx, h) })
		g.Go(func() error {
			select {
			case <-ctx.Done():
			case <-l.closeCh:
			}
			// Unblock the reader but keep the socket open so a final
			// CLOSE can still be written.
			_ = l.conn.SetReadDeadline(time.Now())
			return nil
		})

		err := g.Wait()
		close(l.done)
		h.linkDone(l, err)
	}()
}

func (l *Link) readLoop(h linkHandler) error {
	for len(l.pending) > 0 {
		if err := h.handleFrame(l, l.popPending()); err != nil {
			return err
		}
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := l.conn.Read(buf)
		if n > 0 {
			frames, derr := l.dec.Feed(buf[:n])
			for _, f := range frames {
				if herr := h.handleFrame(l, f); herr != nil {
					return herr
				}
			}
			if derr != nil {
				return fmt.Errorf("%w: %w", ErrProtocolViolation, derr)
			}
		}
		if err != nil {
			if l.isClosed() {
				return ErrLinkClosed
			}
			return fmt.Errorf("read: %w", err)
		}
	}
}

func (l *Link) writeLoop(ctx context.Context, h linkHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-l.closeCh:
			return ErrLinkClosed

		case f := <-l.ctrl:
			batch := []wire.Frame{f}
		drain:
			for len(batch) < writeBatchSize {
				select {
				case f := <-l.ctrl:
					batch = append(batch, f)
				default:
					break drain
				}
			}
			if err := l.write(h, batch); err != nil {
				return err
			}

		case <-l.ackSignal:
			ack := wire.Frame{Kind: wire.KindAck, Sequence: l.ackSeq.Load()}
			if err := l.write(h, []wire.Frame{ack}); err != nil {
				return err
			}

		case <-l.dataSignal:
			for {
				frames := h.takeUnsent(l, writeBatchSize)
				if len(frames) == 0 {
					break
				}
				if err := l.write(h, frames); err != nil {
					return err
				}
			}
		}
	}
}

func (l *Link) write(h linkHandler, frames []wire.Frame) error {
	if err := l.writeNow(frames...); err != nil {
		if l.isClosed() {
			return ErrLinkClosed
		}
		return err
	}
	h.framesWritten(l, frames)
	return nil
}

// isTimeout reports whether err is a deadline expiry.
func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
