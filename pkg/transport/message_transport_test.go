package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/relay-protocol/relay-go/pkg/wire"
)

func TestSendAssignsSequence(t *testing.T) {
	mt, l := newBoundTransport(t, testConfig(), nil)

	for _, p := range []string{"a", "b", "c"} {
		if err := mt.Send([]byte(p)); err != nil {
			t.Fatalf("Send(%q) error = %v", p, err)
		}
	}

	frames := mt.takeUnsent(l, writeBatchSize)
	if len(frames) != 3 {
		t.Fatalf("takeUnsent() returned %d frames, want 3", len(frames))
	}
	for i, f := range frames {
		if f.Kind != wire.KindData {
			t.Errorf("frame %d kind = %v, want DATA", i, f.Kind)
		}
		if f.Sequence != uint64(i+1) {
			t.Errorf("frame %d seq = %d, want %d", i, f.Sequence, i+1)
		}
	}
	if more := mt.takeUnsent(l, writeBatchSize); len(more) != 0 {
		t.Errorf("second takeUnsent() returned %d frames, want 0", len(more))
	}

	s := mt.Stats()
	if s.Sent != 3 || s.Window != 3 || s.NextSequence != 4 {
		t.Errorf("stats = %+v, want Sent=3 Window=3 NextSequence=4", s)
	}
}

func TestSendCopiesPayload(t *testing.T) {
	mt, l := newBoundTransport(t, testConfig(), nil)

	buf := []byte("original")
	if err := mt.Send(buf); err != nil {
		t.Fatal(err)
	}
	copy(buf, "mutated!")

	frames := mt.takeUnsent(l, 1)
	if !bytes.Equal(frames[0].Payload, []byte("original")) {
		t.Errorf("payload = %q, caller mutation leaked into the window", frames[0].Payload)
	}
}

func TestSendBeforeConnectQueues(t *testing.T) {
	cfg := testConfig().withDefaults()
	mt := newMessageTransport(cfg, nil)
	l := newTestLink(t, cfg)

	if err := mt.Send([]byte("early")); err != nil {
		t.Fatalf("Send() while CONNECTING error = %v", err)
	}
	if frames := mt.takeUnsent(l, writeBatchSize); len(frames) != 0 {
		t.Fatal("frames handed out before a link was bound")
	}

	if _, err := mt.resume(l, 0); err != nil {
		t.Fatal(err)
	}
	if seqs := drainUnsent(mt, l); len(seqs) != 1 || seqs[0] != 1 {
		t.Errorf("unsent after resume = %v, want [1]", seqs)
	}
}

func TestSendPayloadTooLarge(t *testing.T) {
	cfg := testConfig()
	cfg.MaxFrameSize = 20
	mt, _ := newBoundTransport(t, cfg, nil)

	if err := mt.Send(make([]byte, 11)); err != nil {
		t.Fatalf("Send(11 bytes) error = %v", err)
	}
	if err := mt.Send(make([]byte, 12)); !errors.Is(err, wire.ErrPayloadTooLarge) {
		t.Fatalf("Send(12 bytes) error = %v, want ErrPayloadTooLarge", err)
	}
	if mt.State() != StateConnected {
		t.Errorf("state = %v, oversized payload must not close the transport", mt.State())
	}
}

func TestSendConcurrent(t *testing.T) {
	const workers, perWorker = 8, 100
	cfg := testConfig()
	cfg.MaxWindow = workers * perWorker
	mt, l := newBoundTransport(t, cfg, nil)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				if err := mt.Send([]byte{byte(i)}); err != nil {
					t.Errorf("Send() error = %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()

	seqs := drainUnsent(mt, l)
	if len(seqs) != workers*perWorker {
		t.Fatalf("got %d frames, want %d", len(seqs), workers*perWorker)
	}
	for i, seq := range seqs {
		if seq != uint64(i+1) {
			t.Fatalf("frame %d seq = %d, sequence has a gap or duplicate", i, seq)
		}
	}
}

func TestReceiveAckRetires(t *testing.T) {
	mt, l := newBoundTransport(t, testConfig(), nil)
	for i := 0; i < 3; i++ {
		_ = mt.Send([]byte{byte(i)})
	}
	drainUnsent(mt, l)

	if err := mt.receiveAck(l, 2); err != nil {
		t.Fatalf("receiveAck(2) error = %v", err)
	}
	s := mt.Stats()
	if s.Window != 1 || s.AckCursor != 2 {
		t.Errorf("Window=%d AckCursor=%d, want 1/2", s.Window, s.AckCursor)
	}

	// Older acks are harmless.
	if err := mt.receiveAck(l, 1); err != nil {
		t.Errorf("receiveAck(1) error = %v", err)
	}
	if s := mt.Stats(); s.AckCursor != 2 || s.Window != 1 {
		t.Errorf("stale ack changed state: %+v", s)
	}

	if err := mt.receiveAck(l, 4); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("receiveAck(4) error = %v, want ErrProtocolViolation", err)
	}
}

func TestReceiveInOrderDelivery(t *testing.T) {
	inbox := NewInbox()
	mt, l := newBoundTransport(t, testConfig(), inbox)

	steps := []struct {
		seq     uint64
		payload string
	}{
		{1, "a"},
		{3, "c"}, // buffered
		{3, "c"}, // duplicate of a buffered frame
		{2, "b"}, // releases 2 and 3
		{1, "a"}, // duplicate below the cursor
		{4, "d"},
	}
	for _, s := range steps {
		if err := mt.receiveData(l, s.seq, []byte(s.payload)); err != nil {
			t.Fatalf("receiveData(%d) error = %v", s.seq, err)
		}
	}

	var got []string
	for inbox.Len() > 0 {
		msg, _ := inbox.Receive(context.Background())
		got = append(got, string(msg))
	}
	if fmt.Sprint(got) != "[a b c d]" {
		t.Errorf("delivered %v, want [a b c d]", got)
	}

	s := mt.Stats()
	if s.Delivered != 4 || s.Duplicates != 2 || s.OutOfOrder != 1 {
		t.Errorf("Delivered=%d Duplicates=%d OutOfOrder=%d, want 4/2/1", s.Delivered, s.Duplicates, s.OutOfOrder)
	}
	if s.ReceiveCursor != 4 || s.Buffered != 0 {
		t.Errorf("ReceiveCursor=%d Buffered=%d, want 4/0", s.ReceiveCursor, s.Buffered)
	}
	if ack := l.ackSeq.Load(); ack != 4 {
		t.Errorf("pending ack = %d, want 4", ack)
	}
}

func TestReceiveTooFarAhead(t *testing.T) {
	cfg := testConfig()
	cfg.MaxWindow = 4
	mt, l := newBoundTransport(t, cfg, nil)

	if err := mt.receiveData(l, 4, []byte("x")); err != nil {
		t.Errorf("receiveData(4) within window error = %v", err)
	}
	if err := mt.receiveData(l, 5, []byte("y")); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("receiveData(5) error = %v, want ErrProtocolViolation", err)
	}
}

func TestReceiveTooFarBehind(t *testing.T) {
	cfg := testConfig()
	cfg.MaxWindow = 4
	mt, l := newBoundTransport(t, cfg, nil)

	for seq := uint64(1); seq <= 20; seq++ {
		if err := mt.receiveData(l, seq, []byte("x")); err != nil {
			t.Fatalf("receiveData(%d) error = %v", seq, err)
		}
	}
	if err := mt.receiveData(l, 17, []byte("x")); err != nil {
		t.Errorf("receiveData(17) within window error = %v", err)
	}
	if mt.Stats().Duplicates != 1 {
		t.Errorf("Duplicates = %d, want 1", mt.Stats().Duplicates)
	}
	if err := mt.receiveData(l, 16, []byte("x")); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("receiveData(16) error = %v, want ErrProtocolViolation", err)
	}
	if err := mt.receiveData(l, 1, []byte("x")); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("receiveData(1) error = %v, want ErrProtocolViolation", err)
	}
}

func TestWindowExceededCloses(t *testing.T) {
	cfg := testConfig()
	cfg.MaxWindow = 2
	inbox := NewInbox()
	mt, _ := newBoundTransport(t, cfg, inbox)

	_ = mt.Send([]byte("1"))
	_ = mt.Send([]byte("2"))
	if err := mt.Send([]byte("3")); !errors.Is(err, ErrWindowExceeded) {
		t.Fatalf("Send() error = %v, want ErrWindowExceeded", err)
	}

	if mt.State() != StateClosed {
		t.Errorf("state = %v, want CLOSED", mt.State())
	}
	if !errors.Is(mt.Err(), ErrWindowExceeded) {
		t.Errorf("Err() = %v, want ErrWindowExceeded", mt.Err())
	}

	failures := inbox.Failures()
	if len(failures) != 1 || len(failures[0].Payloads) != 2 {
		t.Fatalf("failures = %+v, want one report with 2 payloads", failures)
	}
	if !errors.Is(failures[0].Err, ErrWindowExceeded) {
		t.Errorf("failure error = %v", failures[0].Err)
	}

	if err := mt.Send([]byte("4")); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Send() after close error = %v, want ErrTransportClosed", err)
	}
}

func TestResumeResendsUnacknowledged(t *testing.T) {
	inbox := NewInbox()
	mt, l1 := newBoundTransport(t, testConfig(), inbox)

	for i := 1; i <= 5; i++ {
		_ = mt.Send([]byte{byte(i)})
	}
	drainUnsent(mt, l1)
	_ = mt.receiveAck(l1, 3)

	if !mt.pause(l1) {
		t.Fatal("pause() returned false for the bound link")
	}
	if mt.State() != StatePaused {
		t.Fatalf("state = %v, want PAUSED", mt.State())
	}
	if mt.pause(l1) {
		t.Error("second pause() should report no bound link")
	}

	l2 := newTestLink(t, mt.config)
	resent, err := mt.resume(l2, 3)
	if err != nil {
		t.Fatalf("resume() error = %v", err)
	}
	if resent != 2 {
		t.Errorf("resent = %d, want 2", resent)
	}
	if seqs := drainUnsent(mt, l2); fmt.Sprint(seqs) != "[4 5]" {
		t.Errorf("resent frames = %v, want [4 5]", seqs)
	}

	// The old link is stale now.
	if frames := mt.takeUnsent(l1, writeBatchSize); len(frames) != 0 {
		t.Error("stale link was handed frames")
	}
	_ = mt.receiveData(l1, 1, []byte("ghost"))
	if inbox.Len() != 0 {
		t.Error("stale link delivered a message")
	}

	s := mt.Stats()
	if s.Resent != 2 || s.Reconnects != 1 {
		t.Errorf("Resent=%d Reconnects=%d, want 2/1", s.Resent, s.Reconnects)
	}

	states := inbox.States()
	want := []StateTransition{
		{StateConnecting, StateConnected},
		{StateConnected, StatePaused},
		{StatePaused, StateConnected},
	}
	if fmt.Sprint(states) != fmt.Sprint(want) {
		t.Errorf("states = %v, want %v", states, want)
	}
}

func TestResumePeerAckRetires(t *testing.T) {
	mt, l1 := newBoundTransport(t, testConfig(), nil)
	for i := 1; i <= 4; i++ {
		_ = mt.Send([]byte{byte(i)})
	}
	drainUnsent(mt, l1)
	mt.pause(l1)

	// The peer got everything but the ACK was lost.
	l2 := newTestLink(t, mt.config)
	resent, err := mt.resume(l2, 4)
	if err != nil {
		t.Fatal(err)
	}
	if resent != 0 || mt.Stats().Window != 0 {
		t.Errorf("resent=%d window=%d, want 0/0", resent, mt.Stats().Window)
	}
}

func TestResumeCountsOnlyWrittenFrames(t *testing.T) {
	mt, l1 := newBoundTransport(t, testConfig(), nil)
	for i := 1; i <= 3; i++ {
		_ = mt.Send([]byte{byte(i)})
	}
	if frames := mt.takeUnsent(l1, 1); len(frames) != 1 {
		t.Fatalf("takeUnsent() = %d frames, want 1", len(frames))
	}
	mt.pause(l1)

	l2 := newTestLink(t, mt.config)
	resent, err := mt.resume(l2, 0)
	if err != nil {
		t.Fatal(err)
	}
	if resent != 1 || mt.Stats().Resent != 1 {
		t.Errorf("resent=%d Stats().Resent=%d, want 1/1", resent, mt.Stats().Resent)
	}
	if seqs := drainUnsent(mt, l2); fmt.Sprint(seqs) != "[1 2 3]" {
		t.Errorf("frames after resume = %v, want [1 2 3]", seqs)
	}
}

func TestResumePeerAheadIsViolation(t *testing.T) {
	cfg := testConfig().withDefaults()
	mt := newMessageTransport(cfg, nil)
	l := newTestLink(t, cfg)

	if _, err := mt.resume(l, 1); !errors.Is(err, ErrProtocolViolation) {
		t.Errorf("resume(peerAck=1) with nothing sent error = %v, want ErrProtocolViolation", err)
	}
}

func TestCloseReportsPending(t *testing.T) {
	inbox := NewInbox()
	mt, _ := newBoundTransport(t, testConfig(), inbox)
	_ = mt.Send([]byte("a"))
	_ = mt.Send([]byte("b"))

	if err := mt.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if mt.State() != StateClosed {
		t.Errorf("state = %v, want CLOSED", mt.State())
	}

	failures := inbox.Failures()
	if len(failures) != 1 {
		t.Fatalf("failures = %d, want 1", len(failures))
	}
	if got := failures[0].Payloads; len(got) != 2 || string(got[0]) != "a" || string(got[1]) != "b" {
		t.Errorf("failed payloads = %q, want [a b]", got)
	}

	if err := mt.Flush(context.Background()); !errors.Is(err, ErrTransportClosed) {
		t.Errorf("Flush() after close error = %v, want ErrTransportClosed", err)
	}

	// Closing twice reports nothing new.
	_ = mt.Close()
	if len(inbox.Failures()) != 1 {
		t.Error("second Close reported failures again")
	}
}

func TestCloseWithoutPendingReportsNoFailure(t *testing.T) {
	inbox := NewInbox()
	mt, _ := newBoundTransport(t, testConfig(), inbox)
	_ = mt.Close()

	if f := inbox.Failures(); len(f) != 0 {
		t.Errorf("failures = %+v, want none", f)
	}
}

func TestFlush(t *testing.T) {
	mt, l := newBoundTransport(t, testConfig(), nil)
	_ = mt.Send([]byte("x"))
	drainUnsent(mt, l)

	short, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := mt.Flush(short); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Flush() with unacked frame error = %v, want DeadlineExceeded", err)
	}

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = mt.receiveAck(l, 1)
	}()
	ctx, cancel2 := context.WithTimeout(context.Background(), time.Second)
	defer cancel2()
	if err := mt.Flush(ctx); err != nil {
		t.Errorf("Flush() error = %v", err)
	}
}

func TestStateNotificationsReentrant(t *testing.T) {
	var mu sync.Mutex
	var seen []State
	var mt *MessageTransport

	h := HandlerFuncs{
		StateChange: func(old, new State) {
			mu.Lock()
			seen = append(seen, new)
			mu.Unlock()
			if new == StatePaused {
				// Re-entering the transport from a callback must not
				// deadlock or reorder notifications.
				_ = mt.Close()
			}
		},
	}
	var l *Link
	mt, l = newBoundTransport(t, testConfig(), h)
	mt.pause(l)

	mu.Lock()
	defer mu.Unlock()
	if fmt.Sprint(seen) != fmt.Sprint([]State{StateConnected, StatePaused, StateClosed}) {
		t.Errorf("notifications = %v, want [CONNECTED PAUSED CLOSED]", seen)
	}
}
