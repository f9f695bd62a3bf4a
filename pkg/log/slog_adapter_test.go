package log

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
	"time"
)

func logOne(t *testing.T, event Event) map[string]any {
	t.Helper()
	var buf bytes.Buffer
	handler := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	NewSlogAdapter(slog.New(handler)).Log(event)

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("failed to parse log output %q: %v", buf.String(), err)
	}
	return entry
}

func TestSlogAdapterFrameEvent(t *testing.T) {
	entry := logOne(t, Event{
		Timestamp:    time.Now(),
		ConnectionID: "3.abcd",
		LinkID:       "link-1",
		Direction:    DirectionOut,
		Layer:        LayerTransport,
		Category:     CategoryData,
		Frame:        &FrameEvent{Sequence: 9, Size: 40, Resend: true},
	})

	checks := map[string]any{
		"msg":        "protocol",
		"conn_id":    "3.abcd",
		"link_id":    "link-1",
		"direction":  "OUT",
		"layer":      "TRANSPORT",
		"category":   "DATA",
		"seq":        float64(9),
		"frame_size": float64(40),
		"resend":     true,
	}
	for k, want := range checks {
		if entry[k] != want {
			t.Errorf("%s: got %v, want %v", k, entry[k], want)
		}
	}
}

func TestSlogAdapterStateChange(t *testing.T) {
	entry := logOne(t, Event{
		Timestamp:   time.Now(),
		Layer:       LayerHarness,
		Category:    CategoryState,
		StateChange: &StateChangeEvent{Entity: StateEntityTransport, OldState: "CONNECTED", NewState: "PAUSED", Reason: "EOF"},
	})

	if entry["entity"] != "TRANSPORT" || entry["old_state"] != "CONNECTED" || entry["new_state"] != "PAUSED" {
		t.Errorf("unexpected state attrs: %v", entry)
	}
	if entry["reason"] != "EOF" {
		t.Errorf("reason: got %v", entry["reason"])
	}
}

func TestSlogAdapterControlAndError(t *testing.T) {
	code := uint8(2)
	entry := logOne(t, Event{
		Timestamp:  time.Now(),
		Category:   CategoryControl,
		ControlMsg: &ControlMsgEvent{Type: ControlMsgClose, Sequence: 0, CloseReason: &code},
	})
	if entry["ctrl_type"] != "CLOSE" || entry["close_code"] != float64(2) {
		t.Errorf("unexpected control attrs: %v", entry)
	}

	entry = logOne(t, Event{
		Timestamp: time.Now(),
		Category:  CategoryError,
		Error:     &ErrorEventData{Layer: LayerWire, Message: "boom", Context: "read"},
	})
	if entry["error_layer"] != "WIRE" || entry["error_msg"] != "boom" || entry["error_context"] != "read" {
		t.Errorf("unexpected error attrs: %v", entry)
	}
	if entry["level"] != "DEBUG" {
		t.Errorf("level: got %v, want DEBUG", entry["level"])
	}
}
