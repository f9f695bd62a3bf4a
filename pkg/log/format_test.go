package log

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestEventFileRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 4, 10, 15, 32, 123456789, time.UTC)
	code := uint8(6)
	errCode := 4

	tests := []struct {
		name  string
		event Event
		check func(t *testing.T, got Event)
	}{
		{
			name: "envelope",
			event: Event{
				Timestamp:    ts,
				ConnectionID: "7.00112233445566778899aabbccddeeff",
				Direction:    DirectionOut,
				Layer:        LayerTransport,
				Category:     CategoryData,
				LocalRole:    RoleClient,
				RemoteAddr:   "10.0.0.2:7700",
				LinkID:       "cn3h6r8d0cd0bts5r0bg",
			},
			check: func(t *testing.T, got Event) {
				if !got.Timestamp.Equal(ts) {
					t.Errorf("Timestamp = %v, want %v (nanoseconds must survive)", got.Timestamp, ts)
				}
				if got.LocalRole != RoleClient || got.LinkID != "cn3h6r8d0cd0bts5r0bg" {
					t.Errorf("role/link = %v/%q", got.LocalRole, got.LinkID)
				}
			},
		},
		{
			name: "resent frame",
			event: Event{
				Timestamp: ts,
				Category:  CategoryData,
				Frame:     &FrameEvent{Sequence: 1 << 40, Size: 300, Data: []byte{1, 2}, Truncated: true, Resend: true},
			},
			check: func(t *testing.T, got Event) {
				if got.Frame == nil {
					t.Fatal("Frame is nil")
				}
				if got.Frame.Sequence != 1<<40 || !got.Frame.Resend || !got.Frame.Truncated {
					t.Errorf("Frame = %+v", *got.Frame)
				}
			},
		},
		{
			name: "grace expiry",
			event: Event{
				Timestamp:   ts,
				Category:    CategoryState,
				StateChange: &StateChangeEvent{Entity: StateEntityTransport, OldState: "PAUSED", NewState: "CLOSED", Reason: "grace expired"},
			},
			check: func(t *testing.T, got Event) {
				if got.StateChange == nil || got.StateChange.NewState != "CLOSED" || got.StateChange.Reason != "grace expired" {
					t.Errorf("StateChange = %+v", got.StateChange)
				}
			},
		},
		{
			name: "close reason",
			event: Event{
				Timestamp:  ts,
				Category:   CategoryControl,
				ControlMsg: &ControlMsgEvent{Type: ControlMsgClose, CloseReason: &code},
			},
			check: func(t *testing.T, got Event) {
				if got.ControlMsg == nil || got.ControlMsg.CloseReason == nil || *got.ControlMsg.CloseReason != code {
					t.Errorf("ControlMsg = %+v", got.ControlMsg)
				}
			},
		},
		{
			name: "wire error",
			event: Event{
				Timestamp: ts,
				Category:  CategoryError,
				Error:     &ErrorEventData{Layer: LayerWire, Message: "malformed frame", Code: &errCode, Context: "read"},
			},
			check: func(t *testing.T, got Event) {
				if got.Error == nil || got.Error.Code == nil || *got.Error.Code != errCode {
					t.Errorf("Error = %+v", got.Error)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := createTestLogFile(t, []Event{tt.event})
			events := readAll(t, path)
			if len(events) != 1 {
				t.Fatalf("got %d events, want 1", len(events))
			}
			tt.check(t, events[0])
		})
	}
}

func TestFileStartsWithHeader(t *testing.T) {
	path := createTestLogFile(t, []Event{{Timestamp: time.Now()}})
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(data) <= headerSize {
		t.Fatalf("file is %d bytes, expected header plus events", len(data))
	}
	if string(data[:4]) != "RLOG" || data[4] != FileVersion {
		t.Errorf("header = % x", data[:headerSize])
	}
}

func TestReaderRejectsForeignFiles(t *testing.T) {
	tests := []struct {
		name    string
		content []byte
		wantErr error
	}{
		{"plain CBOR stream", []byte{0xA1, 0x01, 0x00, 0xA1, 0x01, 0x01}, ErrNotRelayLog},
		{"short header", []byte("RLO"), ErrNotRelayLog},
		{"future version", []byte{'R', 'L', 'O', 'G', FileVersion + 1, 0}, ErrUnsupportedVersion},
		{"version zero", []byte{'R', 'L', 'O', 'G', 0, 0}, ErrUnsupportedVersion},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "foreign.rlog")
			if err := os.WriteFile(path, tt.content, 0644); err != nil {
				t.Fatal(err)
			}
			if _, err := NewReader(path); !errors.Is(err, tt.wantErr) {
				t.Errorf("NewReader() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestFileLoggerRefusesForeignFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "notes.txt")
	if err := os.WriteFile(path, []byte("meeting notes\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewFileLogger(path); !errors.Is(err, ErrNotRelayLog) {
		t.Errorf("NewFileLogger() error = %v, want ErrNotRelayLog", err)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "meeting notes\n" {
		t.Errorf("foreign file was modified: %q", data)
	}
}
