// Package commands implements the relay-log CLI commands.
package commands

import (
	"encoding/hex"
	"fmt"
	"io"
	"strings"

	"github.com/relay-protocol/relay-go/pkg/log"
)

// ViewFilter specifies criteria for filtering events in the view command.
type ViewFilter struct {
	Layer     *log.Layer
	Direction *log.Direction
	Category  *log.Category
	Role      *log.Role
}

func (f ViewFilter) matches(e log.Event) bool {
	if f.Layer != nil && e.Layer != *f.Layer {
		return false
	}
	if f.Direction != nil && e.Direction != *f.Direction {
		return false
	}
	if f.Category != nil && e.Category != *f.Category {
		return false
	}
	if f.Role != nil && e.LocalRole != *f.Role {
		return false
	}
	return true
}

// formatEvent writes a human-readable representation of the event to w.
func formatEvent(w io.Writer, event log.Event) {
	// Header line: timestamp [conn:id] ROLE DIRECTION LAYER Type
	ts := event.Timestamp.UTC().Format("2006-01-02T15:04:05.000000Z")
	connID := shortenConnID(event.ConnectionID)

	layerStr := event.Layer.String()
	if event.Category == log.CategoryControl {
		layerStr = "CTRL"
	}

	fmt.Fprintf(w, "%s [conn:%s] %s %-3s %s %s\n",
		ts, connID, event.LocalRole, event.Direction, layerStr, eventType(event))

	switch {
	case event.Frame != nil:
		formatFrameDetails(w, event.Frame)
	case event.StateChange != nil:
		formatStateChangeDetails(w, event.StateChange)
	case event.ControlMsg != nil:
		formatControlDetails(w, event.ControlMsg)
	case event.Error != nil:
		formatErrorDetails(w, event.Error)
	}
	if event.LinkID != "" {
		fmt.Fprintf(w, "  Link: %s", event.LinkID)
		if event.RemoteAddr != "" {
			fmt.Fprintf(w, " (%s)", event.RemoteAddr)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintln(w)
}

// eventType returns the label for the event's payload.
func eventType(event log.Event) string {
	switch {
	case event.Frame != nil:
		return "Frame"
	case event.StateChange != nil:
		return "State"
	case event.ControlMsg != nil:
		return event.ControlMsg.Type.String()
	case event.Error != nil:
		return "Error"
	default:
		return "Unknown"
	}
}

// shortenConnID returns the channel part of a connection ID, dropping the
// token.
func shortenConnID(id string) string {
	if ch, _, ok := strings.Cut(id, "."); ok {
		return ch
	}
	if id == "" {
		return "-"
	}
	return id
}

func formatFrameDetails(w io.Writer, frame *log.FrameEvent) {
	fmt.Fprintf(w, "  Seq: %d", frame.Sequence)
	if frame.Resend {
		fmt.Fprint(w, " (resend)")
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "  Size: %d bytes\n", frame.Size)
	if len(frame.Data) > 0 {
		fmt.Fprintf(w, "  Data: %s", hex.EncodeToString(frame.Data))
		if frame.Truncated {
			fmt.Fprintf(w, " (truncated)")
		}
		fmt.Fprintln(w)
	}
}

func formatControlDetails(w io.Writer, c *log.ControlMsgEvent) {
	if c.Sequence != 0 {
		fmt.Fprintf(w, "  Seq: %d\n", c.Sequence)
	}
	if c.CloseReason != nil {
		fmt.Fprintf(w, "  Reason: %d\n", *c.CloseReason)
	}
}

func formatStateChangeDetails(w io.Writer, sc *log.StateChangeEvent) {
	fmt.Fprintf(w, "  Entity: %s\n", sc.Entity.String())
	if sc.OldState != "" {
		fmt.Fprintf(w, "  %s -> %s\n", sc.OldState, sc.NewState)
	} else {
		fmt.Fprintf(w, "  -> %s\n", sc.NewState)
	}
	if sc.Reason != "" {
		fmt.Fprintf(w, "  Reason: %s\n", sc.Reason)
	}
}

func formatErrorDetails(w io.Writer, err *log.ErrorEventData) {
	fmt.Fprintf(w, "  Layer: %s\n", err.Layer.String())
	fmt.Fprintf(w, "  Message: %s\n", err.Message)
	if err.Code != nil {
		fmt.Fprintf(w, "  Code: %d\n", *err.Code)
	}
	if err.Context != "" {
		fmt.Fprintf(w, "  Context: %s\n", err.Context)
	}
}

// ParseLayerFlag parses a layer string (case-insensitive).
func ParseLayerFlag(s string) (log.Layer, error) {
	switch strings.ToLower(s) {
	case "wire":
		return log.LayerWire, nil
	case "transport":
		return log.LayerTransport, nil
	case "health":
		return log.LayerHealth, nil
	case "harness":
		return log.LayerHarness, nil
	default:
		return 0, fmt.Errorf("invalid layer: %s (must be wire, transport, health or harness)", s)
	}
}

// ParseDirectionFlag parses a direction string (case-insensitive).
func ParseDirectionFlag(s string) (log.Direction, error) {
	switch strings.ToLower(s) {
	case "in":
		return log.DirectionIn, nil
	case "out":
		return log.DirectionOut, nil
	default:
		return 0, fmt.Errorf("invalid direction: %s (must be in or out)", s)
	}
}

// ParseCategoryFlag parses a category string (case-insensitive).
func ParseCategoryFlag(s string) (log.Category, error) {
	switch strings.ToLower(s) {
	case "data":
		return log.CategoryData, nil
	case "control":
		return log.CategoryControl, nil
	case "state":
		return log.CategoryState, nil
	case "error":
		return log.CategoryError, nil
	default:
		return 0, fmt.Errorf("invalid category: %s (must be data, control, state or error)", s)
	}
}

// ParseRoleFlag parses a role string (case-insensitive).
func ParseRoleFlag(s string) (log.Role, error) {
	switch strings.ToLower(s) {
	case "server":
		return log.RoleServer, nil
	case "client":
		return log.RoleClient, nil
	default:
		return 0, fmt.Errorf("invalid role: %s (must be server or client)", s)
	}
}

// RunView executes the view command.
func RunView(path string, filter ViewFilter, output io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}
		if filter.matches(event) {
			formatEvent(output, event)
		}
	}
	return nil
}
