package log

import (
	"strconv"
	"strings"
	"time"
)

// Filter selects events. Zero-valued fields match everything.
type Filter struct {
	// ConnectionID matches the full "<channel>.<token>" form.
	ConnectionID string

	// Channel matches the channel number of the ConnectionID regardless
	// of its token.
	Channel *uint64

	// LinkID matches one physical connection.
	LinkID string

	Direction *Direction
	Layer     *Layer
	Category  *Category
	Role      *Role

	// TimeStart is inclusive, TimeEnd exclusive.
	TimeStart *time.Time
	TimeEnd   *time.Time
}

// Match reports whether event satisfies every set criterion.
func (f Filter) Match(event Event) bool {
	switch {
	case f.ConnectionID != "" && event.ConnectionID != f.ConnectionID:
		return false
	case f.Channel != nil && !sameChannel(event.ConnectionID, *f.Channel):
		return false
	case f.LinkID != "" && event.LinkID != f.LinkID:
		return false
	case f.Direction != nil && event.Direction != *f.Direction:
		return false
	case f.Layer != nil && event.Layer != *f.Layer:
		return false
	case f.Category != nil && event.Category != *f.Category:
		return false
	case f.Role != nil && event.LocalRole != *f.Role:
		return false
	case f.TimeStart != nil && event.Timestamp.Before(*f.TimeStart):
		return false
	case f.TimeEnd != nil && !event.Timestamp.Before(*f.TimeEnd):
		return false
	}
	return true
}

func sameChannel(connID string, channel uint64) bool {
	ch, _, ok := strings.Cut(connID, ".")
	return ok && ch == strconv.FormatUint(channel, 10)
}
