package wire

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Handshake payload layout.
const (
	// TokenSize is the size of the ConnectionID token in bytes.
	TokenSize = 16

	// HandshakePayloadSize is the size of a HANDSHAKE / HANDSHAKE_REPLY payload.
	HandshakePayloadSize = 8 + TokenSize
)

// ErrInvalidHandshake indicates a handshake payload of the wrong size.
var ErrInvalidHandshake = errors.New("invalid handshake payload")

// Token is the random part of a ConnectionID.
type Token [TokenSize]byte

// NewToken returns a fresh random token.
func NewToken() Token {
	return Token(uuid.New())
}

// String returns the token as hex.
func (t Token) String() string {
	return hex.EncodeToString(t[:])
}

// ConnectionID identifies a logical transport across physical connections.
// It is comparable; equality is exact match on both fields.
type ConnectionID struct {
	Channel uint64
	Token   Token
}

// NullConnectionID is presented by a client that has no transport yet.
var NullConnectionID = ConnectionID{}

// NewConnectionID mints a ConnectionID for the given channel number.
func NewConnectionID(channel uint64) ConnectionID {
	return ConnectionID{Channel: channel, Token: NewToken()}
}

// IsNull returns true for the empty ConnectionID.
func (id ConnectionID) IsNull() bool {
	return id == NullConnectionID
}

// String returns "<channel>.<token>".
func (id ConnectionID) String() string {
	if id.IsNull() {
		return "null"
	}
	return strconv.FormatUint(id.Channel, 10) + "." + id.Token.String()
}

// ParseConnectionID parses the String form of a ConnectionID.
func ParseConnectionID(s string) (ConnectionID, error) {
	if s == "null" || s == "" {
		return NullConnectionID, nil
	}
	chanPart, tokPart, ok := strings.Cut(s, ".")
	if !ok {
		return ConnectionID{}, fmt.Errorf("invalid connection id %q", s)
	}
	ch, err := strconv.ParseUint(chanPart, 10, 64)
	if err != nil {
		return ConnectionID{}, fmt.Errorf("invalid channel in %q: %w", s, err)
	}
	raw, err := hex.DecodeString(tokPart)
	if err != nil || len(raw) != TokenSize {
		return ConnectionID{}, fmt.Errorf("invalid token in %q", s)
	}
	var id ConnectionID
	id.Channel = ch
	copy(id.Token[:], raw)
	return id, nil
}

// EncodeHandshake encodes a ConnectionID as a handshake payload.
func EncodeHandshake(id ConnectionID) []byte {
	buf := make([]byte, HandshakePayloadSize)
	binary.BigEndian.PutUint64(buf[:8], id.Channel)
	copy(buf[8:], id.Token[:])
	return buf
}

// DecodeHandshake decodes a handshake payload.
func DecodeHandshake(payload []byte) (ConnectionID, error) {
	if len(payload) != HandshakePayloadSize {
		return ConnectionID{}, fmt.Errorf("%w: %d bytes, want %d", ErrInvalidHandshake, len(payload), HandshakePayloadSize)
	}
	var id ConnectionID
	id.Channel = binary.BigEndian.Uint64(payload[:8])
	copy(id.Token[:], payload[8:])
	return id, nil
}

// HandshakeFrame builds a HANDSHAKE frame. cursor is the sender's receive cursor.
func HandshakeFrame(id ConnectionID, cursor uint64) Frame {
	return Frame{Kind: KindHandshake, Sequence: cursor, Payload: EncodeHandshake(id)}
}

// HandshakeReplyFrame builds a HANDSHAKE_REPLY frame.
func HandshakeReplyFrame(id ConnectionID, cursor uint64) Frame {
	return Frame{Kind: KindHandshakeReply, Sequence: cursor, Payload: EncodeHandshake(id)}
}
