package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
)

// Framing constants.
const (
	// LengthPrefixSize is the size of the length prefix in bytes.
	LengthPrefixSize = 4

	// HeaderSize is the size of kind + sequence, the part of every frame
	// covered by the length field besides the payload.
	HeaderSize = 1 + 8

	// DefaultMaxFrameSize is the default upper bound of the length field (1 MB).
	DefaultMaxFrameSize = 1 << 20
)

// Framing errors.
var (
	// ErrMalformedFrame indicates an invalid length field. The stream
	// position is lost, so the connection must be closed.
	ErrMalformedFrame = errors.New("malformed frame")

	// ErrUnknownKind indicates a frame kind this implementation does not know.
	ErrUnknownKind = errors.New("unknown frame kind")

	// ErrPayloadTooLarge indicates an outgoing payload above the frame limit.
	ErrPayloadTooLarge = errors.New("payload too large")
)

// IsProtocolViolation reports whether err means the peer broke the framing
// contract. Such errors are fatal for the connection and never retried.
func IsProtocolViolation(err error) bool {
	return errors.Is(err, ErrMalformedFrame) || errors.Is(err, ErrUnknownKind)
}

// Kind identifies the frame type.
type Kind uint8

const (
	KindData           Kind = 1
	KindAck            Kind = 2
	KindPing           Kind = 3
	KindPingReply      Kind = 4
	KindHandshake      Kind = 5
	KindHandshakeReply Kind = 6
	KindClose          Kind = 7
)

// String returns the frame kind name.
func (k Kind) String() string {
	switch k {
	case KindData:
		return "DATA"
	case KindAck:
		return "ACK"
	case KindPing:
		return "PING"
	case KindPingReply:
		return "PING_REPLY"
	case KindHandshake:
		return "HANDSHAKE"
	case KindHandshakeReply:
		return "HANDSHAKE_REPLY"
	case KindClose:
		return "CLOSE"
	default:
		return fmt.Sprintf("KIND(%d)", uint8(k))
	}
}

// Valid returns true for the kinds defined by the protocol.
func (k Kind) Valid() bool {
	return k >= KindData && k <= KindClose
}

// IsHealth returns true for health-check probe frames.
func (k Kind) IsHealth() bool {
	return k == KindPing || k == KindPingReply
}

// Frame is one unit on the wire.
type Frame struct {
	Kind     Kind
	Sequence uint64
	Payload  []byte
}

// Size returns the encoded size of the frame including the length prefix.
func (f Frame) Size() int {
	return LengthPrefixSize + HeaderSize + len(f.Payload)
}

// String returns a short description for logs.
func (f Frame) String() string {
	return fmt.Sprintf("%s seq=%d len=%d", f.Kind, f.Sequence, len(f.Payload))
}

// AppendFrame appends the encoded frame to dst and returns the extended slice.
func AppendFrame(dst []byte, f Frame) []byte {
	var hdr [LengthPrefixSize + HeaderSize]byte
	binary.BigEndian.PutUint32(hdr[0:4], uint32(HeaderSize+len(f.Payload)))
	hdr[4] = byte(f.Kind)
	binary.BigEndian.PutUint64(hdr[5:13], f.Sequence)
	dst = append(dst, hdr[:]...)
	return append(dst, f.Payload...)
}

// EncodeFrame returns the encoded frame.
func EncodeFrame(f Frame) []byte {
	return AppendFrame(make([]byte, 0, f.Size()), f)
}

// Decoder splits a byte stream into frames. Bytes may arrive in arbitrary
// chunks: partial trailing frames are buffered until the next Feed, and
// coalesced frames are returned together.
//
// A Decoder is not safe for concurrent use.
type Decoder struct {
	buf          []byte
	maxFrameSize uint32
	err          error
}

// NewDecoder creates a decoder with the default maximum frame size.
func NewDecoder() *Decoder {
	return NewDecoderWithMaxSize(DefaultMaxFrameSize)
}

// NewDecoderWithMaxSize creates a decoder with a custom maximum frame size.
func NewDecoderWithMaxSize(maxSize uint32) *Decoder {
	if maxSize < HeaderSize {
		maxSize = DefaultMaxFrameSize
	}
	return &Decoder{maxFrameSize: maxSize}
}

// Feed appends data to the internal buffer and returns every complete
// frame it now contains. Once an error is returned the decoder is
// poisoned and keeps returning it.
func (d *Decoder) Feed(data []byte) ([]Frame, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.buf = append(d.buf, data...)

	var frames []Frame
	for {
		f, ok, err := d.next()
		if err != nil {
			d.err = err
			d.buf = nil
			return frames, err
		}
		if !ok {
			break
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// Buffered returns the number of bytes of an incomplete frame held.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func (d *Decoder) next() (Frame, bool, error) {
	if len(d.buf) < LengthPrefixSize {
		return Frame{}, false, nil
	}
	length := binary.BigEndian.Uint32(d.buf[:LengthPrefixSize])
	if length < HeaderSize || length > d.maxFrameSize {
		return Frame{}, false, fmt.Errorf("%w: length %d outside [%d, %d]",
			ErrMalformedFrame, length, HeaderSize, d.maxFrameSize)
	}

	// Reject unknown kinds as soon as the kind byte is available.
	if len(d.buf) > LengthPrefixSize {
		if k := Kind(d.buf[LengthPrefixSize]); !k.Valid() {
			return Frame{}, false, fmt.Errorf("%w: %d", ErrUnknownKind, uint8(k))
		}
	}

	total := LengthPrefixSize + int(length)
	if len(d.buf) < total {
		return Frame{}, false, nil
	}

	f := Frame{
		Kind:     Kind(d.buf[LengthPrefixSize]),
		Sequence: binary.BigEndian.Uint64(d.buf[LengthPrefixSize+1 : LengthPrefixSize+HeaderSize]),
	}
	if n := total - LengthPrefixSize - HeaderSize; n > 0 {
		f.Payload = make([]byte, n)
		copy(f.Payload, d.buf[LengthPrefixSize+HeaderSize:total])
	}

	rest := copy(d.buf, d.buf[total:])
	d.buf = d.buf[:rest]
	return f, true, nil
}

// FrameWriter writes frames to an underlying writer.
// Thread-safe: can be called from multiple goroutines.
type FrameWriter struct {
	w            io.Writer
	maxFrameSize uint32
	mu           sync.Mutex
	buf          []byte
}

// NewFrameWriter creates a frame writer with the default maximum frame size.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return NewFrameWriterWithMaxSize(w, DefaultMaxFrameSize)
}

// NewFrameWriterWithMaxSize creates a frame writer with a custom max size.
func NewFrameWriterWithMaxSize(w io.Writer, maxSize uint32) *FrameWriter {
	if maxSize < HeaderSize {
		maxSize = DefaultMaxFrameSize
	}
	return &FrameWriter{w: w, maxFrameSize: maxSize}
}

// WriteFrame writes a single frame.
func (fw *FrameWriter) WriteFrame(f Frame) error {
	return fw.WriteFrames(f)
}

// WriteFrames writes frames with a single call to the underlying writer.
func (fw *FrameWriter) WriteFrames(frames ...Frame) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	fw.buf = fw.buf[:0]
	for _, f := range frames {
		if !f.Kind.Valid() {
			return fmt.Errorf("%w: %d", ErrUnknownKind, uint8(f.Kind))
		}
		if uint32(HeaderSize+len(f.Payload)) > fw.maxFrameSize {
			return fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, HeaderSize+len(f.Payload), fw.maxFrameSize)
		}
		fw.buf = AppendFrame(fw.buf, f)
	}
	if len(fw.buf) == 0 {
		return nil
	}
	if _, err := fw.w.Write(fw.buf); err != nil {
		return fmt.Errorf("failed to write frames: %w", err)
	}
	return nil
}

// MaxPayloadSize returns the largest payload accepted for the given frame limit.
func MaxPayloadSize(maxFrameSize uint32) int {
	return int(maxFrameSize) - HeaderSize
}
