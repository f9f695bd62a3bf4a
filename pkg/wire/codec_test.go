package wire

import (
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloseReasonIntegerKeys(t *testing.T) {
	data, err := EncodeCloseReason(CloseReason{Code: CloseGraceExpired, Message: "gone"})
	require.NoError(t, err)

	var decoded map[int]any
	require.NoError(t, cbor.Unmarshal(data, &decoded))
	assert.Equal(t, uint64(CloseGraceExpired), decoded[1])
	assert.Equal(t, "gone", decoded[2])
	_, ok := decoded[3]
	assert.False(t, ok, "zero MaxConnections should be omitted")
}

func TestCloseReasonCompact(t *testing.T) {
	data, err := EncodeCloseReason(CloseReason{Code: CloseNormal})
	require.NoError(t, err)
	// map(1) {1: 0}
	assert.Equal(t, []byte{0xA1, 0x01, 0x00}, data)
}

func TestCloseReasonUnknownFieldsIgnored(t *testing.T) {
	// A reason from a newer peer may carry extra keys.
	data, err := cbor.Marshal(map[int]any{
		1:  uint8(CloseProtocolViolation),
		2:  "bad ack",
		99: "future field",
	})
	require.NoError(t, err)

	r, err := DecodeCloseReason(data)
	require.NoError(t, err)
	assert.Equal(t, CloseProtocolViolation, r.Code)
	assert.Equal(t, "bad ack", r.Message)
}

func TestCloseReasonDeterministic(t *testing.T) {
	r := CloseReason{Code: CloseMaxConnections, Message: "full", MaxConnections: 8}
	a, err := EncodeCloseReason(r)
	require.NoError(t, err)
	b, err := EncodeCloseReason(r)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	got, err := DecodeCloseReason(a)
	require.NoError(t, err)
	assert.Equal(t, r, got)
}

func TestDecodeCloseReasonRejects(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		// map(2) {1: 0, 1: 4}
		{"duplicate key", []byte{0xA2, 0x01, 0x00, 0x01, 0x04}},
		// indefinite-length map {1: 0}
		{"indefinite length", []byte{0xBF, 0x01, 0x00, 0xFF}},
		{"not a map", []byte{0x63, 'a', 'b', 'c'}},
		{"truncated", []byte{0xA2, 0x01}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeCloseReason(tt.data)
			assert.Error(t, err)
		})
	}
}

func TestDecodeCloseReasonEmpty(t *testing.T) {
	r, err := DecodeCloseReason(nil)
	require.NoError(t, err)
	assert.Equal(t, CloseNormal, r.Code)
}

func TestCloseCodeString(t *testing.T) {
	tests := []struct {
		code CloseCode
		want string
	}{
		{CloseNormal, "normal"},
		{CloseInvalidConnectionID, "invalid-connection-id"},
		{CloseStackNotFound, "stack-not-found"},
		{CloseMaxConnections, "max-connections"},
		{CloseProtocolViolation, "protocol-violation"},
		{CloseWindowExceeded, "window-exceeded"},
		{CloseGraceExpired, "grace-expired"},
		{CloseCode(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.code.String())
	}
	assert.Equal(t, "stack-not-found", CloseReason{Code: CloseStackNotFound}.String())
}
