package discovery

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerTXTRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		info ServerInfo
		want []string
	}{
		{"plain", ServerInfo{}, []string{"v=1"}},
		{"websocket", ServerInfo{WebSocket: true}, []string{"v=1", "ws=1"}},
		{"tls", ServerInfo{TLS: true}, []string{"tls=1", "v=1"}},
		{"both", ServerInfo{WebSocket: true, TLS: true}, []string{"tls=1", "v=1", "ws=1"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strs := TXTRecordsToStrings(EncodeServerTXT(&tt.info))
			assert.Equal(t, tt.want, strs)

			var svc ServerService
			require.NoError(t, DecodeServerTXT(StringsToTXTRecords(strs), &svc))
			assert.Equal(t, ProtocolVersion, svc.Version)
			assert.Equal(t, tt.info.WebSocket, svc.WebSocket)
			assert.Equal(t, tt.info.TLS, svc.TLS)
		})
	}
}

func TestDecodeServerTXTErrors(t *testing.T) {
	var svc ServerService

	err := DecodeServerTXT(TXTRecordMap{"ws": "1"}, &svc)
	assert.ErrorIs(t, err, ErrMissingRequired)

	err = DecodeServerTXT(TXTRecordMap{"v": ""}, &svc)
	assert.ErrorIs(t, err, ErrInvalidTXTRecord)

	err = DecodeServerTXT(TXTRecordMap{"v": "1", "tls": "yes"}, &svc)
	assert.ErrorIs(t, err, ErrInvalidTXTRecord)
}

func TestDecodeServerTXTFlags(t *testing.T) {
	var svc ServerService
	require.NoError(t, DecodeServerTXT(StringsToTXTRecords([]string{"v=2", "ws", "tls=0", "extra=x"}), &svc))
	assert.Equal(t, "2", svc.Version)
	assert.True(t, svc.WebSocket, "bare key is a set flag")
	assert.False(t, svc.TLS)
}

func TestStringsToTXTRecords(t *testing.T) {
	txt := StringsToTXTRecords([]string{"a=1", "b=x=y", "flag", ""})
	assert.Equal(t, TXTRecordMap{"a": "1", "b": "x=y", "flag": ""}, txt)
}

func TestValidateInstanceName(t *testing.T) {
	assert.NoError(t, ValidateInstanceName("relay-lab"))
	assert.Error(t, ValidateInstanceName(""))
	assert.ErrorIs(t, ValidateInstanceName(strings.Repeat("x", MaxInstanceNameLen+1)), ErrInstanceNameTooLong)
}

func TestServerServiceAddress(t *testing.T) {
	svc := ServerService{Host: "relay.local.", Port: 7470}
	assert.Equal(t, "relay.local.:7470", svc.Address())

	svc.Addresses = []string{"192.168.1.5", "fe80::1"}
	assert.Equal(t, "192.168.1.5:7470", svc.Address())

	svc.Addresses = []string{"fe80::1"}
	assert.Equal(t, "[fe80::1]:7470", svc.Address())
}
