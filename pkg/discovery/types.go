package discovery

import (
	"errors"
	"net"
	"strconv"
	"time"
)

// Service type constants for mDNS.
const (
	// ServiceType is the DNS-SD service type of relay servers.
	ServiceType = "_relay._tcp"

	// Domain is the mDNS domain.
	Domain = "local"

	// DefaultPort is advertised when ServerInfo.Port is zero.
	DefaultPort = 7470

	// ProtocolVersion is the value of the v TXT key.
	ProtocolVersion = "1"

	// MaxInstanceNameLen is the DNS label limit for instance names.
	MaxInstanceNameLen = 63

	// DefaultTTL is the DNS record TTL of advertisements.
	DefaultTTL = 120 * time.Second

	// DefaultBrowseTimeout bounds FindAll when the context has no deadline.
	DefaultBrowseTimeout = 3 * time.Second
)

// TXT record keys.
const (
	TXTKeyVersion   = "v"
	TXTKeyWebSocket = "ws"
	TXTKeyTLS       = "tls"
)

// Errors
var (
	ErrInvalidTXTRecord    = errors.New("invalid TXT record format")
	ErrMissingRequired     = errors.New("missing required field")
	ErrInstanceNameTooLong = errors.New("instance name exceeds 63 characters")
	ErrNotFound            = errors.New("service not found")
	ErrNotAdvertising      = errors.New("not advertising")
)

// ServerInfo is what a relay server advertises.
type ServerInfo struct {
	Instance  string
	Port      uint16
	WebSocket bool
	TLS       bool
}

// ServerService is a discovered relay server.
type ServerService struct {
	InstanceName string
	Host         string
	Port         uint16
	Addresses    []string

	Version   string
	WebSocket bool
	TLS       bool
}

// Address returns host:port for dialing. The first resolved address is
// preferred over the host name.
func (s *ServerService) Address() string {
	host := s.Host
	if len(s.Addresses) > 0 {
		host = s.Addresses[0]
	}
	return net.JoinHostPort(host, strconv.Itoa(int(s.Port)))
}
