package discovery

import (
	"context"
	"time"
)

// Advertiser publishes a relay server on the local network.
type Advertiser interface {
	// Advertise starts advertising info, replacing any earlier
	// advertisement.
	Advertise(ctx context.Context, info *ServerInfo) error

	// Update replaces the TXT records of the running advertisement.
	Update(info *ServerInfo) error

	// Stop withdraws the advertisement.
	Stop() error
}

// AdvertiserConfig configures advertiser behavior.
type AdvertiserConfig struct {
	// Interface specifies which network interface to use.
	// Empty string means all interfaces.
	Interface string

	// TTL is the DNS record TTL.
	// Default: 120 seconds.
	TTL time.Duration
}

// DefaultAdvertiserConfig returns the default advertiser configuration.
func DefaultAdvertiserConfig() AdvertiserConfig {
	return AdvertiserConfig{
		TTL: DefaultTTL,
	}
}
