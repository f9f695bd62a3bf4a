package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/relay-protocol/relay-go/pkg/connection"
	"github.com/relay-protocol/relay-go/pkg/log"
	"github.com/relay-protocol/relay-go/pkg/wire"
)

// Transport defaults.
const (
	// DefaultMaxWindow is the default number of unacknowledged frames a
	// transport retains before it is closed.
	DefaultMaxWindow = 4096

	// DefaultGracePeriod is how long a PAUSED transport waits for a reconnect.
	DefaultGracePeriod = 30 * time.Second

	// DefaultHandshakeTimeout bounds the HANDSHAKE / HANDSHAKE_REPLY exchange.
	DefaultHandshakeTimeout = 10 * time.Second

	// DefaultWriteTimeout bounds a single socket write.
	DefaultWriteTimeout = 10 * time.Second

	// DefaultMaxReconnectTries is the default client reconnect bound
	// (unlimited within the grace period).
	DefaultMaxReconnectTries = -1
)

// ErrInvalidConfig is wrapped by every Validate failure.
var ErrInvalidConfig = errors.New("invalid transport config")

// Config holds the tunables shared by both sides of a transport.
type Config struct {
	// MaxWindow bounds the send window. A Send that finds the window full
	// closes the transport with ErrWindowExceeded.
	MaxWindow int

	// GracePeriod is how long a PAUSED transport stays eligible for reconnect.
	GracePeriod time.Duration

	// HandshakeTimeout bounds the handshake on both sides.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds a single socket write.
	WriteTimeout time.Duration

	// MaxFrameSize bounds the length field of incoming and outgoing frames.
	MaxFrameSize uint32

	// MaxReconnectTries bounds client reconnect attempts per disconnect.
	// Negative means unlimited, zero means DefaultMaxReconnectTries.
	MaxReconnectTries int

	// DisableReconnect stops the client from redialing. A PAUSED
	// transport then stays PAUSED until its grace period expires.
	DisableReconnect bool

	// Backoff between client reconnect attempts.
	Backoff connection.BackoffConfig

	// Health configures the health checker.
	Health HealthConfig

	// Logger receives operational logs. Defaults to slog.Default().
	Logger *slog.Logger

	// ProtocolLogger receives protocol events (optional).
	ProtocolLogger log.Logger
}

// DefaultConfig returns the default transport configuration.
func DefaultConfig() Config {
	return Config{
		MaxWindow:         DefaultMaxWindow,
		GracePeriod:       DefaultGracePeriod,
		HandshakeTimeout:  DefaultHandshakeTimeout,
		WriteTimeout:      DefaultWriteTimeout,
		MaxFrameSize:      wire.DefaultMaxFrameSize,
		MaxReconnectTries: DefaultMaxReconnectTries,
		Backoff:           connection.DefaultBackoffConfig(),
		Health:            DefaultHealthConfig(),
	}
}

// Validate rejects negative and inconsistent settings. Zero values are
// valid and mean "use the default".
func (c Config) Validate() error {
	switch {
	case c.MaxWindow < 0:
		return fmt.Errorf("%w: MaxWindow %d is negative", ErrInvalidConfig, c.MaxWindow)
	case c.GracePeriod < 0:
		return fmt.Errorf("%w: GracePeriod %v is negative", ErrInvalidConfig, c.GracePeriod)
	case c.HandshakeTimeout < 0:
		return fmt.Errorf("%w: HandshakeTimeout %v is negative", ErrInvalidConfig, c.HandshakeTimeout)
	case c.WriteTimeout < 0:
		return fmt.Errorf("%w: WriteTimeout %v is negative", ErrInvalidConfig, c.WriteTimeout)
	case c.MaxFrameSize != 0 && c.MaxFrameSize <= wire.HeaderSize:
		return fmt.Errorf("%w: MaxFrameSize %d leaves no room for payload", ErrInvalidConfig, c.MaxFrameSize)
	case c.Backoff.Initial < 0 || c.Backoff.Max < 0 || c.Backoff.Jitter < 0:
		return fmt.Errorf("%w: negative backoff setting", ErrInvalidConfig)
	}
	return c.Health.Validate()
}

// withDefaults returns c with zero values replaced by defaults.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxWindow == 0 {
		c.MaxWindow = d.MaxWindow
	}
	if c.GracePeriod == 0 {
		c.GracePeriod = d.GracePeriod
	}
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = d.HandshakeTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.MaxFrameSize == 0 {
		c.MaxFrameSize = d.MaxFrameSize
	}
	if c.MaxReconnectTries == 0 {
		c.MaxReconnectTries = d.MaxReconnectTries
	}
	if c.Backoff == (connection.BackoffConfig{}) {
		c.Backoff = d.Backoff
	}
	c.Health = c.Health.withDefaults()
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.ProtocolLogger == nil {
		c.ProtocolLogger = log.NoopLogger{}
	}
	return c
}
