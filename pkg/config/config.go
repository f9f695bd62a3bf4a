// Package config loads relay server and client settings from YAML.
//
// Every field is optional; anything left out keeps the value from
// transport.DefaultConfig. Durations are Go duration strings ("250ms",
// "30s").
//
//	server:
//	  listen: ":7470"
//	  max_connections: 100
//	transport:
//	  grace_period: 30s
//	  health:
//	    mode: probe
//	    ping_idle_time: 5s
package config

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/relay-protocol/relay-go/pkg/transport"
)

// ErrInvalid is wrapped by every load and conversion failure.
var ErrInvalid = errors.New("invalid configuration")

// File is the root of a configuration file.
type File struct {
	Server    Server    `yaml:"server"`
	Client    Client    `yaml:"client"`
	Transport Transport `yaml:"transport"`
	Log       Log       `yaml:"log"`
}

// Server holds the listener settings.
type Server struct {
	Listen         string `yaml:"listen"`
	WebSocket      bool   `yaml:"websocket"`
	MaxConnections int    `yaml:"max_connections"`
	TLS            TLS    `yaml:"tls"`

	// Advertise publishes the server over mDNS under this instance name.
	Advertise string `yaml:"advertise"`
}

// Client holds the dial settings.
type Client struct {
	Address   string `yaml:"address"`
	WebSocket bool   `yaml:"websocket"`
	TLS       TLS    `yaml:"tls"`

	// Browse resolves the server over mDNS when Address is empty.
	Browse bool `yaml:"browse"`
}

// TLS names PEM files. TLS is enabled when Cert is set on the server, or
// when any field is set on the client.
type TLS struct {
	Cert       string `yaml:"cert"`
	Key        string `yaml:"key"`
	CA         string `yaml:"ca"`
	ServerName string `yaml:"server_name"`
	Insecure   bool   `yaml:"insecure"`
}

// Transport mirrors transport.Config.
type Transport struct {
	MaxWindow         int      `yaml:"max_window"`
	GracePeriod       Duration `yaml:"grace_period"`
	HandshakeTimeout  Duration `yaml:"handshake_timeout"`
	WriteTimeout      Duration `yaml:"write_timeout"`
	MaxFrameSize      uint32   `yaml:"max_frame_size"`
	MaxReconnectTries *int     `yaml:"max_reconnect_tries"`
	DisableReconnect  bool     `yaml:"disable_reconnect"`
	Backoff           Backoff  `yaml:"backoff"`
	Health            Health   `yaml:"health"`
}

// Backoff mirrors connection.BackoffConfig.
type Backoff struct {
	Initial    Duration `yaml:"initial"`
	Max        Duration `yaml:"max"`
	Multiplier float64  `yaml:"multiplier"`
	Jitter     *float64 `yaml:"jitter"`
}

// Health mirrors transport.HealthConfig.
type Health struct {
	Mode                 string   `yaml:"mode"`
	PingIdleTime         Duration `yaml:"ping_idle_time"`
	PingInterval         Duration `yaml:"ping_interval"`
	PingProbes           int      `yaml:"ping_probes"`
	SocketConnect        bool     `yaml:"socket_connect"`
	SocketConnectTimeout Duration `yaml:"socket_connect_timeout"`
	SocketConnectCount   int      `yaml:"socket_connect_count"`
}

// Log holds logging settings for the binaries.
type Log struct {
	Level string `yaml:"level"`

	// Protocol is a file receiving CBOR protocol events.
	Protocol string `yaml:"protocol"`
}

// Duration is a time.Duration written as a Go duration string.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Parse decodes a configuration document. Unknown keys are rejected.
func Parse(data []byte) (*File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if _, err := f.TransportConfig(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Load reads and parses a configuration file.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Default returns the configuration a missing file stands for, with the
// transport defaults spelled out.
func Default() *File {
	d := transport.DefaultConfig()
	tries := d.MaxReconnectTries
	jitter := d.Backoff.Jitter
	return &File{
		Server: Server{Listen: fmt.Sprintf(":%d", transport.DefaultPort)},
		Transport: Transport{
			MaxWindow:         d.MaxWindow,
			GracePeriod:       Duration(d.GracePeriod),
			HandshakeTimeout:  Duration(d.HandshakeTimeout),
			WriteTimeout:      Duration(d.WriteTimeout),
			MaxFrameSize:      d.MaxFrameSize,
			MaxReconnectTries: &tries,
			Backoff: Backoff{
				Initial:    Duration(d.Backoff.Initial),
				Max:        Duration(d.Backoff.Max),
				Multiplier: d.Backoff.Multiplier,
				Jitter:     &jitter,
			},
			Health: Health{
				Mode:                 d.Health.Mode.String(),
				PingIdleTime:         Duration(d.Health.PingIdleTime),
				PingInterval:         Duration(d.Health.PingInterval),
				PingProbes:           d.Health.PingProbes,
				SocketConnectTimeout: Duration(d.Health.SocketConnectTimeout),
				SocketConnectCount:   d.Health.SocketConnectCount,
			},
		},
		Log: Log{Level: "info"},
	}
}

// Marshal encodes f as YAML.
func (f *File) Marshal() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(f); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TransportConfig returns the transport settings layered over the defaults.
// Logger and ProtocolLogger are left for the caller.
func (f *File) TransportConfig() (transport.Config, error) {
	c := transport.DefaultConfig()
	t := f.Transport

	if t.MaxWindow != 0 {
		c.MaxWindow = t.MaxWindow
	}
	setDuration(&c.GracePeriod, t.GracePeriod)
	setDuration(&c.HandshakeTimeout, t.HandshakeTimeout)
	setDuration(&c.WriteTimeout, t.WriteTimeout)
	if t.MaxFrameSize != 0 {
		c.MaxFrameSize = t.MaxFrameSize
	}
	if t.MaxReconnectTries != nil {
		c.MaxReconnectTries = *t.MaxReconnectTries
	}
	c.DisableReconnect = t.DisableReconnect

	setDuration(&c.Backoff.Initial, t.Backoff.Initial)
	setDuration(&c.Backoff.Max, t.Backoff.Max)
	if t.Backoff.Multiplier != 0 {
		c.Backoff.Multiplier = t.Backoff.Multiplier
	}
	if t.Backoff.Jitter != nil {
		c.Backoff.Jitter = *t.Backoff.Jitter
	}

	h := t.Health
	mode, err := transport.ParseHealthMode(h.Mode)
	if err != nil {
		return c, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	c.Health.Mode = mode
	setDuration(&c.Health.PingIdleTime, h.PingIdleTime)
	setDuration(&c.Health.PingInterval, h.PingInterval)
	if h.PingProbes != 0 {
		c.Health.PingProbes = h.PingProbes
	}
	c.Health.SocketConnect = h.SocketConnect
	setDuration(&c.Health.SocketConnectTimeout, h.SocketConnectTimeout)
	if h.SocketConnectCount != 0 {
		c.Health.SocketConnectCount = h.SocketConnectCount
	}

	if err := c.Validate(); err != nil {
		return c, fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	if f.Server.MaxConnections < 0 {
		return c, fmt.Errorf("%w: server.max_connections %d is negative", ErrInvalid, f.Server.MaxConnections)
	}
	return c, nil
}

func setDuration(dst *time.Duration, v Duration) {
	if v != 0 {
		*dst = time.Duration(v)
	}
}

// Enabled reports whether any TLS setting is present.
func (t TLS) Enabled() bool {
	return t.Cert != "" || t.CA != "" || t.ServerName != "" || t.Insecure
}

// Load reads the PEM files into a transport.TLSConfig. The CA bundle
// becomes RootCAs for clients and ClientCAs for servers.
func (t TLS) Load(server bool) (*transport.TLSConfig, error) {
	cfg := &transport.TLSConfig{
		ServerName:         t.ServerName,
		InsecureSkipVerify: t.Insecure,
	}

	if t.Cert != "" || t.Key != "" {
		if t.Cert == "" || t.Key == "" {
			return nil, fmt.Errorf("%w: tls.cert and tls.key must be set together", ErrInvalid)
		}
		cert, err := tls.LoadX509KeyPair(t.Cert, t.Key)
		if err != nil {
			return nil, fmt.Errorf("failed to load key pair: %w", err)
		}
		cfg.Certificate = cert
	}

	if t.CA != "" {
		pem, err := os.ReadFile(t.CA)
		if err != nil {
			return nil, fmt.Errorf("failed to read CA bundle: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("%w: no certificates in %s", ErrInvalid, t.CA)
		}
		if server {
			cfg.ClientCAs = pool
		} else {
			cfg.RootCAs = pool
		}
	}
	return cfg, nil
}
