package transport

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
)

// ALPNProtocol is the ALPN identifier negotiated on TLS links.
const ALPNProtocol = "relay/1"

// TLSConfig holds the certificates for TLS links. TLS is optional; the
// transport itself does not depend on it.
type TLSConfig struct {
	// Certificate is the TLS certificate for this endpoint. Required on the
	// server, optional on the client (mutual TLS).
	Certificate tls.Certificate

	// RootCAs verifies server certificates on the client.
	RootCAs *x509.CertPool

	// ClientCAs verifies client certificates on the server. When set,
	// clients must present a certificate.
	ClientCAs *x509.CertPool

	// ServerName is the expected server name for client connections.
	ServerName string

	// InsecureSkipVerify disables certificate verification.
	// Only for testing - never use in production!
	InsecureSkipVerify bool
}

// NewServerTLSConfig creates the TLS configuration for a listener.
func NewServerTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("TLSConfig is required")
	}
	if len(cfg.Certificate.Certificate) == 0 {
		return nil, fmt.Errorf("server certificate is required")
	}

	tlsConfig := &tls.Config{
		// TLS 1.3 only - no fallback
		MinVersion: tls.VersionTLS13,

		Certificates: []tls.Certificate{cfg.Certificate},
		NextProtos:   []string{ALPNProtocol},

		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},

		// The transport resumes on its own; TLS resumption adds nothing.
		SessionTicketsDisabled: true,
	}

	if cfg.ClientCAs != nil {
		tlsConfig.ClientCAs = cfg.ClientCAs
		tlsConfig.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return tlsConfig, nil
}

// NewClientTLSConfig creates the TLS configuration for a dialer.
func NewClientTLSConfig(cfg *TLSConfig) (*tls.Config, error) {
	if cfg == nil {
		return nil, fmt.Errorf("TLSConfig is required")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS13,
		RootCAs:    cfg.RootCAs,
		ServerName: cfg.ServerName,
		NextProtos: []string{ALPNProtocol},
		CurvePreferences: []tls.CurveID{
			tls.X25519,
			tls.CurveP256,
		},
		SessionTicketsDisabled: true,
		InsecureSkipVerify:     cfg.InsecureSkipVerify,
	}
	if len(cfg.Certificate.Certificate) > 0 {
		tlsConfig.Certificates = []tls.Certificate{cfg.Certificate}
	}
	return tlsConfig, nil
}

// VerifyTLS13 checks that a TLS connection is using TLS 1.3.
func VerifyTLS13(state tls.ConnectionState) error {
	if state.Version != tls.VersionTLS13 {
		return fmt.Errorf("TLS version %x is not TLS 1.3 (0x0304)", state.Version)
	}
	return nil
}

// VerifyALPN checks that the negotiated ALPN protocol is correct.
func VerifyALPN(state tls.ConnectionState) error {
	if state.NegotiatedProtocol != ALPNProtocol {
		return fmt.Errorf("ALPN protocol %q is not %q", state.NegotiatedProtocol, ALPNProtocol)
	}
	return nil
}

// VerifyConnection performs the standard checks on an established TLS link.
func VerifyConnection(state tls.ConnectionState) error {
	if err := VerifyTLS13(state); err != nil {
		return err
	}
	return VerifyALPN(state)
}
