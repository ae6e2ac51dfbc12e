// Package tlsstrategy upgrades a raw connection to TLS under one of
// the three hostname-verification policies spec.md §4.3 (C3) defines,
// with its own handshake deadline independent of the connect timeout.
package tlsstrategy

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"time"
)

// Policy selects how the peer certificate's hostname is verified.
type Policy int

const (
	// Builtin delegates entirely to crypto/tls's own verifier.
	Builtin Policy = iota
	// Client additionally re-verifies the certificate chain against
	// ServerName after the handshake completes, for embedders that
	// need custom pinning on top of the standard verifier.
	Client
	// None disables hostname verification (InsecureSkipVerify). Tests
	// and trusted-network deployments only.
	None
)

// Config carries what Upgrade needs beyond the policy itself.
type Config struct {
	Policy     Policy
	ServerName string
	RootCAs    *x509.CertPool
	NextProtos []string
}

// Upgrade performs a TLS client handshake over conn, bounded by
// deadline, and returns the resulting *tls.Conn. The caller owns conn
// both before and after the call: on a handshake error, conn is left
// open for the caller to close. If Client-policy verification fails
// after a completed handshake, the TLS session, and with it conn, is
// closed before the error is returned.
func Upgrade(ctx context.Context, conn net.Conn, cfg Config, deadline time.Time) (*tls.Conn, error) {
	tlsCfg := &tls.Config{
		ServerName:         cfg.ServerName,
		RootCAs:            cfg.RootCAs,
		NextProtos:         cfg.NextProtos,
		InsecureSkipVerify: cfg.Policy == None,
	}

	if !deadline.IsZero() {
		if err := conn.SetDeadline(deadline); err != nil {
			return nil, fmt.Errorf("tlsstrategy: set handshake deadline: %w", err)
		}
		defer conn.SetDeadline(time.Time{})
	}

	tconn := tls.Client(conn, tlsCfg)
	if err := tconn.HandshakeContext(ctx); err != nil {
		return nil, fmt.Errorf("tlsstrategy: handshake: %w", err)
	}

	if cfg.Policy == Client {
		if err := verifyHostname(tconn, cfg); err != nil {
			tconn.Close()
			return nil, err
		}
	}

	return tconn, nil
}

// verifyHostname re-runs chain verification explicitly, independent
// of whatever crypto/tls already did, for the Client policy.
func verifyHostname(tconn *tls.Conn, cfg Config) error {
	state := tconn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return fmt.Errorf("tlsstrategy: no peer certificates presented")
	}
	opts := x509.VerifyOptions{
		DNSName:       cfg.ServerName,
		Roots:         cfg.RootCAs,
		Intermediates: x509.NewCertPool(),
	}
	for _, cert := range state.PeerCertificates[1:] {
		opts.Intermediates.AddCert(cert)
	}
	if _, err := state.PeerCertificates[0].Verify(opts); err != nil {
		return fmt.Errorf("tlsstrategy: explicit hostname verification: %w", err)
	}
	return nil
}
