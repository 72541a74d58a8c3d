// Package tls builds the TLS configuration used by the image fetch client.
package tls

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"os"
)

// ClientConfig returns a tls.Config for outgoing HTTPS requests. When caFile
// is set, the PEM certificates it holds are trusted in addition to the
// system roots, which is what intercepting corporate proxies need.
// insecure disables certificate verification altogether.
func ClientConfig(caFile string, insecure bool) (*tls.Config, error) {
	cfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecure,
	}

	if caFile == "" {
		return cfg, nil
	}

	pool, err := loadCertPool(caFile)
	if err != nil {
		return nil, err
	}
	cfg.RootCAs = pool

	return cfg, nil
}

// loadCertPool returns the system pool extended with the certificates in
// caFile.
func loadCertPool(caFile string) (*x509.CertPool, error) {
	// Validate that the file exists before attempting to load
	if _, err := os.Stat(caFile); err != nil {
		return nil, fmt.Errorf("CA file not found: %w", err)
	}

	data, err := os.ReadFile(caFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA file: %w", err)
	}

	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no PEM certificates found in %s", caFile)
	}

	return pool, nil
}
