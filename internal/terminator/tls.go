package terminator

import (
	"crypto/tls"
	"fmt"
)

// LoadTLSConfig loads the certificate/key pair both terminators share. The
// PEM files are opaque external artifacts; their generation and rotation
// happen outside this process.
func LoadTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}

	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		NextProtos:   []string{"h2"},
	}, nil
}
