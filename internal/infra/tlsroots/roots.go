package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoCertsFound is returned when a PEM source holds no certificate.
var ErrNoCertsFound = errors.New("tlsroots: no certificates found")

// certExts are the file extensions LoadPool picks up from a directory.
var certExts = map[string]bool{".pem": true, ".crt": true, ".cer": true}

// LoadPool returns a pool holding the certificates in paths. Each path is
// a PEM file or a directory of .pem, .crt and .cer files. With system set
// the pool starts from the system roots.
func LoadPool(system bool, paths ...string) (*x509.CertPool, error) {
	pool := x509.NewCertPool()
	if system {
		if sys, err := x509.SystemCertPool(); err == nil {
			pool = sys
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, fmt.Errorf("tlsroots: %w", err)
		}
		if !info.IsDir() {
			if err := appendFile(pool, path); err != nil {
				return nil, err
			}
			continue
		}

		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("tlsroots: read dir %s: %w", path, err)
		}
		found := 0
		for _, entry := range entries {
			if entry.IsDir() || !certExts[filepath.Ext(entry.Name())] {
				continue
			}
			if err := appendFile(pool, filepath.Join(path, entry.Name())); err != nil {
				return nil, err
			}
			found++
		}
		if found == 0 {
			return nil, fmt.Errorf("%w in %s", ErrNoCertsFound, path)
		}
	}
	return pool, nil
}

func appendFile(pool *x509.CertPool, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("tlsroots: read %s: %w", path, err)
	}
	if _, err := AppendPEM(pool, data); err != nil {
		return fmt.Errorf("%w (%s)", err, path)
	}
	return nil
}

// AppendPEM adds every CERTIFICATE block of data to pool and returns the
// number added. Other block types, such as keys, are skipped.
func AppendPEM(pool *x509.CertPool, data []byte) (int, error) {
	added := 0
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return added, fmt.Errorf("tlsroots: parse certificate: %w", err)
		}
		pool.AddCert(cert)
		added++
	}
	if added == 0 {
		return 0, ErrNoCertsFound
	}
	return added, nil
}

// ServerConfig returns the config for a TLS listener that serves the
// certificate from getCert. With clientCAs set, clients must present a
// certificate signed by one of them.
func ServerConfig(getCert func(*tls.ClientHelloInfo) (*tls.Certificate, error), clientCAs *x509.CertPool) *tls.Config {
	cfg := &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: getCert,
	}
	if clientCAs != nil {
		cfg.ClientCAs = clientCAs
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg
}

// ClientConfig returns the config for dialing a TLS server. A nil roots
// pool means the system roots.
func ClientConfig(roots *x509.CertPool, insecure bool) *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		RootCAs:            roots,
		InsecureSkipVerify: insecure,
	}
}
