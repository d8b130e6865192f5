package certs

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
)

// ErrNoCertificates is returned when a CA location holds no certificates.
var ErrNoCertificates = errors.New("no certificates found")

// CertManager loads the CA bundle used to trust the clinical backend.
type CertManager struct {
	path   string
	logger *zap.Logger
	now    func() time.Time
}

// NewCertManager creates a CertManager for path, which may be a single PEM
// bundle or a directory of .crt and .pem files.
func NewCertManager(path string, logger *zap.Logger) *CertManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CertManager{path: path, logger: logger, now: time.Now}
}

// LoadCertificates loads every certificate under the configured path.
func (cm *CertManager) LoadCertificates() ([]*x509.Certificate, error) {
	var certs []*x509.Certificate

	err := filepath.WalkDir(cm.path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if path != cm.path && !strings.HasSuffix(d.Name(), ".crt") && !strings.HasSuffix(d.Name(), ".pem") {
			return nil
		}
		found, err := loadCertificates(path)
		if err != nil {
			return err
		}
		certs = append(certs, found...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoCertificates, cm.path)
	}
	return certs, nil
}

// loadCertificates parses every CERTIFICATE block of a PEM file.
func loadCertificates(path string) ([]*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var certs []*x509.Certificate
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
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		certs = append(certs, cert)
	}
	if len(certs) == 0 {
		return nil, fmt.Errorf("%s: failed to parse certificate PEM", path)
	}
	return certs, nil
}

// IsExpired checks if a certificate is expired.
func (cm *CertManager) IsExpired(cert *x509.Certificate) bool {
	return cert.NotAfter.Before(cm.now())
}

// ExpiresWithin reports whether cert stops being valid within d.
func (cm *CertManager) ExpiresWithin(cert *x509.Certificate, d time.Duration) bool {
	return cert.NotAfter.Before(cm.now().Add(d))
}

// Pool builds a cert pool from the loaded certificates. Expired ones are
// skipped and certificates expiring within 30 days are logged.
func (cm *CertManager) Pool() (*x509.CertPool, error) {
	certs, err := cm.LoadCertificates()
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	added := 0
	for _, cert := range certs {
		switch {
		case cm.IsExpired(cert):
			cm.logger.Warn("skipping expired CA certificate",
				zap.String("subject", cert.Subject.String()),
				zap.Time("not_after", cert.NotAfter))
			continue
		case cm.ExpiresWithin(cert, 30*24*time.Hour):
			cm.logger.Warn("CA certificate expires soon",
				zap.String("subject", cert.Subject.String()),
				zap.Time("not_after", cert.NotAfter))
		}
		pool.AddCert(cert)
		added++
	}
	if added == 0 {
		return nil, fmt.Errorf("%w in %s: all expired", ErrNoCertificates, cm.path)
	}
	return pool, nil
}

// Transport returns an HTTP transport trusting only the loaded CAs.
func (cm *CertManager) Transport() (*http.Transport, error) {
	pool, err := cm.Pool()
	if err != nil {
		return nil, err
	}
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.TLSClientConfig = &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}
	return t, nil
}
