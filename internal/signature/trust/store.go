// Package trust verifies signing certificates against configured roots and
// checks their revocation status over OCSP.
package trust

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/jonboulle/clockwork"
)

// TrustStore manages trusted CA certificates and revocation checking
type TrustStore struct {
	roots       *x509.CertPool
	rootCerts   []*x509.Certificate
	revocations *revocationCache
	ocspTimeout time.Duration
	softFail    bool
	httpClient  *http.Client
	clock       clockwork.Clock
}

// TrustStoreOption configures a TrustStore
type TrustStoreOption func(*TrustStore)

// NewTrustStore creates a trust store seeded with the host's system roots.
// Options may add further CAs on top.
func NewTrustStore(opts ...TrustStoreOption) (*TrustStore, error) {
	roots, err := x509.SystemCertPool()
	if err != nil {
		return nil, fmt.Errorf("failed to load system roots: %w", err)
	}

	store := newStore(roots)
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

// NewEmptyTrustStore creates a trust store without default CAs
func NewEmptyTrustStore(opts ...TrustStoreOption) *TrustStore {
	store := newStore(x509.NewCertPool())
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func newStore(roots *x509.CertPool) *TrustStore {
	clock := clockwork.NewRealClock()
	return &TrustStore{
		roots:       roots,
		rootCerts:   make([]*x509.Certificate, 0),
		revocations: newRevocationCache(DefaultOCSPCacheTTL),
		ocspTimeout: DefaultOCSPTimeout,
		httpClient:  &http.Client{},
		clock:       clock,
	}
}

// WithSoftFail enables soft-fail mode for OCSP checks
// When enabled, OCSP failures don't cause verification to fail
func WithSoftFail() TrustStoreOption {
	return func(s *TrustStore) {
		s.softFail = true
	}
}

// WithOCSPTimeout sets the timeout for OCSP requests
func WithOCSPTimeout(d time.Duration) TrustStoreOption {
	return func(s *TrustStore) {
		s.ocspTimeout = d
	}
}

// WithOCSPCacheTTL caps how long a good OCSP answer is reused
func WithOCSPCacheTTL(d time.Duration) TrustStoreOption {
	return func(s *TrustStore) {
		s.revocations = newRevocationCache(d)
	}
}

// WithHTTPClient sets the client used for OCSP requests
func WithHTTPClient(c *http.Client) TrustStoreOption {
	return func(s *TrustStore) {
		if c != nil {
			s.httpClient = c
		}
	}
}

// WithClock replaces the clock used for chain validity and cache expiry
func WithClock(c clockwork.Clock) TrustStoreOption {
	return func(s *TrustStore) {
		s.clock = c
	}
}

// WithCertificates adds CA certificates to the store
func WithCertificates(certs ...*x509.Certificate) TrustStoreOption {
	return func(s *TrustStore) {
		s.AddCertificates(certs...)
	}
}

// LoadPEMFile reads CA certificates from a PEM file into the store
func (s *TrustStore) LoadPEMFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read CA bundle %s: %w", path, err)
	}
	return s.AddCertificatesFromPEM(data)
}

// AddCertificate adds a single certificate to the trust store
func (s *TrustStore) AddCertificate(cert *x509.Certificate) {
	if cert != nil {
		s.roots.AddCert(cert)
		s.rootCerts = append(s.rootCerts, cert)
	}
}

// AddCertificates adds multiple certificates to the trust store
func (s *TrustStore) AddCertificates(certs ...*x509.Certificate) {
	for _, cert := range certs {
		s.AddCertificate(cert)
	}
}

// AddCertificatesFromPEM parses and adds certificates from PEM data
func (s *TrustStore) AddCertificatesFromPEM(pemData []byte) error {
	var added int
	for {
		block, rest := pem.Decode(pemData)
		if block == nil {
			break
		}
		if block.Type == "CERTIFICATE" {
			cert, err := x509.ParseCertificate(block.Bytes)
			if err != nil {
				return fmt.Errorf("failed to parse certificate: %w", err)
			}
			s.AddCertificate(cert)
			added++
		}
		pemData = rest
	}
	if added == 0 {
		return fmt.Errorf("no certificates found in PEM data")
	}
	return nil
}

// VerifyChain verifies the certificate chain against trusted roots
func (s *TrustStore) VerifyChain(cert *x509.Certificate, intermediates []*x509.Certificate) ([]*x509.Certificate, error) {
	if cert == nil {
		return nil, fmt.Errorf("certificate is nil")
	}

	var interPool *x509.CertPool
	if len(intermediates) > 0 {
		interPool = x509.NewCertPool()
		for _, inter := range intermediates {
			interPool.AddCert(inter)
		}
	}

	opts := x509.VerifyOptions{
		Roots:         s.roots,
		Intermediates: interPool,
		CurrentTime:   s.clock.Now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}

	chains, err := cert.Verify(opts)
	if err != nil {
		return nil, fmt.Errorf("chain verification failed: %w", err)
	}
	if len(chains) == 0 {
		return nil, fmt.Errorf("no valid certificate chains found")
	}

	return chains[0], nil
}

// Revocation asks the certificate's OCSP responders whether it was
// revoked. Answers are cached per issuer and serial. A certificate that
// names no responder is reported as not revoked.
func (s *TrustStore) Revocation(ctx context.Context, cert, issuer *x509.Certificate) (Revocation, error) {
	if cert == nil || issuer == nil {
		return Revocation{}, fmt.Errorf("certificate or issuer is nil")
	}

	now := s.clock.Now()
	key := revocationKey(cert, issuer)
	if rev, ok := s.revocations.get(key, now); ok {
		return rev, nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.ocspTimeout)
	defer cancel()

	rev, err := queryOCSP(ctx, s.httpClient, now, cert, issuer)
	if errors.Is(err, errNoResponder) {
		return Revocation{}, nil
	}
	if err != nil {
		return Revocation{}, err
	}
	s.revocations.put(key, rev, now)
	return rev, nil
}

// Roots returns the certificate pool
func (s *TrustStore) Roots() *x509.CertPool {
	return s.roots
}

// RootCerts returns the certificates added explicitly to the store
func (s *TrustStore) RootCerts() []*x509.Certificate {
	return s.rootCerts
}

// IsSoftFail returns whether soft-fail mode is enabled
func (s *TrustStore) IsSoftFail() bool {
	return s.softFail
}
