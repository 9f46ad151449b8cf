// Package testutil builds throwaway certificates and PKCS#12 bundles for tests.
package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"math/big"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"software.sslmate.com/src/go-pkcs12"
)

var serial atomic.Int64

// Identity is a certificate with its private key
type Identity struct {
	Cert *x509.Certificate
	Key  *rsa.PrivateKey
}

// CertOption tweaks a certificate template before it is signed
type CertOption func(*x509.Certificate)

// WithValidity sets the validity window
func WithValidity(notBefore, notAfter time.Time) CertOption {
	return func(c *x509.Certificate) {
		c.NotBefore = notBefore
		c.NotAfter = notAfter
	}
}

// WithOCSPServer sets the responder URL advertised in the certificate
func WithOCSPServer(url string) CertOption {
	return func(c *x509.Certificate) {
		c.OCSPServer = []string{url}
	}
}

// NewCA creates a self-signed certificate authority
func NewCA(t testing.TB, commonName string) *Identity {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(serial.Add(1)),
		Subject:               pkix.Name{CommonName: commonName, Organization: []string{"Test Trust Services"}},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		IsCA:                  true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &Identity{Cert: cert, Key: key}
}

// Issue signs a leaf certificate for commonName with the CA's key
func (ca *Identity) Issue(t testing.TB, commonName string, opts ...CertOption) *Identity {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial.Add(1)),
		Subject:      pkix.Name{CommonName: commonName, Organization: []string{commonName}},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageContentCommitment,
	}
	for _, opt := range opts {
		opt(tmpl)
	}

	der, err := x509.CreateCertificate(rand.Reader, tmpl, ca.Cert, &key.PublicKey, ca.Key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	return &Identity{Cert: cert, Key: key}
}

// PKCS12 encodes the identity, plus optional chain certificates, as a
// password-protected PKCS#12 bundle
func (id *Identity) PKCS12(t testing.TB, password string, chain ...*x509.Certificate) []byte {
	t.Helper()
	data, err := pkcs12.Modern.Encode(id.Key, id.Cert, chain, password)
	require.NoError(t, err)
	return data
}

// WriteBundle writes a PKCS#12 bundle into a temp dir and returns its path
func (id *Identity) WriteBundle(t testing.TB, password string, chain ...*x509.Certificate) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "signer.p12")
	require.NoError(t, os.WriteFile(path, id.PKCS12(t, password, chain...), 0o600))
	return path
}

// ECDSABundle returns a PKCS#12 bundle holding an ECDSA identity
func ECDSABundle(t testing.TB, password string) []byte {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)

	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(serial.Add(1)),
		Subject:      pkix.Name{CommonName: "ecdsa signer"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)

	data, err := pkcs12.Modern.Encode(key, cert, nil, password)
	require.NoError(t, err)
	return data
}

// PEM encodes a certificate as PEM
func PEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}
