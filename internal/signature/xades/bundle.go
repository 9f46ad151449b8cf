package xades

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"os"
	"time"

	"software.sslmate.com/src/go-pkcs12"

	"github.com/rezonia/invoice-compliance/internal/signature"
)

// Bundle is the signing identity decoded from a PKCS#12 file
type Bundle struct {
	Key         *rsa.PrivateKey
	Certificate *x509.Certificate
	Chain       []*x509.Certificate
}

// LoadBundle decodes a password-protected PKCS#12 bundle.
// Only RSA keys are accepted.
func LoadBundle(data []byte, password string) (*Bundle, error) {
	if len(data) == 0 {
		return nil, signature.ErrCertLoad("empty certificate bundle", nil)
	}

	key, cert, chain, err := pkcs12.DecodeChain(data, password)
	if err != nil {
		return nil, signature.ErrCertLoad("failed to decode PKCS#12 bundle", err)
	}
	if cert == nil {
		return nil, signature.ErrCertLoad("bundle holds no certificate", nil)
	}

	rsaKey, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, signature.ErrUnsupportedKey(fmt.Sprintf("%T", key))
	}

	return &Bundle{Key: rsaKey, Certificate: cert, Chain: chain}, nil
}

// LoadBundleFile reads and decodes a PKCS#12 bundle from disk
func LoadBundleFile(path, password string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, signature.ErrCertLoad(fmt.Sprintf("failed to read %s", path), err)
	}
	return LoadBundle(data, password)
}

// CheckValidity fails when the certificate is outside its validity window at t
func (b *Bundle) CheckValidity(t time.Time) error {
	if t.Before(b.Certificate.NotBefore) {
		return signature.ErrCertNotYetValid(b.Certificate.Subject.String())
	}
	if t.After(b.Certificate.NotAfter) {
		return signature.ErrCertExpired(b.Certificate.Subject.String())
	}
	return nil
}
