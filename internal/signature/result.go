package signature

import (
	"crypto/x509"
	"time"
)

// VerificationResult contains the complete signature verification outcome
type VerificationResult struct {
	// Overall validity - true only if all checks pass
	Valid bool `json:"valid"`

	// Individual check results
	SignatureFound        bool `json:"signature_found"`
	DocumentDigestValid   bool `json:"document_digest_valid"`
	PropertiesDigestValid bool `json:"properties_digest_valid"`
	SignatureValid        bool `json:"signature_valid"`
	CertificateMatches    bool `json:"certificate_matches"`
	CertChainValid        bool `json:"cert_chain_valid"`
	NotRevoked            bool `json:"not_revoked"`

	// Signer information
	Signer *SignerInfo `json:"signer,omitempty"`

	// Signing time declared in the signed properties
	SignedAt *time.Time `json:"signed_at,omitempty"`

	// Certificate chain (not serialized to JSON)
	CertChain []*x509.Certificate `json:"-"`

	// Warnings (non-fatal issues)
	Warnings []string `json:"warnings,omitempty"`

	// Errors (reasons for invalid result)
	Errors []string `json:"errors,omitempty"`
}

// SignerInfo contains certificate subject information
type SignerInfo struct {
	Name         string    `json:"name"`
	Organization string    `json:"organization,omitempty"`
	SerialNumber string    `json:"serial_number"`
	Issuer       string    `json:"issuer"`
	ValidFrom    time.Time `json:"valid_from"`
	ValidTo      time.Time `json:"valid_to"`
}

// NewVerificationResult creates a new empty result
func NewVerificationResult() *VerificationResult {
	return &VerificationResult{
		Warnings: make([]string, 0),
		Errors:   make([]string, 0),
	}
}

// AddWarning adds a warning message to the result
func (r *VerificationResult) AddWarning(msg string) {
	r.Warnings = append(r.Warnings, msg)
}

// AddError adds an error message and sets Valid to false
func (r *VerificationResult) AddError(msg string) {
	r.Errors = append(r.Errors, msg)
	r.Valid = false
}

// SetSigner populates SignerInfo from an x509 certificate
func (r *VerificationResult) SetSigner(cert *x509.Certificate) {
	if cert == nil {
		return
	}
	r.Signer = NewSignerInfo(cert)
}

// NewSignerInfo extracts subject information from a certificate
func NewSignerInfo(cert *x509.Certificate) *SignerInfo {
	signer := &SignerInfo{
		Name:         cert.Subject.CommonName,
		SerialNumber: cert.SerialNumber.String(),
		ValidFrom:    cert.NotBefore,
		ValidTo:      cert.NotAfter,
	}

	if len(cert.Subject.Organization) > 0 {
		signer.Organization = cert.Subject.Organization[0]
	}

	if cert.Issuer.CommonName != "" {
		signer.Issuer = cert.Issuer.CommonName
	} else if len(cert.Issuer.Organization) > 0 {
		signer.Issuer = cert.Issuer.Organization[0]
	}

	return signer
}

// ComputeValidity sets the Valid field based on individual check results.
// Chain and revocation checks only count when a trust store was consulted.
func (r *VerificationResult) ComputeValidity() {
	r.Valid = r.SignatureFound &&
		r.DocumentDigestValid &&
		r.PropertiesDigestValid &&
		r.SignatureValid &&
		r.CertificateMatches &&
		r.CertChainValid &&
		r.NotRevoked &&
		len(r.Errors) == 0
}
