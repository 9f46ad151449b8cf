package invoicelib

import (
	"context"
	"crypto/x509"

	"github.com/rezonia/invoice-compliance/internal/record"
	"github.com/rezonia/invoice-compliance/internal/signature/trust"
	"github.com/rezonia/invoice-compliance/internal/signature/xades"
)

// VerifyOptions controls signature verification
type VerifyOptions struct {
	// Roots enables chain validation against these CAs. Without roots only
	// the cryptographic checks run.
	Roots []*x509.Certificate
	// SoftFail accepts certificates whose OCSP responder is unreachable
	SoftFail bool
}

// VerifyDocument checks the signature embedded in a signed record document
func VerifyDocument(ctx context.Context, data []byte, opts VerifyOptions) (*VerificationResult, error) {
	var vopts []xades.VerifierOption
	if len(opts.Roots) > 0 {
		topts := []trust.TrustStoreOption{trust.WithCertificates(opts.Roots...)}
		if opts.SoftFail {
			topts = append(topts, trust.WithSoftFail())
		}
		vopts = append(vopts, xades.WithTrustStore(trust.NewEmptyTrustStore(topts...)))
	}
	return xades.NewVerifier(vopts...).Verify(ctx, data)
}

// VerifyChain recomputes every hash of a chain and returns its head. A
// broken chain returns a *ChainError naming the first bad entry.
func VerifyChain(entries []ChainEntry) (string, error) {
	return record.VerifyChain(entries)
}
