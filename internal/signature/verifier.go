package signature

import "context"

// Signer produces a signed copy of an unsigned record document
type Signer interface {
	// Sign returns the document with an embedded signature block
	Sign(ctx context.Context, document []byte) ([]byte, error)
}

// Verifier checks the signature embedded in a signed document
type Verifier interface {
	// Verify returns VerificationResult with detailed check outcomes
	Verify(ctx context.Context, data []byte) (*VerificationResult, error)
}

// SignerFunc adapts a function to the Signer interface
type SignerFunc func(ctx context.Context, document []byte) ([]byte, error)

// Sign calls f
func (f SignerFunc) Sign(ctx context.Context, document []byte) ([]byte, error) {
	return f(ctx, document)
}
