package signature

import (
	"errors"
	"fmt"
)

// Error codes for signing and signature verification
const (
	ErrCodeCertLoad          = "CERT_LOAD"
	ErrCodeCertExpired       = "CERT_EXPIRED"
	ErrCodeCertNotYetValid   = "CERT_NOT_YET_VALID"
	ErrCodeUnsupportedKey    = "UNSUPPORTED_KEY"
	ErrCodeSigningFailed     = "SIGNING_FAILED"
	ErrCodeAlreadySigned     = "ALREADY_SIGNED"
	ErrCodeMalformedDocument = "MALFORMED_DOCUMENT"
	ErrCodeNoSignature       = "NO_SIGNATURE"
	ErrCodeInvalidSignature  = "INVALID_SIGNATURE"
	ErrCodeDigestMismatch    = "DIGEST_MISMATCH"
	ErrCodeCertRevoked       = "CERT_REVOKED"
	ErrCodeChainInvalid      = "CHAIN_INVALID"
	ErrCodeOCSPUnavailable   = "OCSP_UNAVAILABLE"
)

// SignatureError represents signing and signature verification errors
type SignatureError struct {
	Code    string
	Field   string
	Message string
	Cause   error
}

func (e *SignatureError) Error() string {
	if e.Field != "" && e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s (%v)", e.Code, e.Field, e.Message, e.Cause)
	}
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Field, e.Message)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *SignatureError) Unwrap() error {
	return e.Cause
}

// NewSignatureError creates a new signature error
func NewSignatureError(code, field, message string, cause error) *SignatureError {
	return &SignatureError{
		Code:    code,
		Field:   field,
		Message: message,
		Cause:   cause,
	}
}

// IsLoadError reports whether err happened while loading signing material.
// Load errors are fatal: retrying with the same bundle cannot succeed.
func IsLoadError(err error) bool {
	var se *SignatureError
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code {
	case ErrCodeCertLoad, ErrCodeCertExpired, ErrCodeCertNotYetValid, ErrCodeUnsupportedKey:
		return true
	}
	return false
}

// ErrCertLoad returns error when the certificate bundle cannot be loaded
func ErrCertLoad(message string, cause error) *SignatureError {
	return NewSignatureError(ErrCodeCertLoad, "certificate", message, cause)
}

// ErrCertExpired returns error when certificate has expired
func ErrCertExpired(subject string) *SignatureError {
	return NewSignatureError(ErrCodeCertExpired, "certificate", fmt.Sprintf("certificate expired: %s", subject), nil)
}

// ErrCertNotYetValid returns error when certificate is not yet valid
func ErrCertNotYetValid(subject string) *SignatureError {
	return NewSignatureError(ErrCodeCertNotYetValid, "certificate", fmt.Sprintf("certificate not yet valid: %s", subject), nil)
}

// ErrUnsupportedKey returns error when the private key cannot produce the
// signature method in use
func ErrUnsupportedKey(keyType string) *SignatureError {
	return NewSignatureError(ErrCodeUnsupportedKey, "private_key", fmt.Sprintf("unsupported private key type: %s", keyType), nil)
}

// ErrSigningFailed returns error when producing a signature fails
func ErrSigningFailed(cause error) *SignatureError {
	return NewSignatureError(ErrCodeSigningFailed, "signature", "signing failed", cause)
}

// ErrAlreadySigned returns error when asked to sign a signed document
func ErrAlreadySigned() *SignatureError {
	return NewSignatureError(ErrCodeAlreadySigned, "", "document already carries a signature", nil)
}

// ErrMalformedDocument returns error when the document is not usable XML
func ErrMalformedDocument(cause error) *SignatureError {
	return NewSignatureError(ErrCodeMalformedDocument, "document", "malformed XML document", cause)
}

// ErrNoSignature returns error when no signature found in document
func ErrNoSignature() *SignatureError {
	return NewSignatureError(ErrCodeNoSignature, "", "no signature found in document", nil)
}

// ErrInvalidSignature returns error when signature validation fails
func ErrInvalidSignature(cause error) *SignatureError {
	return NewSignatureError(ErrCodeInvalidSignature, "signature", "signature validation failed", cause)
}

// ErrDigestMismatch returns error when a reference digest does not match
func ErrDigestMismatch(reference string) *SignatureError {
	return NewSignatureError(ErrCodeDigestMismatch, "reference", fmt.Sprintf("digest mismatch for reference %q", reference), nil)
}

// ErrCertRevoked returns error when certificate has been revoked
func ErrCertRevoked(subject string) *SignatureError {
	return NewSignatureError(ErrCodeCertRevoked, "certificate", fmt.Sprintf("certificate revoked: %s", subject), nil)
}

// ErrChainInvalid returns error when certificate chain is invalid
func ErrChainInvalid(cause error) *SignatureError {
	return NewSignatureError(ErrCodeChainInvalid, "chain", "certificate chain validation failed", cause)
}

// ErrOCSPUnavailable returns error when OCSP check fails
func ErrOCSPUnavailable(cause error) *SignatureError {
	return NewSignatureError(ErrCodeOCSPUnavailable, "ocsp", "OCSP check unavailable", cause)
}
