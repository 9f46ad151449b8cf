// Package invoicelib provides a public API for producing and checking
// chain-linked, signed compliance records without running the service.
//
// Example usage:
//
//	proc, err := invoicelib.NewProcessorFromBundle("cert.p12", password)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	signed, err := proc.Register(ctx, issuer, invoice, invoicelib.ChainLink{})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(signed.Hash)
package invoicelib

import (
	"github.com/rezonia/invoice-compliance/internal/model"
	"github.com/rezonia/invoice-compliance/internal/record"
	"github.com/rezonia/invoice-compliance/internal/signature"
)

// Re-export core types for public API
type (
	Invoice     = model.Invoice
	Party       = model.Party
	InvoiceType = model.InvoiceType
	Status      = model.Status

	Record     = record.Record
	Issuer     = record.Issuer
	ChainLink  = record.ChainLink
	ChainEntry = record.ChainEntry
	Kind       = record.Kind

	Signer             = signature.Signer
	VerificationResult = signature.VerificationResult
	SignerInfo         = signature.SignerInfo
)

// Re-export invoice types
const (
	InvoiceTypeFull       = model.InvoiceTypeFull
	InvoiceTypeSimplified = model.InvoiceTypeSimplified
	InvoiceTypeCorrective = model.InvoiceTypeCorrective
)

// Re-export record kinds
const (
	KindRegistration = record.KindRegistration
	KindCancellation = record.KindCancellation
)

// Re-export error types
type (
	ValidationError = model.ValidationError
	SignatureError  = signature.SignatureError
	ChainError      = record.ChainError
)
