// Package store persists invoices, tenant settings and the per-tenant
// record chain.
package store

import (
	"context"
	"errors"

	"github.com/rezonia/invoice-compliance/internal/model"
	"github.com/rezonia/invoice-compliance/internal/record"
)

// CommitRequest is the atomic unit written when a record is built and signed.
// Exactly one of Compliance or Cancellation is set.
type CommitRequest struct {
	TenantID     string
	InvoiceID    string
	Record       *record.Record
	Compliance   *model.ComplianceState
	Cancellation *model.CancellationState
}

// Validate checks the request shape before any write happens
func (r CommitRequest) Validate() error {
	if r.TenantID == "" || r.InvoiceID == "" {
		return errors.New("tenant and invoice ids are required")
	}
	if r.Record == nil || r.Record.Hash == "" {
		return errors.New("record with hash is required")
	}
	if (r.Compliance == nil) == (r.Cancellation == nil) {
		return errors.New("exactly one of compliance or cancellation must be set")
	}
	return nil
}

// Store is the persistence boundary of the compliance pipeline
type Store interface {
	GetInvoice(ctx context.Context, tenantID, invoiceID string) (*model.Invoice, error)
	SaveInvoice(ctx context.Context, inv *model.Invoice) error

	// SaveCompliance overwrites the primary compliance fields of an invoice
	SaveCompliance(ctx context.Context, tenantID, invoiceID string, state model.ComplianceState) error
	// SaveCancellation overwrites the cancellation sub-record of an invoice
	SaveCancellation(ctx context.Context, tenantID, invoiceID string, state model.CancellationState) error

	// CommitRecord appends the record to the tenant chain, advances the
	// tenant chain head and writes the invoice state in one transaction.
	// It fails with model.ErrChainConflict when the head is no longer the
	// record's previous hash.
	CommitRecord(ctx context.Context, req CommitRequest) error

	GetSettings(ctx context.Context, tenantID string) (*model.TenantSettings, error)
	SaveSettings(ctx context.Context, settings *model.TenantSettings) error

	// ListChain returns the tenant chain in commit order
	ListChain(ctx context.Context, tenantID string) ([]record.ChainEntry, error)
}
