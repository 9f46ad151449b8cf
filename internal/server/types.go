package server

import (
	"time"

	"github.com/rezonia/invoice-compliance/internal/model"
	"github.com/rezonia/invoice-compliance/internal/queue"
	"github.com/rezonia/invoice-compliance/internal/resilience"
)

// JobResponse is the response for enqueue endpoints
type JobResponse struct {
	Job queue.Job `json:"job"`
}

// CancelRequest is the body of the cancel endpoint
type CancelRequest struct {
	Reason string `json:"reason"`
}

// ComplianceResponse is the persisted compliance state of an invoice
type ComplianceResponse struct {
	TenantID       string                `json:"tenant_id"`
	InvoiceID      string                `json:"invoice_id"`
	Number         string                `json:"number"`
	Status         model.Status          `json:"status,omitempty"`
	RecordID       string                `json:"record_id,omitempty"`
	Hash           string                `json:"hash,omitempty"`
	PreviousHash   string                `json:"previous_hash,omitempty"`
	VerificationID string                `json:"verification_id,omitempty"`
	ErrorMessage   string                `json:"error_message,omitempty"`
	SubmittedAt    *time.Time            `json:"submitted_at,omitempty"`
	SignedDocument string                `json:"signed_document,omitempty"`
	Cancellation   *CancellationResponse `json:"cancellation,omitempty"`
}

// CancellationResponse summarizes the cancellation sub-record
type CancellationResponse struct {
	Status         model.Status `json:"status"`
	RecordID       string       `json:"record_id,omitempty"`
	Hash           string       `json:"hash,omitempty"`
	Reason         string       `json:"reason,omitempty"`
	VerificationID string       `json:"verification_id,omitempty"`
	ErrorMessage   string       `json:"error_message,omitempty"`
	SubmittedAt    *time.Time   `json:"submitted_at,omitempty"`
}

// CircuitResponse lists the authority breakers
type CircuitResponse struct {
	Breakers []resilience.Snapshot `json:"breakers"`
}

// QueueResponse is the response for the queue endpoint
type QueueResponse struct {
	Size    int                  `json:"size"`
	History []queue.HistoryEntry `json:"history"`
}

// ErrorResponse is the standard error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func newComplianceResponse(inv *model.Invoice, withDocument bool) ComplianceResponse {
	c := inv.Compliance
	resp := ComplianceResponse{
		TenantID:       inv.TenantID,
		InvoiceID:      inv.ID,
		Number:         inv.FullNumber(),
		Status:         c.Status,
		RecordID:       c.RecordID,
		Hash:           c.Hash,
		PreviousHash:   c.PreviousHash,
		VerificationID: c.VerificationID,
		ErrorMessage:   c.ErrorMessage,
		SubmittedAt:    c.SubmittedAt,
	}
	if withDocument {
		resp.SignedDocument = c.SignedDocument
	}
	if cs := inv.Cancellation; cs != nil {
		resp.Cancellation = &CancellationResponse{
			Status:         cs.Status,
			RecordID:       cs.RecordID,
			Hash:           cs.Hash,
			Reason:         cs.Reason,
			VerificationID: cs.VerificationID,
			ErrorMessage:   cs.ErrorMessage,
			SubmittedAt:    cs.SubmittedAt,
		}
	}
	return resp
}
