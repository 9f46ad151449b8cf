package compliance

import (
	"github.com/rezonia/invoice-compliance/internal/model"
	"github.com/rezonia/invoice-compliance/internal/record"
)

// Result describes what one run did to an invoice. Error holds the failure
// recorded on the invoice; it never means the job itself must be retried.
type Result struct {
	TenantID  string
	InvoiceID string
	Kind      record.Kind

	Status         model.Status
	RecordID       string
	Hash           string
	VerificationID string

	// Signed is true when a record was signed and committed in this run
	Signed bool
	// Submitted is true when the authority was contacted or the breaker
	// refused the call
	Submitted bool
	// CircuitOpen is true when delivery failed without reaching the authority
	CircuitOpen bool
	// Skipped is true when the run had nothing to do
	Skipped bool

	Error error
}

// ChainReport is the outcome of re-verifying a tenant chain
type ChainReport struct {
	TenantID   string `json:"tenant_id"`
	Records    int    `json:"records"`
	Head       string `json:"head"`
	StoredHead string `json:"stored_head"`
	Valid      bool   `json:"valid"`
	Error      string `json:"error,omitempty"`
}
