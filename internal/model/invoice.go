package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	money "github.com/rezonia/invoice-compliance/internal/decimal"
)

// InvoiceType identifies the fiscal invoice category
type InvoiceType string

const (
	InvoiceTypeFull       InvoiceType = "F1" // Full invoice
	InvoiceTypeSimplified InvoiceType = "F2" // Simplified invoice (ticket)
	InvoiceTypeCorrective InvoiceType = "R1" // Corrective invoice
)

// ReservedChars may not appear in fields that enter the chained record hash
const ReservedChars = "&="

// Valid reports whether the type is one of the known categories
func (t InvoiceType) Valid() bool {
	switch t {
	case InvoiceTypeFull, InvoiceTypeSimplified, InvoiceTypeCorrective:
		return true
	}
	return false
}

// Party identifies the invoice counterparty
type Party struct {
	Name    string `json:"name"`
	TaxID   string `json:"tax_id,omitempty"`
	Country string `json:"country,omitempty"` // ISO 3166-1 alpha-2
}

// Invoice is the snapshot of an invoice the compliance pipeline works on.
// Only the fields the compliance record needs are carried here; the rest of
// the invoice lives with the invoicing application.
type Invoice struct {
	ID       string `json:"id"`
	TenantID string `json:"tenant_id"`

	Series    string      `json:"series"`
	Number    string      `json:"number"`
	IssueDate time.Time   `json:"issue_date"`
	Type      InvoiceType `json:"type"`

	Description string `json:"description,omitempty"`
	Currency    string `json:"currency"`

	Base  decimal.Decimal `json:"base"`
	Tax   decimal.Decimal `json:"tax"`
	Total decimal.Decimal `json:"total"`

	Counterparty Party `json:"counterparty"`

	Compliance   ComplianceState    `json:"compliance"`
	Cancellation *CancellationState `json:"cancellation,omitempty"`
}

// FullNumber returns series and number as printed on the invoice
func (inv *Invoice) FullNumber() string {
	if inv.Series == "" {
		return inv.Number
	}
	return inv.Series + "-" + inv.Number
}

// HasRecord reports whether a registration record was durably committed
func (inv *Invoice) HasRecord() bool {
	return inv.Compliance.RecordID != "" && inv.Compliance.Hash != ""
}

// IsCancelled reports whether a cancellation record was committed
func (inv *Invoice) IsCancelled() bool {
	return inv.Cancellation != nil && inv.Cancellation.Hash != ""
}

// Clone returns a deep copy of the invoice
func (inv *Invoice) Clone() *Invoice {
	if inv == nil {
		return nil
	}
	c := *inv
	c.Compliance = inv.Compliance.clone()
	if inv.Cancellation != nil {
		cancel := inv.Cancellation.clone()
		c.Cancellation = &cancel
	}
	return &c
}

// Validate checks the fields the record builder relies on
func (inv *Invoice) Validate() error {
	if inv.ID == "" {
		return NewValidationError("id", nil, "required", "invoice id is required")
	}
	if inv.TenantID == "" {
		return NewValidationError("tenant_id", nil, "required", "tenant id is required")
	}
	if inv.Number == "" {
		return NewValidationError("number", nil, "required", "invoice number is required")
	}
	// '&' and '=' delimit fields in the canonical record string
	if strings.ContainsAny(inv.Series, ReservedChars) {
		return NewValidationError("series", inv.Series, "charset", "series must not contain '&' or '='")
	}
	if strings.ContainsAny(inv.Number, ReservedChars) {
		return NewValidationError("number", inv.Number, "charset", "invoice number must not contain '&' or '='")
	}
	if inv.IssueDate.IsZero() {
		return NewValidationError("issue_date", nil, "required", "issue date is required")
	}
	if inv.Type != "" && !inv.Type.Valid() {
		return NewValidationError("type", inv.Type, "enum", "unknown invoice type")
	}
	if inv.Base.IsNegative() || inv.Tax.IsNegative() || inv.Total.IsNegative() {
		return NewValidationError("total", inv.Total.String(), "non_negative", "amounts must not be negative")
	}
	// Tolerate one cent of rounding between line-level and header-level totals
	if !money.EqualWithinCent(inv.Base.Add(inv.Tax), inv.Total) {
		return NewValidationError("total", inv.Total.String(), "sum", "base + tax does not match total")
	}
	return nil
}
