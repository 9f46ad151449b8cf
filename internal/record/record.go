// Package record builds chain-linked compliance records from invoice
// snapshots.
//
// Every record carries the hash of the record issued before it for the same
// tenant, so the sequence forms a tamper-evident chain:
//
//	hash(record_n) = SHA-256(serialize(record_n) ‖ hash(record_n-1))
//
// The builder is a pure function of its inputs. It performs no I/O and keeps
// no state; the caller owns the chain head and persists the advanced hash.
package record

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rezonia/invoice-compliance/internal/model"
)

// Kind distinguishes original issuance from cancellation records
type Kind string

const (
	KindRegistration Kind = "ALTA"
	KindCancellation Kind = "ANULACION"
)

// Issuer identifies the tenant issuing the invoice
type Issuer struct {
	TaxID string
	Name  string
}

// ChainLink points at the previous record of the tenant chain.
// The zero value marks the first record.
type ChainLink struct {
	RecordID string
	Hash     string
}

// IsFirst reports whether there is no previous record
func (l ChainLink) IsFirst() bool {
	return l.Hash == ""
}

// Reference identifies the original record a cancellation annuls
type Reference struct {
	RecordID  string
	Series    string
	Number    string
	IssueDate time.Time
	Hash      string
}

// Record is a single compliance transaction entry
type Record struct {
	ID       string
	Kind     Kind
	TenantID string
	Issuer   Issuer

	Series      string
	Number      string
	IssueDate   time.Time
	InvoiceType model.InvoiceType
	Description string

	Base  decimal.Decimal
	Tax   decimal.Decimal
	Total decimal.Decimal

	Counterparty model.Party

	// Original is set on cancellation records only
	Original *Reference
	// Reason is the cancellation reason, empty for registrations
	Reason string

	Previous    ChainLink
	GeneratedAt time.Time

	// Canonical is the exact string the hash was computed over
	Canonical string
	Hash      string
}

// FullNumber returns series and number as printed on the invoice
func (r *Record) FullNumber() string {
	if r.Series == "" {
		return r.Number
	}
	return r.Series + "-" + r.Number
}

// Link returns the chain link later records must reference
func (r *Record) Link() ChainLink {
	return ChainLink{RecordID: r.ID, Hash: r.Hash}
}

// Result is the builder output: the record, its hash and its XML document
type Result struct {
	Record   *Record
	Hash     string
	Document []byte
}
