package record

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rezonia/invoice-compliance/internal/decimal"
	"github.com/rezonia/invoice-compliance/internal/model"
)

// recordNamespace scopes the deterministic record identifiers
var recordNamespace = uuid.MustParse("8f0c6a8e-2f4b-5a43-9a0e-6c1b2d7e4f10")

// Input is everything a registration record is derived from
type Input struct {
	Invoice     *model.Invoice
	Issuer      Issuer
	Previous    ChainLink
	GeneratedAt time.Time
}

// CancellationInput derives a cancellation record. The original record is
// read from the invoice's committed compliance fields.
type CancellationInput struct {
	Input
	Reason string
}

// Builder produces records and their hashes
type Builder struct {
	location *time.Location
}

// BuilderOption configures a Builder
type BuilderOption func(*Builder)

// WithLocation sets the time zone the generation timestamp is rendered in
func WithLocation(loc *time.Location) BuilderOption {
	return func(b *Builder) {
		if loc != nil {
			b.location = loc
		}
	}
}

// NewBuilder creates a record builder
func NewBuilder(opts ...BuilderOption) *Builder {
	b := &Builder{location: time.UTC}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// BuildRegistration builds the original issuance record for an invoice
func (b *Builder) BuildRegistration(in Input) (*Result, error) {
	if err := b.checkInput(in); err != nil {
		return nil, err
	}
	if err := in.Invoice.Validate(); err != nil {
		return nil, err
	}

	inv := in.Invoice
	invType := inv.Type
	if invType == "" {
		invType = model.InvoiceTypeFull
	}

	rec := &Record{
		Kind:         KindRegistration,
		TenantID:     inv.TenantID,
		Issuer:       in.Issuer,
		Series:       inv.Series,
		Number:       inv.Number,
		IssueDate:    inv.IssueDate,
		InvoiceType:  invType,
		Description:  inv.Description,
		Base:         decimal.Round2(inv.Base),
		Tax:          decimal.Round2(inv.Tax),
		Total:        decimal.Round2(inv.Total),
		Counterparty: inv.Counterparty,
		Previous:     in.Previous,
		GeneratedAt:  in.GeneratedAt.In(b.location).Truncate(time.Second),
	}
	rec.ID = recordID(rec)

	return b.finish(rec)
}

// BuildCancellation builds a cancellation record for an invoice whose
// registration record was committed. Totals are zero and the record
// references the original record's identifier.
func (b *Builder) BuildCancellation(in CancellationInput) (*Result, error) {
	if err := b.checkInput(in.Input); err != nil {
		return nil, err
	}

	inv := in.Invoice
	if !inv.HasRecord() {
		return nil, model.NewValidationError("compliance.record_id", nil, "required", "invoice has no committed record to cancel")
	}
	if inv.IsCancelled() {
		return nil, model.NewValidationError("cancellation", nil, "once", "invoice is already cancelled")
	}

	rec := &Record{
		Kind:        KindCancellation,
		TenantID:    inv.TenantID,
		Issuer:      in.Issuer,
		Series:      inv.Series,
		Number:      inv.Number,
		IssueDate:   inv.IssueDate,
		InvoiceType: inv.Type,
		Description: strings.TrimSpace(in.Reason),
		Base:        decimal.Zero,
		Tax:         decimal.Zero,
		Total:       decimal.Zero,
		Original: &Reference{
			RecordID:  inv.Compliance.RecordID,
			Series:    inv.Series,
			Number:    inv.Number,
			IssueDate: inv.IssueDate,
			Hash:      inv.Compliance.Hash,
		},
		Reason:      strings.TrimSpace(in.Reason),
		Previous:    in.Previous,
		GeneratedAt: in.GeneratedAt.In(b.location).Truncate(time.Second),
	}
	rec.ID = recordID(rec)

	return b.finish(rec)
}

func (b *Builder) checkInput(in Input) error {
	if in.Invoice == nil {
		return model.NewValidationError("invoice", nil, "required", "invoice snapshot is required")
	}
	if in.Issuer.TaxID == "" {
		return model.NewValidationError("issuer.tax_id", nil, "required", "issuer tax id is required")
	}
	if strings.ContainsAny(in.Issuer.TaxID, model.ReservedChars) {
		return model.NewValidationError("issuer.tax_id", in.Issuer.TaxID, "charset", "issuer tax id must not contain '&' or '='")
	}
	if in.GeneratedAt.IsZero() {
		return model.NewValidationError("generated_at", nil, "required", "generation timestamp is required")
	}
	return nil
}

func (b *Builder) finish(rec *Record) (*Result, error) {
	rec.Canonical = Serialize(rec)
	rec.Hash = HashOf(rec.Canonical)

	doc, err := RenderDocument(rec)
	if err != nil {
		return nil, err
	}

	return &Result{
		Record:   rec,
		Hash:     rec.Hash,
		Document: doc,
	}, nil
}

// recordID derives a stable identifier so replays of the same input yield
// the same record
func recordID(r *Record) string {
	key := strings.Join([]string{
		r.TenantID,
		string(r.Kind),
		r.Issuer.TaxID,
		r.Series,
		r.Number,
		formatDate(r.IssueDate),
	}, "|")
	return uuid.NewSHA1(recordNamespace, []byte(key)).String()
}
