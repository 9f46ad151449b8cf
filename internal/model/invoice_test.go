package model_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/invoice-compliance/internal/model"
)

func newInvoice() *model.Invoice {
	return &model.Invoice{
		ID:        "inv-1",
		TenantID:  "tenant-1",
		Series:    "A",
		Number:    "0001",
		IssueDate: time.Date(2026, 1, 18, 0, 0, 0, 0, time.UTC),
		Type:      model.InvoiceTypeFull,
		Currency:  "EUR",
		Base:      decimal.RequireFromString("826.45"),
		Tax:       decimal.RequireFromString("173.55"),
		Total:     decimal.RequireFromString("1000.00"),
		Counterparty: model.Party{
			Name:    "XYZ Corp",
			TaxID:   "B12345678",
			Country: "ES",
		},
	}
}

func TestInvoice_FullNumber(t *testing.T) {
	inv := newInvoice()
	assert.Equal(t, "A-0001", inv.FullNumber())

	inv.Series = ""
	assert.Equal(t, "0001", inv.FullNumber())
}

func TestInvoice_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(inv *model.Invoice)
		field  string
	}{
		{name: "valid", mutate: func(inv *model.Invoice) {}},
		{name: "missing number", mutate: func(inv *model.Invoice) { inv.Number = "" }, field: "number"},
		{name: "ampersand in number", mutate: func(inv *model.Invoice) { inv.Number = "0001&Huella=X" }, field: "number"},
		{name: "equals in series", mutate: func(inv *model.Invoice) { inv.Series = "A=B" }, field: "series"},
		{name: "dash and slash allowed", mutate: func(inv *model.Invoice) { inv.Series = "2026/A-1" }},
		{name: "missing date", mutate: func(inv *model.Invoice) { inv.IssueDate = time.Time{} }, field: "issue_date"},
		{name: "unknown type", mutate: func(inv *model.Invoice) { inv.Type = "X9" }, field: "type"},
		{name: "negative total", mutate: func(inv *model.Invoice) { inv.Total = decimal.NewFromInt(-1) }, field: "total"},
		{name: "sum mismatch", mutate: func(inv *model.Invoice) { inv.Tax = decimal.NewFromInt(10) }, field: "total"},
		{name: "one cent rounding tolerated", mutate: func(inv *model.Invoice) { inv.Tax = decimal.RequireFromString("173.54") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := newInvoice()
			tt.mutate(inv)

			err := inv.Validate()
			if tt.field == "" {
				require.NoError(t, err)
				return
			}

			var ve *model.ValidationError
			require.True(t, errors.As(err, &ve), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, ve.Field)
		})
	}
}

func TestInvoice_CloneIsDeep(t *testing.T) {
	inv := newInvoice()
	now := time.Now()
	inv.Compliance.SubmittedAt = &now
	inv.Cancellation = &model.CancellationState{Reason: "duplicate"}

	c := inv.Clone()
	c.Cancellation.Reason = "changed"
	*c.Compliance.SubmittedAt = now.Add(time.Hour)

	assert.Equal(t, "duplicate", inv.Cancellation.Reason)
	assert.True(t, inv.Compliance.SubmittedAt.Equal(now))
}

func TestInvoice_HasRecord(t *testing.T) {
	inv := newInvoice()
	assert.False(t, inv.HasRecord())
	assert.False(t, inv.IsCancelled())

	inv.Compliance.RecordID = "rec"
	inv.Compliance.Hash = "ABC"
	assert.True(t, inv.HasRecord())

	inv.Cancellation = &model.CancellationState{Hash: "DEF"}
	assert.True(t, inv.IsCancelled())
}

func TestTenantSettings_Checks(t *testing.T) {
	s := &model.TenantSettings{TenantID: "t"}
	assert.True(t, model.IsConfigError(s.CheckSigning()))
	assert.True(t, model.IsConfigError(s.CheckSubmission()))

	s.CertificatePath = "/certs/t.p12"
	s.IssuerTaxID = "A00000000"
	s.AuthorityUsername = "user"
	s.EncryptedAuthorityPassword = "blob"
	s.Environment = model.EnvironmentSandbox
	assert.NoError(t, s.CheckSigning())
	assert.NoError(t, s.CheckSubmission())

	s.Environment = "staging"
	assert.True(t, model.IsConfigError(s.CheckSubmission()))
}
