package testutil

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rezonia/invoice-compliance/internal/model"
)

// Invoice returns a valid 1000.00 invoice snapshot for tenant
func Invoice(tenantID, number string) *model.Invoice {
	return &model.Invoice{
		ID:          "inv-" + number,
		TenantID:    tenantID,
		Series:      "A",
		Number:      number,
		IssueDate:   time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
		Type:        model.InvoiceTypeFull,
		Description: "Consulting services",
		Currency:    "EUR",
		Base:        decimal.RequireFromString("826.45"),
		Tax:         decimal.RequireFromString("173.55"),
		Total:       decimal.RequireFromString("1000.00"),
		Counterparty: model.Party{
			Name:    "XYZ Corp",
			TaxID:   "B12345678",
			Country: "ES",
		},
	}
}

// Settings returns enabled sandbox settings for tenant. Secrets are stored
// as given; pair them with secrets.Plaintext in tests.
func Settings(tenantID, certPath, certPassword string) *model.TenantSettings {
	return &model.TenantSettings{
		TenantID:                     tenantID,
		Enabled:                      true,
		Environment:                  model.EnvironmentSandbox,
		AutoSubmit:                   true,
		IssuerTaxID:                  "A00000000",
		IssuerName:                   "ABC Company",
		CertificatePath:              certPath,
		EncryptedCertificatePassword: certPassword,
		AuthorityUsername:            "filer",
		EncryptedAuthorityPassword:   "s3cret",
	}
}
