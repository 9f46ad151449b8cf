package gormstore

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/rezonia/invoice-compliance/internal/model"
	"github.com/rezonia/invoice-compliance/internal/record"
)

type InvoiceModel struct {
	TenantID            string          `gorm:"primaryKey"`
	ID                  string          `gorm:"primaryKey"`
	Series              string          `gorm:"not null;default:''"`
	Number              string          `gorm:"not null"`
	IssueDate           time.Time       `gorm:"type:date;not null"`
	Type                string          `gorm:"not null"`
	Description         string
	Currency            string          `gorm:"not null"`
	Base                decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	Tax                 decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	Total               decimal.Decimal `gorm:"type:numeric(18,2);not null"`
	CounterpartyName    string
	CounterpartyTaxID   string
	CounterpartyCountry string

	Compliance   model.ComplianceState    `gorm:"type:jsonb;serializer:json;not null"`
	Cancellation *model.CancellationState `gorm:"type:jsonb;serializer:json"`

	UpdatedAt time.Time `gorm:"not null"`
}

func (InvoiceModel) TableName() string { return "invoices" }

type TenantSettingsModel struct {
	TenantID    string `gorm:"primaryKey"`
	Enabled     bool   `gorm:"not null"`
	Environment string `gorm:"not null"`
	AutoSubmit  bool   `gorm:"not null"`

	IssuerTaxID string `gorm:"not null"`
	IssuerName  string

	CertificatePath              string
	EncryptedCertificatePassword string
	AuthorityUsername            string
	EncryptedAuthorityPassword   string

	ChainHash     string `gorm:"not null;default:''"`
	ChainRecordID string `gorm:"not null;default:''"`

	UpdatedAt time.Time `gorm:"not null"`
}

func (TenantSettingsModel) TableName() string { return "tenant_settings" }

// ComplianceRecordModel is the append-only chain table
type ComplianceRecordModel struct {
	ID           int64     `gorm:"primaryKey"`
	TenantID     string    `gorm:"uniqueIndex:idx_chain_seq;uniqueIndex:idx_chain_prev;not null"`
	Seq          int64     `gorm:"uniqueIndex:idx_chain_seq;not null"`
	RecordID     string    `gorm:"index;not null"`
	InvoiceID    string    `gorm:"index;not null"`
	Kind         string    `gorm:"not null"`
	Canonical    string    `gorm:"type:text;not null"`
	Hash         string    `gorm:"not null"`
	PreviousHash string    `gorm:"uniqueIndex:idx_chain_prev;not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (ComplianceRecordModel) TableName() string { return "compliance_records" }

func invoiceToModel(inv *model.Invoice) InvoiceModel {
	return InvoiceModel{
		TenantID:            inv.TenantID,
		ID:                  inv.ID,
		Series:              inv.Series,
		Number:              inv.Number,
		IssueDate:           inv.IssueDate,
		Type:                string(inv.Type),
		Description:         inv.Description,
		Currency:            inv.Currency,
		Base:                inv.Base,
		Tax:                 inv.Tax,
		Total:               inv.Total,
		CounterpartyName:    inv.Counterparty.Name,
		CounterpartyTaxID:   inv.Counterparty.TaxID,
		CounterpartyCountry: inv.Counterparty.Country,
		Compliance:          inv.Compliance,
		Cancellation:        inv.Cancellation,
	}
}

func (m InvoiceModel) toInvoice() *model.Invoice {
	inv := &model.Invoice{
		ID:          m.ID,
		TenantID:    m.TenantID,
		Series:      m.Series,
		Number:      m.Number,
		IssueDate:   m.IssueDate.UTC(),
		Type:        model.InvoiceType(m.Type),
		Description: m.Description,
		Currency:    m.Currency,
		Base:        m.Base,
		Tax:         m.Tax,
		Total:       m.Total,
		Counterparty: model.Party{
			Name:    m.CounterpartyName,
			TaxID:   m.CounterpartyTaxID,
			Country: m.CounterpartyCountry,
		},
		Compliance:   m.Compliance,
		Cancellation: m.Cancellation,
	}
	return inv.Clone()
}

func settingsToModel(s *model.TenantSettings) TenantSettingsModel {
	return TenantSettingsModel{
		TenantID:                     s.TenantID,
		Enabled:                      s.Enabled,
		Environment:                  string(s.Environment),
		AutoSubmit:                   s.AutoSubmit,
		IssuerTaxID:                  s.IssuerTaxID,
		IssuerName:                   s.IssuerName,
		CertificatePath:              s.CertificatePath,
		EncryptedCertificatePassword: s.EncryptedCertificatePassword,
		AuthorityUsername:            s.AuthorityUsername,
		EncryptedAuthorityPassword:   s.EncryptedAuthorityPassword,
		ChainHash:                    s.ChainHash,
		ChainRecordID:                s.ChainRecordID,
	}
}

func (m TenantSettingsModel) toSettings() *model.TenantSettings {
	return &model.TenantSettings{
		TenantID:                     m.TenantID,
		Enabled:                      m.Enabled,
		Environment:                  model.Environment(m.Environment),
		AutoSubmit:                   m.AutoSubmit,
		IssuerTaxID:                  m.IssuerTaxID,
		IssuerName:                   m.IssuerName,
		CertificatePath:              m.CertificatePath,
		EncryptedCertificatePassword: m.EncryptedCertificatePassword,
		AuthorityUsername:            m.AuthorityUsername,
		EncryptedAuthorityPassword:   m.EncryptedAuthorityPassword,
		ChainHash:                    m.ChainHash,
		ChainRecordID:                m.ChainRecordID,
	}
}

func (m ComplianceRecordModel) toEntry() record.ChainEntry {
	return record.ChainEntry{
		Seq:          m.Seq,
		RecordID:     m.RecordID,
		Kind:         record.Kind(m.Kind),
		Canonical:    m.Canonical,
		Hash:         m.Hash,
		PreviousHash: m.PreviousHash,
	}
}
