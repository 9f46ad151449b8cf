// Package gormstore is the Postgres implementation of store.Store.
package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/rezonia/invoice-compliance/internal/model"
	"github.com/rezonia/invoice-compliance/internal/record"
	"github.com/rezonia/invoice-compliance/internal/store"
)

const uniqueViolation = "23505"

type Store struct {
	db     *gorm.DB
	logger zerolog.Logger
	now    func() time.Time
}

var _ store.Store = (*Store)(nil)

// Option configures the Store
type Option func(*Store)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// Open connects to Postgres and migrates the schema
func Open(dsn string, opts ...Option) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is required")
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := New(gdb, opts...)
	if err := s.Migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

// New wraps an existing connection
func New(db *gorm.DB, opts ...Option) *Store {
	s := &Store{
		db:     db,
		logger: zerolog.Nop(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Migrate creates or updates the tables
func (s *Store) Migrate() error {
	if err := s.db.AutoMigrate(&InvoiceModel{}, &TenantSettingsModel{}, &ComplianceRecordModel{}); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Close releases the connection pool
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) GetInvoice(ctx context.Context, tenantID, invoiceID string) (*model.Invoice, error) {
	var m InvoiceModel
	err := s.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, invoiceID).
		First(&m).Error
	if err != nil {
		return nil, translate(err)
	}
	return m.toInvoice(), nil
}

func (s *Store) SaveInvoice(ctx context.Context, inv *model.Invoice) error {
	if inv == nil || inv.ID == "" || inv.TenantID == "" {
		return model.NewValidationError("invoice", nil, "required", "invoice with tenant and id is required")
	}
	m := invoiceToModel(inv)
	m.UpdatedAt = s.now()
	return translate(s.db.WithContext(ctx).Save(&m).Error)
}

func (s *Store) SaveCompliance(ctx context.Context, tenantID, invoiceID string, state model.ComplianceState) error {
	return s.updateInvoice(s.db.WithContext(ctx), tenantID, invoiceID, "compliance", InvoiceModel{Compliance: state})
}

func (s *Store) SaveCancellation(ctx context.Context, tenantID, invoiceID string, state model.CancellationState) error {
	return s.updateInvoice(s.db.WithContext(ctx), tenantID, invoiceID, "cancellation", InvoiceModel{Cancellation: &state})
}

// updateInvoice writes one JSON column; the model value routes it through
// the json serializer
func (s *Store) updateInvoice(db *gorm.DB, tenantID, invoiceID, column string, values InvoiceModel) error {
	values.UpdatedAt = s.now()
	res := db.Model(&InvoiceModel{}).
		Where("tenant_id = ? AND id = ?", tenantID, invoiceID).
		Select(column, "updated_at").
		Updates(&values)
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (s *Store) CommitRecord(ctx context.Context, req store.CommitRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	rec := req.Record

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&TenantSettingsModel{}).
			Where("tenant_id = ? AND chain_hash = ?", req.TenantID, rec.Previous.Hash).
			Updates(map[string]any{
				"chain_hash":      rec.Hash,
				"chain_record_id": rec.ID,
				"updated_at":      s.now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			var count int64
			if err := tx.Model(&TenantSettingsModel{}).Where("tenant_id = ?", req.TenantID).Count(&count).Error; err != nil {
				return err
			}
			if count == 0 {
				return model.ErrNotFound
			}
			return model.ErrChainConflict
		}

		var seq int64
		if err := tx.Model(&ComplianceRecordModel{}).
			Where("tenant_id = ?", req.TenantID).
			Select("COALESCE(MAX(seq), 0)").
			Scan(&seq).Error; err != nil {
			return err
		}

		row := ComplianceRecordModel{
			TenantID:     req.TenantID,
			Seq:          seq + 1,
			RecordID:     rec.ID,
			InvoiceID:    req.InvoiceID,
			Kind:         string(rec.Kind),
			Canonical:    rec.Canonical,
			Hash:         rec.Hash,
			PreviousHash: rec.Previous.Hash,
			CreatedAt:    s.now(),
		}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}

		if req.Compliance != nil {
			return s.updateInvoice(tx, req.TenantID, req.InvoiceID, "compliance", InvoiceModel{Compliance: *req.Compliance})
		}
		return s.updateInvoice(tx, req.TenantID, req.InvoiceID, "cancellation", InvoiceModel{Cancellation: req.Cancellation})
	})
	if err != nil {
		err = translate(err)
		s.logger.Warn().Err(err).
			Str("tenant_id", req.TenantID).
			Str("invoice_id", req.InvoiceID).
			Str("record_id", rec.ID).
			Msg("record commit rolled back")
		return err
	}
	return nil
}

func (s *Store) GetSettings(ctx context.Context, tenantID string) (*model.TenantSettings, error) {
	var m TenantSettingsModel
	if err := s.db.WithContext(ctx).Where("tenant_id = ?", tenantID).First(&m).Error; err != nil {
		return nil, translate(err)
	}
	return m.toSettings(), nil
}

// SaveSettings upserts tenant settings. The chain head columns are owned by
// CommitRecord and are never overwritten here.
func (s *Store) SaveSettings(ctx context.Context, settings *model.TenantSettings) error {
	if settings == nil || settings.TenantID == "" {
		return model.NewValidationError("tenant_id", nil, "required", "tenant id is required")
	}
	m := settingsToModel(settings)
	m.UpdatedAt = s.now()
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "tenant_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"enabled", "environment", "auto_submit", "issuer_tax_id", "issuer_name",
			"certificate_path", "encrypted_certificate_password",
			"authority_username", "encrypted_authority_password", "updated_at",
		}),
	}).Create(&m).Error
	return translate(err)
}

func (s *Store) ListChain(ctx context.Context, tenantID string) ([]record.ChainEntry, error) {
	var rows []ComplianceRecordModel
	if err := s.db.WithContext(ctx).
		Where("tenant_id = ?", tenantID).
		Order("seq ASC").
		Find(&rows).Error; err != nil {
		return nil, translate(err)
	}
	out := make([]record.ChainEntry, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toEntry())
	}
	return out, nil
}

// translate maps driver errors onto the store's sentinel errors
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return model.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", model.ErrChainConflict, pgErr.ConstraintName)
	}
	return err
}
