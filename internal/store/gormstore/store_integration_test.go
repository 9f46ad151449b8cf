//go:build integration
// +build integration

package gormstore

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/rezonia/invoice-compliance/internal/model"
	"github.com/rezonia/invoice-compliance/internal/record"
	"github.com/rezonia/invoice-compliance/internal/store"
	"github.com/rezonia/invoice-compliance/internal/testutil"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := strings.TrimSpace(os.Getenv("COMPLIANCE_TEST_DSN"))
	if dsn == "" {
		t.Skip("COMPLIANCE_TEST_DSN not set")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	s := New(db)
	if err := s.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := db.Exec("TRUNCATE invoices, tenant_settings, compliance_records").Error; err != nil {
		t.Fatalf("truncate: %v", err)
	}
	return s
}

func buildRecord(t *testing.T, number string, prev record.ChainLink) *record.Record {
	t.Helper()
	res, err := record.NewBuilder().BuildRegistration(record.Input{
		Invoice:     testutil.Invoice("tenant-1", number),
		Issuer:      record.Issuer{TaxID: "A00000000"},
		Previous:    prev,
		GeneratedAt: time.Date(2026, 3, 2, 9, 30, 15, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return res.Record
}

func TestStore_CommitAndListChain(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	if err := s.SaveSettings(ctx, testutil.Settings("tenant-1", "/certs/t.p12", "pw")); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	for _, n := range []string{"0001", "0002"} {
		if err := s.SaveInvoice(ctx, testutil.Invoice("tenant-1", n)); err != nil {
			t.Fatalf("save invoice: %v", err)
		}
	}

	first := buildRecord(t, "0001", record.ChainLink{})
	if err := s.CommitRecord(ctx, store.CommitRequest{
		TenantID: "tenant-1", InvoiceID: "inv-0001", Record: first,
		Compliance: &model.ComplianceState{Status: model.StatusSigned, Hash: first.Hash, RecordID: first.ID},
	}); err != nil {
		t.Fatalf("commit first: %v", err)
	}

	stale := buildRecord(t, "0002", record.ChainLink{})
	err := s.CommitRecord(ctx, store.CommitRequest{
		TenantID: "tenant-1", InvoiceID: "inv-0002", Record: stale,
		Compliance: &model.ComplianceState{Status: model.StatusSigned},
	})
	if !errors.Is(err, model.ErrChainConflict) {
		t.Fatalf("expected chain conflict, got %v", err)
	}

	second := buildRecord(t, "0002", first.Link())
	if err := s.CommitRecord(ctx, store.CommitRequest{
		TenantID: "tenant-1", InvoiceID: "inv-0002", Record: second,
		Compliance: &model.ComplianceState{Status: model.StatusSigned, Hash: second.Hash, RecordID: second.ID},
	}); err != nil {
		t.Fatalf("commit second: %v", err)
	}

	chain, err := s.ListChain(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("list chain: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(chain))
	}
	head, err := record.VerifyChain(chain)
	if err != nil {
		t.Fatalf("verify chain: %v", err)
	}
	if head != second.Hash {
		t.Fatalf("expected head %s, got %s", second.Hash, head)
	}

	settings, err := s.GetSettings(ctx, "tenant-1")
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if settings.ChainHash != second.Hash {
		t.Fatalf("chain head not advanced")
	}

	inv, err := s.GetInvoice(ctx, "tenant-1", "inv-0002")
	if err != nil {
		t.Fatalf("get invoice: %v", err)
	}
	if inv.Compliance.Status != model.StatusSigned || !inv.Total.Equal(testutil.Invoice("t", "x").Total) {
		t.Fatalf("unexpected invoice state: %+v", inv.Compliance)
	}
}

func TestStore_NotFound(t *testing.T) {
	ctx := context.Background()
	s := setupTestStore(t)

	if _, err := s.GetInvoice(ctx, "tenant-1", "missing"); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := s.SaveCompliance(ctx, "tenant-1", "missing", model.ComplianceState{}); !errors.Is(err, model.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
