package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/invoice-compliance/internal/model"
	"github.com/rezonia/invoice-compliance/internal/record"
	"github.com/rezonia/invoice-compliance/internal/store"
	"github.com/rezonia/invoice-compliance/internal/testutil"
)

var generatedAt = time.Date(2026, 3, 2, 9, 30, 15, 0, time.UTC)

func seed(t *testing.T, s *store.Memory, numbers ...string) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.SaveSettings(ctx, testutil.Settings("tenant-1", "/certs/t.p12", "pw")))
	for _, n := range numbers {
		require.NoError(t, s.SaveInvoice(ctx, testutil.Invoice("tenant-1", n)))
	}
}

func build(t *testing.T, number string, prev record.ChainLink) *record.Record {
	t.Helper()
	res, err := record.NewBuilder().BuildRegistration(record.Input{
		Invoice:     testutil.Invoice("tenant-1", number),
		Issuer:      record.Issuer{TaxID: "A00000000"},
		Previous:    prev,
		GeneratedAt: generatedAt,
	})
	require.NoError(t, err)
	return res.Record
}

func commit(rec *record.Record, invoiceID string) store.CommitRequest {
	return store.CommitRequest{
		TenantID:  "tenant-1",
		InvoiceID: invoiceID,
		Record:    rec,
		Compliance: &model.ComplianceState{
			Status:   model.StatusSigned,
			RecordID: rec.ID,
			Hash:     rec.Hash,
		},
	}
}

func TestMemory_CommitAdvancesChain(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seed(t, s, "0001", "0002")

	first := build(t, "0001", record.ChainLink{})
	require.NoError(t, s.CommitRecord(ctx, commit(first, "inv-0001")))

	second := build(t, "0002", first.Link())
	require.NoError(t, s.CommitRecord(ctx, commit(second, "inv-0002")))

	settings, err := s.GetSettings(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, second.Hash, settings.ChainHash)
	assert.Equal(t, second.ID, settings.ChainRecordID)

	chain, err := s.ListChain(ctx, "tenant-1")
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, int64(1), chain[0].Seq)
	assert.Equal(t, int64(2), chain[1].Seq)

	head, err := record.VerifyChain(chain)
	require.NoError(t, err)
	assert.Equal(t, second.Hash, head)

	inv, err := s.GetInvoice(ctx, "tenant-1", "inv-0002")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSigned, inv.Compliance.Status)
	assert.Equal(t, second.Hash, inv.Compliance.Hash)
}

func TestMemory_CommitRejectsStaleHead(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seed(t, s, "0001", "0002")

	first := build(t, "0001", record.ChainLink{})
	require.NoError(t, s.CommitRecord(ctx, commit(first, "inv-0001")))

	// built against the empty head, which has moved
	stale := build(t, "0002", record.ChainLink{})
	err := s.CommitRecord(ctx, commit(stale, "inv-0002"))
	assert.True(t, errors.Is(err, model.ErrChainConflict))

	chain, err := s.ListChain(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Len(t, chain, 1)

	inv, err := s.GetInvoice(ctx, "tenant-1", "inv-0002")
	require.NoError(t, err)
	assert.Empty(t, inv.Compliance.Status)
}

func TestMemory_CommitCancellationKeepsPrimaryState(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seed(t, s, "0001")

	reg := build(t, "0001", record.ChainLink{})
	require.NoError(t, s.CommitRecord(ctx, commit(reg, "inv-0001")))

	inv, err := s.GetInvoice(ctx, "tenant-1", "inv-0001")
	require.NoError(t, err)

	res, err := record.NewBuilder().BuildCancellation(record.CancellationInput{
		Input: record.Input{
			Invoice:     inv,
			Issuer:      record.Issuer{TaxID: "A00000000"},
			Previous:    reg.Link(),
			GeneratedAt: generatedAt.Add(time.Hour),
		},
		Reason: "duplicate",
	})
	require.NoError(t, err)

	require.NoError(t, s.CommitRecord(ctx, store.CommitRequest{
		TenantID:  "tenant-1",
		InvoiceID: "inv-0001",
		Record:    res.Record,
		Cancellation: &model.CancellationState{
			RecordID: res.Record.ID,
			Hash:     res.Hash,
			Status:   model.StatusSigned,
			Reason:   "duplicate",
		},
	}))

	inv, err = s.GetInvoice(ctx, "tenant-1", "inv-0001")
	require.NoError(t, err)
	assert.Equal(t, model.StatusSigned, inv.Compliance.Status)
	assert.Equal(t, reg.Hash, inv.Compliance.Hash)
	require.NotNil(t, inv.Cancellation)
	assert.Equal(t, res.Hash, inv.Cancellation.Hash)
}

func TestMemory_CommitValidation(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seed(t, s, "0001")
	rec := build(t, "0001", record.ChainLink{})

	both := commit(rec, "inv-0001")
	both.Cancellation = &model.CancellationState{}
	assert.Error(t, s.CommitRecord(ctx, both))

	assert.Error(t, s.CommitRecord(ctx, store.CommitRequest{TenantID: "tenant-1", InvoiceID: "inv-0001"}))

	missing := commit(rec, "inv-9999")
	assert.True(t, errors.Is(s.CommitRecord(ctx, missing), model.ErrNotFound))
}

func TestMemory_SaveSettingsPreservesChainHead(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seed(t, s, "0001")

	rec := build(t, "0001", record.ChainLink{})
	require.NoError(t, s.CommitRecord(ctx, commit(rec, "inv-0001")))

	update := testutil.Settings("tenant-1", "/certs/new.p12", "pw")
	require.NoError(t, s.SaveSettings(ctx, update))

	got, err := s.GetSettings(ctx, "tenant-1")
	require.NoError(t, err)
	assert.Equal(t, "/certs/new.p12", got.CertificatePath)
	assert.Equal(t, rec.Hash, got.ChainHash)
}

func TestMemory_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemory()
	seed(t, s, "0001")

	inv, err := s.GetInvoice(ctx, "tenant-1", "inv-0001")
	require.NoError(t, err)
	inv.Compliance.Status = model.StatusVerified

	again, err := s.GetInvoice(ctx, "tenant-1", "inv-0001")
	require.NoError(t, err)
	assert.Empty(t, again.Compliance.Status)

	_, err = s.GetInvoice(ctx, "tenant-1", "nope")
	assert.True(t, errors.Is(err, model.ErrNotFound))
	_, err = s.GetSettings(ctx, "nope")
	assert.True(t, errors.Is(err, model.ErrNotFound))
}
