package store

import (
	"context"
	"sync"

	"github.com/rezonia/invoice-compliance/internal/model"
	"github.com/rezonia/invoice-compliance/internal/record"
)

// Memory is an in-process Store. Values are copied on the way in and out.
type Memory struct {
	mu       sync.RWMutex
	invoices map[string]*model.Invoice
	settings map[string]*model.TenantSettings
	chains   map[string][]record.ChainEntry
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		invoices: make(map[string]*model.Invoice),
		settings: make(map[string]*model.TenantSettings),
		chains:   make(map[string][]record.ChainEntry),
	}
}

func invoiceKey(tenantID, invoiceID string) string {
	return tenantID + "/" + invoiceID
}

func (m *Memory) GetInvoice(_ context.Context, tenantID, invoiceID string) (*model.Invoice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inv, ok := m.invoices[invoiceKey(tenantID, invoiceID)]
	if !ok {
		return nil, model.ErrNotFound
	}
	return inv.Clone(), nil
}

func (m *Memory) SaveInvoice(_ context.Context, inv *model.Invoice) error {
	if inv == nil || inv.ID == "" || inv.TenantID == "" {
		return model.NewValidationError("invoice", nil, "required", "invoice with tenant and id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.invoices[invoiceKey(inv.TenantID, inv.ID)] = inv.Clone()
	return nil
}

func (m *Memory) SaveCompliance(_ context.Context, tenantID, invoiceID string, state model.ComplianceState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invoices[invoiceKey(tenantID, invoiceID)]
	if !ok {
		return model.ErrNotFound
	}
	inv.Compliance = state
	m.invoices[invoiceKey(tenantID, invoiceID)] = inv.Clone()
	return nil
}

func (m *Memory) SaveCancellation(_ context.Context, tenantID, invoiceID string, state model.CancellationState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	inv, ok := m.invoices[invoiceKey(tenantID, invoiceID)]
	if !ok {
		return model.ErrNotFound
	}
	inv.Cancellation = &state
	m.invoices[invoiceKey(tenantID, invoiceID)] = inv.Clone()
	return nil
}

func (m *Memory) CommitRecord(_ context.Context, req CommitRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := invoiceKey(req.TenantID, req.InvoiceID)
	inv, ok := m.invoices[key]
	if !ok {
		return model.ErrNotFound
	}
	settings, ok := m.settings[req.TenantID]
	if !ok {
		return model.ErrNotFound
	}
	if settings.ChainHash != req.Record.Previous.Hash {
		return model.ErrChainConflict
	}

	chain := m.chains[req.TenantID]
	entry := req.Record.Entry()
	entry.Seq = int64(len(chain) + 1)
	m.chains[req.TenantID] = append(chain, entry)

	settings.ChainHash = req.Record.Hash
	settings.ChainRecordID = req.Record.ID

	updated := inv.Clone()
	if req.Compliance != nil {
		updated.Compliance = *req.Compliance
	} else {
		cancel := *req.Cancellation
		updated.Cancellation = &cancel
	}
	m.invoices[key] = updated.Clone()
	return nil
}

func (m *Memory) GetSettings(_ context.Context, tenantID string) (*model.TenantSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.settings[tenantID]
	if !ok {
		return nil, model.ErrNotFound
	}
	return s.Clone(), nil
}

// SaveSettings stores tenant settings. The chain head is owned by
// CommitRecord and is preserved when settings already exist.
func (m *Memory) SaveSettings(_ context.Context, settings *model.TenantSettings) error {
	if settings == nil || settings.TenantID == "" {
		return model.NewValidationError("tenant_id", nil, "required", "tenant id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	next := settings.Clone()
	if existing, ok := m.settings[settings.TenantID]; ok {
		next.ChainHash = existing.ChainHash
		next.ChainRecordID = existing.ChainRecordID
	}
	m.settings[settings.TenantID] = next
	return nil
}

func (m *Memory) ListChain(_ context.Context, tenantID string) ([]record.ChainEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	chain := m.chains[tenantID]
	out := make([]record.ChainEntry, len(chain))
	copy(out, chain)
	return out, nil
}
