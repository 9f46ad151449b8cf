package compliance_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/rezonia/invoice-compliance/internal/authority"
	"github.com/rezonia/invoice-compliance/internal/compliance"
	"github.com/rezonia/invoice-compliance/internal/events"
	"github.com/rezonia/invoice-compliance/internal/model"
	"github.com/rezonia/invoice-compliance/internal/resilience"
	"github.com/rezonia/invoice-compliance/internal/signature"
	"github.com/rezonia/invoice-compliance/internal/store"
	"github.com/rezonia/invoice-compliance/internal/testutil"
)

const tenant = "tenant-1"

// fakeSubmitter answers with respond; the default accepts everything
type fakeSubmitter struct {
	mu       sync.Mutex
	requests []authority.SubmitRequest
	respond  func(n int, req authority.SubmitRequest) (authority.Outcome, error)
}

func (f *fakeSubmitter) Submit(_ context.Context, req authority.SubmitRequest) (authority.Outcome, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	n := len(f.requests)
	respond := f.respond
	f.mu.Unlock()

	if respond == nil {
		return authority.Outcome{Status: authority.OutcomeVerified, ConfirmationCode: "CSV-" + req.RecordID}, nil
	}
	return respond(n, req)
}

func (f *fakeSubmitter) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeSubmitter) Requests() []authority.SubmitRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]authority.SubmitRequest(nil), f.requests...)
}

func timeout(int, authority.SubmitRequest) (authority.Outcome, error) {
	return authority.Outcome{}, &authority.TransportError{Op: "post", Err: context.DeadlineExceeded}
}

// statusStore records every status written for the primary record
type statusStore struct {
	*store.Memory

	mu       sync.Mutex
	statuses []model.Status
}

func (s *statusStore) SaveCompliance(ctx context.Context, tenantID, invoiceID string, state model.ComplianceState) error {
	s.mu.Lock()
	s.statuses = append(s.statuses, state.Status)
	s.mu.Unlock()
	return s.Memory.SaveCompliance(ctx, tenantID, invoiceID, state)
}

func (s *statusStore) CommitRecord(ctx context.Context, req store.CommitRequest) error {
	if err := s.Memory.CommitRecord(ctx, req); err != nil {
		return err
	}
	if req.Compliance != nil {
		s.mu.Lock()
		s.statuses = append(s.statuses, req.Compliance.Status)
		s.mu.Unlock()
	}
	return nil
}

func (s *statusStore) Statuses() []model.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Status(nil), s.statuses...)
}

// captureSink keeps every emitted event type
type captureSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (c *captureSink) Emit(_ context.Context, e events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *captureSink) Types() []events.Type {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]events.Type, 0, len(c.events))
	for _, e := range c.events {
		out = append(out, e.Type)
	}
	return out
}

// staticSigners hands out the same signer to every tenant
type staticSigners struct {
	signer signature.Signer
}

func (s staticSigners) SignerFor(context.Context, *model.TenantSettings, string) (signature.Signer, error) {
	return s.signer, nil
}

var errHSM = errors.New("signing device unavailable")

func failingSigner() compliance.SignerProvider {
	return staticSigners{signer: signature.SignerFunc(func(context.Context, []byte) ([]byte, error) {
		return nil, signature.ErrSigningFailed(errHSM)
	})}
}

type env struct {
	store     *statusStore
	submitter *fakeSubmitter
	sink      *captureSink
	clock     *clockwork.FakeClock
	bundle    string
}

func newEnv(t *testing.T, invoices ...string) *env {
	t.Helper()
	ctx := context.Background()

	ca := testutil.NewCA(t, "Test Issuing CA")
	signer := ca.Issue(t, "ABC Company")
	bundle := signer.WriteBundle(t, "bundle-pass", ca.Cert)

	e := &env{
		store:     &statusStore{Memory: store.NewMemory()},
		submitter: &fakeSubmitter{},
		sink:      &captureSink{},
		clock:     clockwork.NewFakeClockAt(time.Now().Truncate(time.Second)),
		bundle:    bundle,
	}
	require.NoError(t, e.store.SaveSettings(ctx, testutil.Settings(tenant, bundle, "bundle-pass")))
	for _, n := range invoices {
		require.NoError(t, e.store.SaveInvoice(ctx, testutil.Invoice(tenant, n)))
	}
	return e
}

func (e *env) service(opts ...compliance.Option) *compliance.Service {
	base := []compliance.Option{
		compliance.WithClock(e.clock),
		compliance.WithEventSink(e.sink),
		compliance.WithRetryConfig(resilience.RetryConfig{
			MaxRetries:   2,
			InitialDelay: time.Millisecond,
			Multiplier:   2,
			MaxDelay:     2 * time.Millisecond,
		}),
	}
	return compliance.New(e.store, e.submitter, append(base, opts...)...)
}

func (e *env) invoice(t *testing.T, id string) *model.Invoice {
	t.Helper()
	inv, err := e.store.GetInvoice(context.Background(), tenant, id)
	require.NoError(t, err)
	return inv
}

func (e *env) settings(t *testing.T) *model.TenantSettings {
	t.Helper()
	s, err := e.store.GetSettings(context.Background(), tenant)
	require.NoError(t, err)
	return s
}
