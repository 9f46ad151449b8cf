// Package compliance runs invoices through the compliance pipeline: build
// the chain-linked record, sign it, commit it together with the advanced
// chain head, and deliver it to the tax authority.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/rezonia/invoice-compliance/internal/authority"
	"github.com/rezonia/invoice-compliance/internal/events"
	"github.com/rezonia/invoice-compliance/internal/metrics"
	"github.com/rezonia/invoice-compliance/internal/model"
	"github.com/rezonia/invoice-compliance/internal/queue"
	"github.com/rezonia/invoice-compliance/internal/record"
	"github.com/rezonia/invoice-compliance/internal/resilience"
	"github.com/rezonia/invoice-compliance/internal/secrets"
	"github.com/rezonia/invoice-compliance/internal/signature"
	"github.com/rezonia/invoice-compliance/internal/store"
)

// ErrNoQueue is returned by Enqueue when the service has no queue
var ErrNoQueue = errors.New("compliance: no queue configured")

// Service is the orchestrator. It is safe for concurrent use; runs of the
// same tenant are serialized.
type Service struct {
	store     store.Store
	submitter authority.Submitter
	decrypter secrets.Decrypter
	signers   SignerProvider
	builder   *record.Builder
	queue     queue.Queue
	sink      events.Sink
	metrics   *metrics.Metrics
	clock     clockwork.Clock
	logger    zerolog.Logger

	breakerCfg resilience.BreakerConfig
	retryCfg   resilience.RetryConfig
	retrier    *resilience.Retrier
	breakers   map[model.Environment]*resilience.Breaker

	locks *tenantLocks
}

// Option configures the Service
type Option func(*Service)

// WithDecrypter sets the secret decrypter; the default passes secrets through
func WithDecrypter(d secrets.Decrypter) Option {
	return func(s *Service) {
		s.decrypter = d
	}
}

// WithSigners sets the signer provider
func WithSigners(p SignerProvider) Option {
	return func(s *Service) {
		s.signers = p
	}
}

// WithBuilder sets the record builder
func WithBuilder(b *record.Builder) Option {
	return func(s *Service) {
		s.builder = b
	}
}

// WithQueue enables Enqueue and EnqueueCancel
func WithQueue(q queue.Queue) Option {
	return func(s *Service) {
		s.queue = q
	}
}

// WithEventSink sets where pipeline events go
func WithEventSink(sink events.Sink) Option {
	return func(s *Service) {
		s.sink = sink
	}
}

// WithMetrics records statuses and breaker transitions
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithClock sets the clock used for timestamps and breaker cooldowns
func WithClock(c clockwork.Clock) Option {
	return func(s *Service) {
		s.clock = c
	}
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithBreakerConfig sets the thresholds of the authority breakers
func WithBreakerConfig(cfg resilience.BreakerConfig) Option {
	return func(s *Service) {
		s.breakerCfg = cfg
	}
}

// WithRetryConfig sets the submission retry schedule
func WithRetryConfig(cfg resilience.RetryConfig) Option {
	return func(s *Service) {
		s.retryCfg = cfg
	}
}

// WithRetrier replaces the submission retrier
func WithRetrier(r *resilience.Retrier) Option {
	return func(s *Service) {
		s.retrier = r
	}
}

// New creates the orchestrator
func New(st store.Store, submitter authority.Submitter, opts ...Option) *Service {
	s := &Service{
		store:      st,
		submitter:  submitter,
		decrypter:  secrets.Plaintext{},
		builder:    record.NewBuilder(),
		sink:       events.Nop{},
		clock:      clockwork.NewRealClock(),
		logger:     zerolog.Nop(),
		breakerCfg: resilience.DefaultBreakerConfig(),
		retryCfg:   resilience.DefaultRetryConfig(),
		locks:      newTenantLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.signers == nil {
		s.signers = NewFileSigners()
	}
	if s.retrier == nil {
		s.retrier = resilience.NewRetrier(s.retryCfg,
			resilience.WithRetryLogger(s.logger),
			resilience.WithClassifier(authority.IsRetryable),
		)
	}

	s.breakers = make(map[model.Environment]*resilience.Breaker, 2)
	for _, env := range []model.Environment{model.EnvironmentSandbox, model.EnvironmentProduction} {
		b := resilience.NewBreaker(s.breakerCfg,
			resilience.WithBreakerName("authority-"+string(env)),
			resilience.WithBreakerClock(s.clock),
			resilience.WithBreakerLogger(s.logger),
			resilience.WithFailurePredicate(authority.IsOutage),
			resilience.OnStateChange(s.circuitChanged),
		)
		s.breakers[env] = b
		if s.metrics != nil {
			s.metrics.SetCircuit(b.Snapshot().Name, b.State())
		}
	}
	return s
}

// Circuits returns a snapshot of every authority breaker, sorted by name
func (s *Service) Circuits() []resilience.Snapshot {
	out := make([]resilience.Snapshot, 0, len(s.breakers))
	for _, b := range s.breakers {
		out = append(out, b.Snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Breaker returns the breaker guarding env
func (s *Service) Breaker(env model.Environment) *resilience.Breaker {
	if env == "" {
		env = model.EnvironmentSandbox
	}
	return s.breakers[env]
}

// Enqueue schedules a compliance run for an invoice
func (s *Service) Enqueue(ctx context.Context, tenantID, invoiceID string) (queue.Job, error) {
	if s.queue == nil {
		return queue.Job{}, ErrNoQueue
	}
	return s.queue.Enqueue(ctx, queue.Job{TenantID: tenantID, InvoiceID: invoiceID, Kind: queue.KindProcess})
}

// EnqueueCancel schedules a cancellation run for an invoice
func (s *Service) EnqueueCancel(ctx context.Context, tenantID, invoiceID, reason string) (queue.Job, error) {
	if s.queue == nil {
		return queue.Job{}, ErrNoQueue
	}
	return s.queue.Enqueue(ctx, queue.Job{TenantID: tenantID, InvoiceID: invoiceID, Kind: queue.KindCancel, Reason: reason})
}

// Invoice returns the persisted invoice with its compliance fields
func (s *Service) Invoice(ctx context.Context, tenantID, invoiceID string) (*model.Invoice, error) {
	return s.store.GetInvoice(ctx, tenantID, invoiceID)
}

// Handler adapts the service to the queue. Only infrastructure failures
// are returned, so only they are retried by the queue.
func (s *Service) Handler() queue.Handler {
	return func(ctx context.Context, job queue.Job) error {
		var err error
		switch job.Kind {
		case queue.KindCancel:
			_, err = s.Cancel(ctx, job.TenantID, job.InvoiceID, job.Reason)
		default:
			_, err = s.Process(ctx, job.TenantID, job.InvoiceID)
		}
		return err
	}
}

// JobFinished publishes retry and terminal queue failures as events
func (s *Service) JobFinished(job queue.Job, outcome queue.Outcome, err error) {
	var t events.Type
	switch outcome {
	case queue.OutcomeRetrying:
		t = events.JobRetried
	case queue.OutcomeFailed:
		t = events.JobFailed
	default:
		return
	}
	e := events.Event{
		Type:      t,
		TenantID:  job.TenantID,
		InvoiceID: job.InvoiceID,
		JobID:     job.ID,
		Attempt:   job.Attempts,
		At:        s.clock.Now(),
		Payload:   map[string]interface{}{"kind": string(job.Kind)},
	}
	if err != nil {
		e.Error = err.Error()
	}
	s.sink.Emit(context.Background(), e)
}

var _ queue.Observer = (*Service)(nil)

// VerifyChain recomputes a tenant's chain and compares its head with the
// head stored on the tenant settings
func (s *Service) VerifyChain(ctx context.Context, tenantID string) (*ChainReport, error) {
	settings, err := s.store.GetSettings(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	entries, err := s.store.ListChain(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	report := &ChainReport{
		TenantID:   tenantID,
		Records:    len(entries),
		StoredHead: settings.ChainHash,
	}
	head, err := record.VerifyChain(entries)
	if err != nil {
		report.Error = err.Error()
		return report, nil
	}
	report.Head = head
	if head != settings.ChainHash {
		report.Error = fmt.Sprintf("stored chain head %q does not match computed head %q", settings.ChainHash, head)
		return report, nil
	}
	report.Valid = true
	return report, nil
}

func (s *Service) circuitChanged(name string, from, to resilience.State) {
	s.logger.Warn().
		Str("breaker", name).
		Str("from", from.String()).
		Str("state", to.String()).
		Msg("circuit state changed")
	if s.metrics != nil {
		s.metrics.CircuitChanged(name, from, to)
	}
	s.sink.Emit(context.Background(), events.Event{
		Type:    events.CircuitStateChanged,
		Status:  to.String(),
		At:      s.clock.Now(),
		Payload: map[string]interface{}{"breaker": name, "from": from.String()},
	})
}

func (s *Service) emit(ctx context.Context, t events.Type, res *Result) {
	e := events.Event{
		Type:      t,
		TenantID:  res.TenantID,
		InvoiceID: res.InvoiceID,
		RecordID:  res.RecordID,
		Status:    string(res.Status),
		At:        s.clock.Now(),
		Payload:   map[string]interface{}{"record_kind": string(res.Kind)},
	}
	if res.Error != nil {
		e.Error = res.Error.Error()
	}
	s.sink.Emit(ctx, e)
}

// finish emits the closing event and logs the run
func (s *Service) finish(ctx context.Context, res *Result) {
	log := s.logger.With().
		Str("tenant_id", res.TenantID).
		Str("invoice_id", res.InvoiceID).
		Str("record_kind", string(res.Kind)).
		Str("status", string(res.Status)).
		Logger()

	switch {
	case res.Error != nil:
		log.Error().Err(res.Error).Bool("circuit_open", res.CircuitOpen).Msg("compliance run failed")
		s.emit(ctx, events.JobFailed, res)
	case res.Skipped:
		log.Info().Msg("compliance run skipped")
		s.emit(ctx, events.JobSucceeded, res)
	default:
		log.Info().Str("record_id", res.RecordID).Msg("compliance run finished")
		s.emit(ctx, events.JobSucceeded, res)
	}
}

func (s *Service) statusPersisted(kind record.Kind, status model.Status) {
	if s.metrics != nil {
		s.metrics.StatusPersisted(string(kind), string(status))
	}
}

// load reads the settings and invoice of a run. A nil invoice with a nil
// error means the run was skipped and res says why.
func (s *Service) load(ctx context.Context, res *Result) (*model.TenantSettings, *model.Invoice, error) {
	settings, err := s.store.GetSettings(ctx, res.TenantID)
	if errors.Is(err, model.ErrNotFound) {
		res.Skipped = true
		res.Error = model.NewConfigError("settings", "tenant has no compliance settings", nil)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load tenant settings: %w", err)
	}
	if !settings.Enabled {
		res.Skipped = true
		return nil, nil, nil
	}

	inv, err := s.store.GetInvoice(ctx, res.TenantID, res.InvoiceID)
	if errors.Is(err, model.ErrNotFound) {
		res.Skipped = true
		res.Error = fmt.Errorf("invoice %s: %w", res.InvoiceID, model.ErrNotFound)
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("load invoice: %w", err)
	}
	return settings, inv, nil
}

// signerFor resolves certificate password and signer for a tenant
func (s *Service) signerFor(ctx context.Context, settings *model.TenantSettings) (signature.Signer, error) {
	if err := settings.CheckSigning(); err != nil {
		return nil, err
	}
	password, err := s.decrypter.Decrypt(ctx, settings.EncryptedCertificatePassword)
	if err != nil {
		return nil, model.NewConfigError("certificate_password", "cannot decrypt certificate password", err)
	}
	return s.signers.SignerFor(ctx, settings, password)
}

func issuerOf(settings *model.TenantSettings) record.Issuer {
	return record.Issuer{TaxID: settings.IssuerTaxID, Name: settings.IssuerName}
}

func chainHead(settings *model.TenantSettings) record.ChainLink {
	return record.ChainLink{RecordID: settings.ChainRecordID, Hash: settings.ChainHash}
}
