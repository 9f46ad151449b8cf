package invoicelib

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/rezonia/invoice-compliance/internal/record"
	"github.com/rezonia/invoice-compliance/internal/signature/xades"
)

// SignedRecord is a built record together with its signed XML document
type SignedRecord struct {
	Record   *Record
	Hash     string
	Document []byte
}

// Link returns the chain link the next record must reference
func (s *SignedRecord) Link() ChainLink {
	return s.Record.Link()
}

// Entry returns the record in the form VerifyChain consumes
func (s *SignedRecord) Entry() ChainEntry {
	return s.Record.Entry()
}

// Processor builds records and signs their documents
type Processor struct {
	builder *record.Builder
	signer  Signer
	clock   clockwork.Clock
}

// Option configures a Processor
type Option func(*processorOptions)

type processorOptions struct {
	location *time.Location
	clock    clockwork.Clock
}

// WithLocation sets the time zone generation timestamps are rendered in
func WithLocation(loc *time.Location) Option {
	return func(o *processorOptions) {
		o.location = loc
	}
}

// WithClock overrides the source of generation timestamps
func WithClock(c clockwork.Clock) Option {
	return func(o *processorOptions) {
		o.clock = c
	}
}

// NewProcessor creates a processor signing with signer
func NewProcessor(signer Signer, opts ...Option) *Processor {
	o := processorOptions{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	return &Processor{
		builder: record.NewBuilder(record.WithLocation(o.location)),
		signer:  signer,
		clock:   o.clock,
	}
}

// NewProcessorFromBundle creates a processor signing with the PKCS#12
// bundle at path
func NewProcessorFromBundle(path, password string, opts ...Option) (*Processor, error) {
	o := processorOptions{clock: clockwork.NewRealClock()}
	for _, opt := range opts {
		opt(&o)
	}
	signer, err := xades.NewSignerFromFile(path, password, xades.WithClock(o.clock))
	if err != nil {
		return nil, err
	}
	return NewProcessor(signer, opts...), nil
}

// Register builds and signs the registration record for inv, linked to
// previous. Pass the zero ChainLink for the first record of a chain.
func (p *Processor) Register(ctx context.Context, issuer Issuer, inv *Invoice, previous ChainLink) (*SignedRecord, error) {
	built, err := p.builder.BuildRegistration(record.Input{
		Invoice:     inv,
		Issuer:      issuer,
		Previous:    previous,
		GeneratedAt: p.clock.Now(),
	})
	if err != nil {
		return nil, err
	}
	return p.sign(ctx, built)
}

// Cancel builds and signs a cancellation record for inv. The invoice must
// carry the committed registration in its compliance state.
func (p *Processor) Cancel(ctx context.Context, issuer Issuer, inv *Invoice, reason string, previous ChainLink) (*SignedRecord, error) {
	built, err := p.builder.BuildCancellation(record.CancellationInput{
		Input: record.Input{
			Invoice:     inv,
			Issuer:      issuer,
			Previous:    previous,
			GeneratedAt: p.clock.Now(),
		},
		Reason: reason,
	})
	if err != nil {
		return nil, err
	}
	return p.sign(ctx, built)
}

// ProcessBatch registers invoices in order, each record linked to the one
// before it. It stops at the first failure and returns the records signed
// so far.
func (p *Processor) ProcessBatch(ctx context.Context, issuer Issuer, invoices []*Invoice, previous ChainLink) ([]*SignedRecord, error) {
	results := make([]*SignedRecord, 0, len(invoices))
	for i, inv := range invoices {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		signed, err := p.Register(ctx, issuer, inv, previous)
		if err != nil {
			return results, fmt.Errorf("invoice %d: %w", i, err)
		}
		results = append(results, signed)
		previous = signed.Link()
	}
	return results, nil
}

func (p *Processor) sign(ctx context.Context, built *record.Result) (*SignedRecord, error) {
	doc, err := p.signer.Sign(ctx, built.Document)
	if err != nil {
		return nil, err
	}
	return &SignedRecord{Record: built.Record, Hash: built.Hash, Document: doc}, nil
}
