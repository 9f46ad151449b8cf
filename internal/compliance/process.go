package compliance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rezonia/invoice-compliance/internal/authority"
	"github.com/rezonia/invoice-compliance/internal/events"
	"github.com/rezonia/invoice-compliance/internal/model"
	"github.com/rezonia/invoice-compliance/internal/record"
	"github.com/rezonia/invoice-compliance/internal/resilience"
	"github.com/rezonia/invoice-compliance/internal/store"
)

// Process runs the registration flow for an invoice.
//
// The returned error is non-nil only for infrastructure failures that left
// the chain untouched (store unreachable, commit conflict, shutdown); every
// other failure is recorded on the invoice and reported in Result.Error.
func (s *Service) Process(ctx context.Context, tenantID, invoiceID string) (*Result, error) {
	unlock := s.locks.lock(tenantID)
	defer unlock()

	res := &Result{TenantID: tenantID, InvoiceID: invoiceID, Kind: record.KindRegistration}
	s.emit(ctx, events.JobStarted, res)

	settings, inv, err := s.load(ctx, res)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		s.finish(ctx, res)
		return res, nil
	}

	state := inv.Compliance
	now := s.clock.Now()
	res.Status = state.Status
	res.RecordID = state.RecordID
	res.Hash = state.Hash

	switch {
	case state.Status == model.StatusVerified:
		res.Skipped = true
		s.finish(ctx, res)
		return res, nil

	case inv.HasRecord():
		// the record is committed; only delivery is outstanding
		if !settings.AutoSubmit {
			res.Skipped = true
			s.finish(ctx, res)
			return res, nil
		}
		if state.Status != model.StatusSigned {
			state.Restart(now)
			if err := state.Transition(model.StatusSigned, now); err != nil {
				return nil, err
			}
		}

	default:
		if state.Status.IsTerminal() {
			state.Restart(now)
		} else if err := state.Transition(model.StatusPending, now); err != nil {
			return nil, err
		}
		if err := s.saveCompliance(ctx, res, state); err != nil {
			return nil, err
		}

		committed, err := s.buildAndCommit(ctx, res, settings, inv, &state)
		if err != nil {
			return nil, err
		}
		if !committed {
			s.finish(ctx, res)
			return res, nil
		}
	}

	if !settings.AutoSubmit {
		res.Status = state.Status
		s.finish(ctx, res)
		return res, nil
	}

	d, err := s.deliver(ctx, settings, record.KindRegistration, state.RecordID, []byte(state.SignedDocument))
	if err != nil {
		return nil, err
	}
	res.Submitted = d.submitted
	res.CircuitOpen = d.circuitOpen

	if d.configErr != nil {
		state.ErrorMessage = d.configErr.Error()
		state.UpdatedAt = now
		res.Error = d.configErr
	} else {
		if err := state.Transition(d.status, d.at); err != nil {
			return nil, err
		}
		state.VerificationID = d.verificationID
		state.ErrorMessage = d.message
		state.SubmittedAt = &d.at
		res.VerificationID = d.verificationID
		res.Error = d.err
	}
	if err := s.saveCompliance(ctx, res, state); err != nil {
		return nil, err
	}
	res.Status = state.Status
	if d.submitted {
		s.emit(ctx, events.RecordSubmitted, res)
	}
	s.finish(ctx, res)
	return res, nil
}

// buildAndCommit builds, signs and commits the registration record. It
// returns false when the run stopped on a failure recorded on the invoice.
func (s *Service) buildAndCommit(ctx context.Context, res *Result, settings *model.TenantSettings, inv *model.Invoice, state *model.ComplianceState) (bool, error) {
	signer, err := s.signerFor(ctx, settings)
	if err != nil {
		// configuration problem: status stays as it is
		state.ErrorMessage = err.Error()
		res.Error = err
		return false, s.saveCompliance(ctx, res, *state)
	}

	now := s.clock.Now()
	built, err := s.builder.BuildRegistration(record.Input{
		Invoice:     inv,
		Issuer:      issuerOf(settings),
		Previous:    chainHead(settings),
		GeneratedAt: now,
	})
	if err != nil {
		if terr := state.Transition(model.StatusError, now); terr != nil {
			return false, terr
		}
		state.ErrorMessage = fmt.Sprintf("build record: %v", err)
		res.Error = err
		return false, s.saveCompliance(ctx, res, *state)
	}

	signed, err := signer.Sign(ctx, built.Document)
	if err != nil {
		// nothing is committed or submitted unsigned; the chain stays put
		if terr := state.Transition(model.StatusPending, now); terr != nil {
			return false, terr
		}
		state.ErrorMessage = fmt.Sprintf("signing failed: %v", err)
		res.Error = err
		return false, s.saveCompliance(ctx, res, *state)
	}

	next := *state
	if err := next.Transition(model.StatusSigned, now); err != nil {
		return false, err
	}
	generated := built.Record.GeneratedAt
	next.RecordID = built.Record.ID
	next.RecordType = string(built.Record.Kind)
	next.Hash = built.Hash
	next.PreviousHash = built.Record.Previous.Hash
	next.GeneratedAt = &generated
	next.Document = string(built.Document)
	next.SignedDocument = string(signed)
	next.ErrorMessage = ""

	if err := s.store.CommitRecord(ctx, store.CommitRequest{
		TenantID:   res.TenantID,
		InvoiceID:  res.InvoiceID,
		Record:     built.Record,
		Compliance: &next,
	}); err != nil {
		return false, fmt.Errorf("commit record: %w", err)
	}

	*state = next
	res.Signed = true
	res.Status = next.Status
	res.RecordID = next.RecordID
	res.Hash = next.Hash
	s.statusPersisted(record.KindRegistration, next.Status)
	s.emit(ctx, events.RecordSigned, res)
	return true, nil
}

// Cancel runs the cancellation flow. The cancellation record advances the
// same chain but is stored in its own sub-record; the primary compliance
// state and signed document are never touched.
func (s *Service) Cancel(ctx context.Context, tenantID, invoiceID, reason string) (*Result, error) {
	unlock := s.locks.lock(tenantID)
	defer unlock()

	res := &Result{TenantID: tenantID, InvoiceID: invoiceID, Kind: record.KindCancellation}
	s.emit(ctx, events.JobStarted, res)

	settings, inv, err := s.load(ctx, res)
	if err != nil {
		return nil, err
	}
	if inv == nil {
		s.finish(ctx, res)
		return res, nil
	}

	if !inv.HasRecord() {
		res.Error = model.NewValidationError("compliance.record_id", nil, "required", "invoice has no committed record to cancel")
		s.finish(ctx, res)
		return res, nil
	}

	now := s.clock.Now()
	var state model.CancellationState
	if inv.Cancellation != nil {
		state = *inv.Cancellation
	}
	res.Status = state.Status
	res.RecordID = state.RecordID
	res.Hash = state.Hash

	switch {
	case state.Status == model.StatusVerified:
		res.Skipped = true
		s.finish(ctx, res)
		return res, nil

	case state.Hash != "":
		if !settings.AutoSubmit {
			res.Skipped = true
			s.finish(ctx, res)
			return res, nil
		}
		if state.Status != model.StatusSigned {
			state.Restart()
			if err := state.Transition(model.StatusSigned); err != nil {
				return nil, err
			}
		}

	default:
		if state.Status.IsTerminal() {
			state.Restart()
		} else if err := state.Transition(model.StatusPending); err != nil {
			return nil, err
		}
		state.Date = now
		if r := strings.TrimSpace(reason); r != "" {
			state.Reason = r
		}
		if err := s.saveCancellation(ctx, res, state); err != nil {
			return nil, err
		}

		committed, err := s.buildAndCommitCancellation(ctx, res, settings, inv, &state)
		if err != nil {
			return nil, err
		}
		if !committed {
			s.finish(ctx, res)
			return res, nil
		}
	}

	if !settings.AutoSubmit {
		res.Status = state.Status
		s.finish(ctx, res)
		return res, nil
	}

	d, err := s.deliver(ctx, settings, record.KindCancellation, state.RecordID, []byte(state.SignedDocument))
	if err != nil {
		return nil, err
	}
	res.Submitted = d.submitted
	res.CircuitOpen = d.circuitOpen

	if d.configErr != nil {
		state.ErrorMessage = d.configErr.Error()
		res.Error = d.configErr
	} else {
		if err := state.Transition(d.status); err != nil {
			return nil, err
		}
		state.VerificationID = d.verificationID
		state.ErrorMessage = d.message
		state.SubmittedAt = &d.at
		res.VerificationID = d.verificationID
		res.Error = d.err
	}
	if err := s.saveCancellation(ctx, res, state); err != nil {
		return nil, err
	}
	res.Status = state.Status
	if d.submitted {
		s.emit(ctx, events.RecordSubmitted, res)
	}
	s.finish(ctx, res)
	return res, nil
}

func (s *Service) buildAndCommitCancellation(ctx context.Context, res *Result, settings *model.TenantSettings, inv *model.Invoice, state *model.CancellationState) (bool, error) {
	signer, err := s.signerFor(ctx, settings)
	if err != nil {
		state.ErrorMessage = err.Error()
		res.Error = err
		return false, s.saveCancellation(ctx, res, *state)
	}

	snapshot := inv.Clone()
	snapshot.Cancellation = nil
	built, err := s.builder.BuildCancellation(record.CancellationInput{
		Input: record.Input{
			Invoice:     snapshot,
			Issuer:      issuerOf(settings),
			Previous:    chainHead(settings),
			GeneratedAt: state.Date,
		},
		Reason: state.Reason,
	})
	if err != nil {
		if terr := state.Transition(model.StatusError); terr != nil {
			return false, terr
		}
		state.ErrorMessage = fmt.Sprintf("build cancellation record: %v", err)
		res.Error = err
		return false, s.saveCancellation(ctx, res, *state)
	}

	signed, err := signer.Sign(ctx, built.Document)
	if err != nil {
		if terr := state.Transition(model.StatusPending); terr != nil {
			return false, terr
		}
		state.ErrorMessage = fmt.Sprintf("signing failed: %v", err)
		res.Error = err
		return false, s.saveCancellation(ctx, res, *state)
	}

	next := *state
	if err := next.Transition(model.StatusSigned); err != nil {
		return false, err
	}
	next.RecordID = built.Record.ID
	next.Hash = built.Hash
	next.PreviousHash = built.Record.Previous.Hash
	next.Document = string(built.Document)
	next.SignedDocument = string(signed)
	next.ErrorMessage = ""

	if err := s.store.CommitRecord(ctx, store.CommitRequest{
		TenantID:     res.TenantID,
		InvoiceID:    res.InvoiceID,
		Record:       built.Record,
		Cancellation: &next,
	}); err != nil {
		return false, fmt.Errorf("commit cancellation record: %w", err)
	}

	*state = next
	res.Signed = true
	res.Status = next.Status
	res.RecordID = next.RecordID
	res.Hash = next.Hash
	s.statusPersisted(record.KindCancellation, next.Status)
	s.emit(ctx, events.RecordSigned, res)
	return true, nil
}

// delivery is the interpreted outcome of one submission run
type delivery struct {
	status         model.Status
	verificationID string
	message        string
	at             time.Time
	err            error

	// configErr leaves the status unchanged
	configErr   error
	submitted   bool
	circuitOpen bool
}

// deliver submits a signed document through retry(breaker(submit)). It
// returns an error only when ctx ended, leaving the record SIGNED for a
// later run.
func (s *Service) deliver(ctx context.Context, settings *model.TenantSettings, kind record.Kind, recordID string, signed []byte) (delivery, error) {
	if err := settings.CheckSubmission(); err != nil {
		return delivery{configErr: err}, nil
	}
	password, err := s.decrypter.Decrypt(ctx, settings.EncryptedAuthorityPassword)
	if err != nil {
		return delivery{configErr: model.NewConfigError("authority_password", "cannot decrypt authority password", err)}, nil
	}
	if len(signed) == 0 {
		return delivery{configErr: model.NewConfigError("signed_document", "record has no signed document", nil)}, nil
	}

	req := authority.SubmitRequest{
		TenantID:       settings.TenantID,
		IssuerTaxID:    settings.IssuerTaxID,
		RecordID:       recordID,
		RecordKind:     string(kind),
		SignedDocument: signed,
		Credentials:    authority.Credentials{Username: settings.AuthorityUsername, Password: password},
		Environment:    settings.Environment,
	}

	submit := resilience.Retry(s.retrier, resilience.Guard(s.Breaker(settings.Environment),
		func(ctx context.Context) (authority.Outcome, error) {
			return s.submitter.Submit(ctx, req)
		}))

	outcome, err := submit(ctx)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return delivery{}, ctxErr
	}

	d := delivery{at: s.clock.Now(), submitted: true}
	var rejection *authority.RejectionError
	switch {
	case err == nil && outcome.Status == authority.OutcomeVerified:
		d.status = model.StatusVerified
		d.verificationID = outcome.ConfirmationCode
	case errors.As(err, &rejection):
		d.status = model.StatusRejected
		d.message = rejection.Error()
		d.err = err
	case err == nil:
		d.status = model.StatusError
		d.err = fmt.Errorf("authority returned unexpected outcome %q", outcome.Status)
		d.message = d.err.Error()
	default:
		d.status = model.StatusError
		d.err = err
		d.message = err.Error()
		d.circuitOpen = errors.Is(err, resilience.ErrCircuitOpen)
	}
	return d, nil
}

func (s *Service) saveCompliance(ctx context.Context, res *Result, state model.ComplianceState) error {
	if err := s.store.SaveCompliance(ctx, res.TenantID, res.InvoiceID, state); err != nil {
		return fmt.Errorf("save compliance state: %w", err)
	}
	res.Status = state.Status
	s.statusPersisted(record.KindRegistration, state.Status)
	return nil
}

func (s *Service) saveCancellation(ctx context.Context, res *Result, state model.CancellationState) error {
	if err := s.store.SaveCancellation(ctx, res.TenantID, res.InvoiceID, state); err != nil {
		return fmt.Errorf("save cancellation state: %w", err)
	}
	res.Status = state.Status
	s.statusPersisted(record.KindCancellation, state.Status)
	return nil
}
