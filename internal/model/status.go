package model

import (
	"fmt"
	"time"
)

// Status is the compliance status persisted on the invoice
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusSigned   Status = "SIGNED"
	StatusVerified Status = "VERIFIED"
	StatusRejected Status = "REJECTED"
	StatusError    Status = "ERROR"
)

// transitions lists every allowed edge of the state machine.
// Terminal states only leave through Restart.
var transitions = map[Status][]Status{
	"":             {StatusPending},
	StatusPending:  {StatusPending, StatusSigned, StatusError},
	StatusSigned:   {StatusVerified, StatusRejected, StatusError},
	StatusVerified: {},
	StatusRejected: {},
	StatusError:    {},
}

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	_, ok := transitions[s]
	return ok && s != ""
}

// IsTerminal reports whether no further transition is possible for the
// current submission attempt
func (s Status) IsTerminal() bool {
	return s == StatusVerified || s == StatusRejected || s == StatusError
}

func (s Status) String() string {
	return string(s)
}

// CanTransition reports whether from -> to is an allowed edge
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ComplianceState holds the compliance fields persisted on an invoice
type ComplianceState struct {
	Status         Status     `json:"status"`
	RecordID       string     `json:"record_id,omitempty"`
	RecordType     string     `json:"record_type,omitempty"`
	Hash           string     `json:"hash,omitempty"`
	PreviousHash   string     `json:"previous_hash,omitempty"`
	GeneratedAt    *time.Time `json:"generated_at,omitempty"`
	Document       string     `json:"document,omitempty"`
	SignedDocument string     `json:"signed_document,omitempty"`
	VerificationID string     `json:"verification_id,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Transition moves the state to next, rejecting edges the state machine
// does not allow
func (c *ComplianceState) Transition(next Status, at time.Time) error {
	if !CanTransition(c.Status, next) {
		return &TransitionError{From: c.Status, To: next}
	}
	c.Status = next
	c.UpdatedAt = at
	return nil
}

// Restart begins a fresh submission attempt for a re-triggered job.
// Committed record fields stay untouched; only the attempt outcome resets.
func (c *ComplianceState) Restart(at time.Time) {
	c.Status = StatusPending
	c.ErrorMessage = ""
	c.VerificationID = ""
	c.SubmittedAt = nil
	c.UpdatedAt = at
}

func (c ComplianceState) clone() ComplianceState {
	out := c
	if c.GeneratedAt != nil {
		t := *c.GeneratedAt
		out.GeneratedAt = &t
	}
	if c.SubmittedAt != nil {
		t := *c.SubmittedAt
		out.SubmittedAt = &t
	}
	return out
}

// CancellationState is the separate sub-record stamped by the cancellation
// flow. It never replaces the primary ComplianceState.
type CancellationState struct {
	RecordID       string     `json:"record_id,omitempty"`
	Date           time.Time  `json:"date"`
	Reason         string     `json:"reason,omitempty"`
	Hash           string     `json:"hash,omitempty"`
	PreviousHash   string     `json:"previous_hash,omitempty"`
	Document       string     `json:"document,omitempty"`
	SignedDocument string     `json:"signed_document,omitempty"`
	Status         Status     `json:"status"`
	VerificationID string     `json:"verification_id,omitempty"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
}

// Transition applies the same state machine to the cancellation sub-record
func (c *CancellationState) Transition(next Status) error {
	if !CanTransition(c.Status, next) {
		return &TransitionError{From: c.Status, To: next}
	}
	c.Status = next
	return nil
}

// Restart begins a fresh delivery attempt for a committed cancellation
func (c *CancellationState) Restart() {
	c.Status = StatusPending
	c.ErrorMessage = ""
	c.VerificationID = ""
	c.SubmittedAt = nil
}

func (c CancellationState) clone() CancellationState {
	out := c
	if c.SubmittedAt != nil {
		t := *c.SubmittedAt
		out.SubmittedAt = &t
	}
	return out
}

// TransitionError reports an edge the state machine refuses
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	from := string(e.From)
	if from == "" {
		from = "<none>"
	}
	return fmt.Sprintf("invalid compliance transition %s -> %s", from, e.To)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
