// Package events publishes compliance pipeline events. Publishing never
// fails the pipeline: sink errors are logged and dropped.
package events

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Type names an event
type Type string

const (
	JobStarted          Type = "job.started"
	JobSucceeded        Type = "job.succeeded"
	JobFailed           Type = "job.failed"
	JobRetried          Type = "job.retried"
	RecordSigned        Type = "record.signed"
	RecordSubmitted     Type = "record.submitted"
	CircuitStateChanged Type = "circuit.state_changed"
)

// Event is the JSON payload published for every pipeline milestone
type Event struct {
	Type      Type      `json:"event_type"`
	TenantID  string    `json:"tenant_id,omitempty"`
	InvoiceID string    `json:"invoice_id,omitempty"`
	JobID     string    `json:"job_id,omitempty"`
	RecordID  string    `json:"record_id,omitempty"`
	Status    string    `json:"status,omitempty"`
	Attempt   int       `json:"attempt,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`

	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Sink receives events
type Sink interface {
	Emit(ctx context.Context, e Event)
}

// Nop drops every event
type Nop struct{}

func (Nop) Emit(context.Context, Event) {}

// LogSink writes events to a zerolog logger at debug level
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink creates a log sink
func NewLogSink(log zerolog.Logger) *LogSink {
	return &LogSink{log: log}
}

func (s *LogSink) Emit(_ context.Context, e Event) {
	ev := s.log.Debug().
		Str("event_type", string(e.Type)).
		Str("tenant_id", e.TenantID).
		Str("invoice_id", e.InvoiceID)
	if e.JobID != "" {
		ev = ev.Str("job_id", e.JobID)
	}
	if e.RecordID != "" {
		ev = ev.Str("record_id", e.RecordID)
	}
	if e.Status != "" {
		ev = ev.Str("status", e.Status)
	}
	if e.Attempt > 0 {
		ev = ev.Int("attempt", e.Attempt)
	}
	if e.Error != "" {
		ev = ev.Str("error", e.Error)
	}
	if len(e.Payload) > 0 {
		ev = ev.Interface("payload", e.Payload)
	}
	ev.Msg("event")
}

// Multi fans an event out to every sink in order
type Multi []Sink

func (m Multi) Emit(ctx context.Context, e Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, e)
		}
	}
}
