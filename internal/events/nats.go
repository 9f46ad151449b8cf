package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Publisher is the part of *nats.Conn the sink needs
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSSink publishes events as JSON to <prefix>.<event type>
//
// All publish operations are non-fatal: errors are logged but never
// propagated, so a broker outage never interrupts record processing.
type NATSSink struct {
	pub    Publisher
	prefix string
	log    zerolog.Logger
}

// NewNATSSink creates a sink over an existing publisher
func NewNATSSink(pub Publisher, prefix string, log zerolog.Logger) *NATSSink {
	if prefix == "" {
		prefix = "compliance"
	}
	return &NATSSink{pub: pub, prefix: prefix, log: log}
}

// Connect dials NATS and returns the sink with the connection to close
func Connect(url, prefix string, log zerolog.Logger) (*NATSSink, *nats.Conn, error) {
	conn, err := nats.Connect(url,
		nats.Name("invoice-compliance"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("events: nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info().Str("url", c.ConnectedUrl()).Msg("events: nats reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}
	return NewNATSSink(conn, prefix, log), conn, nil
}

// Subject returns the subject an event type is published on
func (s *NATSSink) Subject(t Type) string {
	return s.prefix + "." + string(t)
}

func (s *NATSSink) Emit(_ context.Context, e Event) {
	if s.pub == nil {
		return
	}

	data, err := json.Marshal(e)
	if err != nil {
		s.log.Warn().Err(err).Str("event_type", string(e.Type)).Msg("events: failed to marshal event")
		return
	}

	subject := s.Subject(e.Type)
	if err := s.pub.Publish(subject, data); err != nil {
		s.log.Warn().Err(err).
			Str("subject", subject).
			Str("invoice_id", e.InvoiceID).
			Msg("events: failed to publish NATS event (non-fatal)")
		return
	}

	s.log.Debug().
		Str("subject", subject).
		Str("invoice_id", e.InvoiceID).
		Msg("events: event published")
}
