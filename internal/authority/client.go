// Package authority submits signed compliance records to the tax authority
// web service and translates its answers into typed outcomes.
package authority

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/rezonia/invoice-compliance/internal/model"
)

// Default client configuration
const (
	DefaultTimeout      = 30 * time.Second
	maxResponseBodySize = 4 << 20
)

// OutcomeStatus is the authority's verdict on a record
type OutcomeStatus string

const (
	OutcomeVerified OutcomeStatus = "VERIFIED"
	OutcomeRejected OutcomeStatus = "REJECTED"
)

// Outcome is a determined submission result. Undetermined results are
// reported as *TransportError instead.
type Outcome struct {
	Status           OutcomeStatus
	ConfirmationCode string
	Code             string
	Reason           string
	ReceivedAt       time.Time
}

// Credentials authenticate the tenant against the authority
type Credentials struct {
	Username string
	Password string
}

// SubmitRequest carries one signed record
type SubmitRequest struct {
	TenantID       string
	IssuerTaxID    string
	RecordID       string
	RecordKind     string
	SignedDocument []byte
	Credentials    Credentials
	Environment    model.Environment
}

// Submitter delivers signed records
type Submitter interface {
	Submit(ctx context.Context, req SubmitRequest) (Outcome, error)
}

// Config holds endpoint configuration
type Config struct {
	SandboxURL    string
	ProductionURL string
	Timeout       time.Duration
}

// Client is the SOAP client for the authority service
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     zerolog.Logger
	now        func() time.Time
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		if c != nil {
			cl.httpClient = c
		}
	}
}

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) ClientOption {
	return func(cl *Client) {
		cl.logger = l
	}
}

// NewClient creates a new authority client
func NewClient(cfg Config, opts ...ClientOption) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	c := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     zerolog.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Endpoint returns the service URL for env
func (c *Client) Endpoint(env model.Environment) (string, error) {
	var url string
	switch env {
	case model.EnvironmentProduction:
		url = c.cfg.ProductionURL
	case model.EnvironmentSandbox, "":
		url = c.cfg.SandboxURL
	default:
		return "", &RequestError{Message: fmt.Sprintf("unknown environment %q", env)}
	}
	if url == "" {
		return "", &RequestError{Message: fmt.Sprintf("no endpoint configured for %s", env)}
	}
	return url, nil
}

// Submit posts the signed record. A verified or rejected verdict is a
// determined outcome; rejection is also returned as *RejectionError so
// callers never mistake it for success.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (Outcome, error) {
	if len(req.SignedDocument) == 0 {
		return Outcome{}, &RequestError{Message: "empty signed document"}
	}
	if req.Credentials.Username == "" {
		return Outcome{}, &RequestError{StatusCode: http.StatusUnauthorized, Message: "missing authority credentials"}
	}

	url, err := c.Endpoint(req.Environment)
	if err != nil {
		return Outcome{}, err
	}

	envelope, err := buildEnvelope(req)
	if err != nil {
		return Outcome{}, &RequestError{Message: err.Error()}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(envelope))
	if err != nil {
		return Outcome{}, &RequestError{Message: fmt.Sprintf("failed to build request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "text/xml; charset=utf-8")
	httpReq.Header.Set("SOAPAction", soapAction)
	httpReq.SetBasicAuth(req.Credentials.Username, req.Credentials.Password)

	start := c.now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Outcome{}, &TransportError{Op: "post", Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodySize))
	if err != nil {
		return Outcome{}, &TransportError{Op: "read response", Err: err}
	}

	c.logger.Debug().
		Str("tenant_id", req.TenantID).
		Str("record_id", req.RecordID).
		Int("status", resp.StatusCode).
		Dur("elapsed", c.now().Sub(start)).
		Msg("authority responded")

	outcome, err := interpret(resp.StatusCode, body)
	if err != nil {
		return outcome, err
	}
	outcome.ReceivedAt = c.now()
	return outcome, nil
}

// interpret maps an HTTP status and SOAP body to an outcome or error
func interpret(status int, body []byte) (Outcome, error) {
	switch {
	case status == http.StatusTooManyRequests || status >= 500 && !isSOAPFault(body):
		return Outcome{}, &TransportError{Op: "submit", StatusCode: status}
	case status >= 400 && !isSOAPFault(body):
		return Outcome{}, &RequestError{StatusCode: status, Message: http.StatusText(status)}
	}

	parsed, err := parseResponse(body)
	if err != nil {
		// a 200 we cannot read leaves the outcome undetermined
		return Outcome{}, &TransportError{Op: "parse response", StatusCode: status, Err: err}
	}

	if parsed.fault != nil {
		if parsed.fault.server {
			return Outcome{}, &TransportError{Op: "submit", StatusCode: status, Err: fmt.Errorf("soap fault %s: %s", parsed.fault.code, parsed.fault.message)}
		}
		return Outcome{}, &RequestError{StatusCode: status, Code: parsed.fault.code, Message: parsed.fault.message}
	}

	if parsed.accepted {
		return Outcome{Status: OutcomeVerified, ConfirmationCode: parsed.confirmation}, nil
	}

	outcome := Outcome{Status: OutcomeRejected, Code: parsed.errorCode, Reason: parsed.errorText}
	return outcome, &RejectionError{Code: parsed.errorCode, Reason: parsed.errorText}
}
