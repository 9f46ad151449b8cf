package authority

import (
	"context"
	"errors"
	"fmt"

	"github.com/rezonia/invoice-compliance/internal/resilience"
)

// TransportError means the outcome of a submission is undetermined:
// the request timed out, the connection failed, or the authority answered
// with a server-side or throttling status. Transport errors are retryable.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Err != nil:
		return fmt.Sprintf("authority transport error: %s: HTTP %d: %v", e.Op, e.StatusCode, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("authority transport error: %s: HTTP %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("authority transport error: %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports true
func (e *TransportError) Retryable() bool { return true }

// Timeout reports whether the failure was a deadline or client timeout
func (e *TransportError) Timeout() bool {
	var t interface{ Timeout() bool }
	return errors.As(e.Err, &t) && t.Timeout()
}

// RequestError means the authority refused the request itself: malformed
// payload, bad credentials, unknown endpoint. Sending it again cannot help.
type RequestError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *RequestError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("authority request error: HTTP %d [%s] %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("authority request error: HTTP %d %s", e.StatusCode, e.Message)
}

// Retryable reports false
func (e *RequestError) Retryable() bool { return false }

// RejectionError is a business rejection of a well-formed record
type RejectionError struct {
	Code   string
	Reason string
}

func (e *RejectionError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("rejected by authority [%s]: %s", e.Code, e.Reason)
	}
	return fmt.Sprintf("rejected by authority: %s", e.Reason)
}

// Retryable reports false
func (e *RejectionError) Retryable() bool { return false }

// IsRejection reports whether err carries a business rejection
func IsRejection(err error) bool {
	var re *RejectionError
	return errors.As(err, &re)
}

// IsRetryable reports whether submitting again may succeed. Only transport
// failures and an open circuit qualify; the client wraps every network
// failure in *TransportError, so anything else is a refusal or a bug.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return true
	}
	var te *TransportError
	return errors.As(err, &te)
}

// IsOutage reports whether err shows the authority unreachable or failing.
// Circuit breakers count only these.
func IsOutage(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var te *TransportError
	return errors.As(err, &te)
}
