// Package resilience provides the circuit breaker and retry decorators that
// guard calls to the tax authority.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// ErrCircuitOpen is returned without calling the operation while the
// breaker is open, or while a half-open trial is already in flight
var ErrCircuitOpen = errors.New("circuit breaker is open")

// RetriesExhaustedError wraps the last failure after every attempt failed
type RetriesExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("retries exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }

// Operation is a single attempt of a guarded call
type Operation[T any] func(ctx context.Context) (T, error)

// IsRetryable classifies err. Errors may decide for themselves by
// implementing Retryable() bool; otherwise network failures, deadlines and
// an open circuit are retryable and everything else is not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrCircuitOpen) {
		return true
	}

	var r interface{ Retryable() bool }
	if errors.As(err, &r) {
		return r.Retryable()
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}
