package model

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned by stores when an invoice or tenant is unknown
	ErrNotFound = errors.New("not found")

	// ErrChainConflict is returned when the tenant chain moved while a record
	// was being built; the record must be rebuilt on top of the new head
	ErrChainConflict = errors.New("chain hash conflict")

	// ErrInvalidTransition is matched by every *TransitionError
	ErrInvalidTransition = errors.New("invalid compliance transition")
)

// ConfigError represents a tenant configuration problem. It is never retried.
type ConfigError struct {
	Field   string
	Message string
	Cause   error
}

func (e *ConfigError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("configuration error on %s: %s (%v)", e.Field, e.Message, e.Cause)
	}
	return fmt.Sprintf("configuration error on %s: %s", e.Field, e.Message)
}

func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigError creates a new configuration error
func NewConfigError(field, message string, cause error) *ConfigError {
	return &ConfigError{
		Field:   field,
		Message: message,
		Cause:   cause,
	}
}

// IsConfigError reports whether err carries a *ConfigError
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// ValidationError represents validation failures
type ValidationError struct {
	Field   string
	Value   interface{}
	Rule    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Value != nil {
		return fmt.Sprintf("validation failed on %s: %s (value=%v, rule=%s)", e.Field, e.Message, e.Value, e.Rule)
	}
	return fmt.Sprintf("validation failed on %s: %s (rule=%s)", e.Field, e.Message, e.Rule)
}

// NewValidationError creates a new validation error
func NewValidationError(field string, value interface{}, rule, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Value:   value,
		Rule:    rule,
		Message: message,
	}
}
