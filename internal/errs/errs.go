// Package errs defines the error kinds surfaced by the accounting core.
//
// Denied consumption is an outcome, not an error; only configuration gaps,
// caller mistakes and storage failures are reported here.
package errs

import (
	"errors"
	"fmt"
)

// ConfigurationError reports missing static configuration the deployment cannot run without.
type ConfigurationError struct {
	Key    string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration: %s: %s", e.Key, e.Reason)
}

// ValidationError reports malformed input from a caller.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Reason)
}

// PersistenceError wraps a storage or transaction failure. The whole logical call
// may be retried with the same idempotency token.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Retryable reports true for every persistence failure.
func (e *PersistenceError) Retryable() bool { return true }

// Configuration constructs a ConfigurationError.
func Configuration(key, reason string) error {
	return &ConfigurationError{Key: key, Reason: reason}
}

// Validation constructs a ValidationError.
func Validation(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Persistence wraps err as a PersistenceError unless it already carries one of
// the typed kinds, which pass through untouched.
func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	var cfgErr *ConfigurationError
	var valErr *ValidationError
	var perErr *PersistenceError
	if errors.As(err, &cfgErr) || errors.As(err, &valErr) || errors.As(err, &perErr) {
		return err
	}
	return &PersistenceError{Op: op, Err: err}
}

// IsRetryable reports whether err is a transient persistence failure.
func IsRetryable(err error) bool {
	var perErr *PersistenceError
	return errors.As(err, &perErr) && perErr.Retryable()
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var valErr *ValidationError
	return errors.As(err, &valErr)
}

// IsConfiguration reports whether err is a ConfigurationError.
func IsConfiguration(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
