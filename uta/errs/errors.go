// Package errs defines the typed failures that cross component boundaries.
//
// Only ConfigError is ever returned to callers of the orchestrator. Adapter
// failures become synthetic turns, judge failures become a fallback flag on the
// verdict, and strategy faults become a done step.
package errs

import (
	"errors"
	"fmt"
)

// ConfigError reports invalid or conflicting setup detected before a run starts.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config error: " + e.Reason
	}
	return fmt.Sprintf("config error: %s: %s", e.Field, e.Reason)
}

// NewConfigError builds a ConfigError for field.
func NewConfigError(field, format string, args ...any) error {
	return &ConfigError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsConfig reports whether err is (or wraps) a ConfigError.
func IsConfig(err error) bool {
	var cfg *ConfigError
	return errors.As(err, &cfg)
}

// AdapterError reports that the agent under test failed to produce a reply.
type AdapterError struct {
	Status int
	err    error
}

func (e *AdapterError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("agent adapter error (status %d): %v", e.Status, e.err)
	}
	return fmt.Sprintf("agent adapter error: %v", e.err)
}

func (e *AdapterError) Unwrap() error {
	return e.err
}

// NewAdapterError wraps err as an AdapterError.
func NewAdapterError(status int, err error) error {
	return &AdapterError{Status: status, err: err}
}

// AdapterTimeout reports that the agent did not answer within the caller's deadline.
type AdapterTimeout struct {
	err error
}

func (e *AdapterTimeout) Error() string {
	return fmt.Sprintf("agent adapter timeout: %v", e.err)
}

func (e *AdapterTimeout) Unwrap() error {
	return e.err
}

// NewAdapterTimeout wraps err as an AdapterTimeout.
func NewAdapterTimeout(err error) error {
	return &AdapterTimeout{err: err}
}

// IsAdapterTimeout reports whether err is (or wraps) an AdapterTimeout.
func IsAdapterTimeout(err error) bool {
	var timeout *AdapterTimeout
	return errors.As(err, &timeout)
}

// IsAdapter reports whether err is an AdapterError or AdapterTimeout.
func IsAdapter(err error) bool {
	var adapterErr *AdapterError
	return errors.As(err, &adapterErr) || IsAdapterTimeout(err)
}

// JudgeFailure reports that the external judge was unreachable or returned
// output that could not be parsed into scores.
type JudgeFailure struct {
	Stage string // "call", "extract", "validate", "decode"
	err   error
}

func (e *JudgeFailure) Error() string {
	return fmt.Sprintf("judge failure at %s: %v", e.Stage, e.err)
}

func (e *JudgeFailure) Unwrap() error {
	return e.err
}

// NewJudgeFailure wraps err as a JudgeFailure raised at stage.
func NewJudgeFailure(stage string, err error) error {
	return &JudgeFailure{Stage: stage, err: err}
}

// TransientError marks a failure that may succeed on retry.
type TransientError struct {
	err error
}

func (e *TransientError) Error() string {
	return e.err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.err
}

// NewTransientError wraps an error as transient (retryable).
func NewTransientError(err error) error {
	return &TransientError{err: err}
}

// IsTransient returns true if the error is transient and should be retried.
func IsTransient(err error) bool {
	var transient *TransientError
	return errors.As(err, &transient)
}
