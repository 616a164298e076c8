package types

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors shared by the store, the state machines and every transport.
// Callers classify with errors.Is.
var (
	ErrValidation         = errors.New("validation failed")
	ErrNotFound           = errors.New("not found")
	ErrDuplicateGateBump  = errors.New("duplicate gate bump")
	ErrVersionRegression  = errors.New("version regression")
	ErrGateClosed         = errors.New("gate already decided")
	ErrGateCriteriaNotMet = errors.New("gate criteria not met")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrTransientNetwork   = errors.New("transient network error")
	ErrFatalConfig        = errors.New("fatal configuration error")
)

// ValidationError describes a rejected field. It unwraps to ErrValidation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", ErrValidation, e.Reason)
	}
	return fmt.Sprintf("%s: %s %s", ErrValidation, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError for field
func Invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Error codes used on the wire
const (
	CodeValidation         = "validation_error"
	CodeNotFound           = "not_found"
	CodeDuplicateGateBump  = "duplicate_gate_bump"
	CodeVersionRegression  = "version_regression"
	CodeGateClosed         = "gate_closed"
	CodeGateCriteriaNotMet = "gate_criteria_not_met"
	CodeStorageUnavailable = "storage_unavailable"
	CodeTransientNetwork   = "transient_network"
	CodeFatalConfig        = "fatal_config"
	CodeInternal           = "internal"
)

var codeSentinels = []struct {
	code string
	err  error
}{
	{CodeValidation, ErrValidation},
	{CodeNotFound, ErrNotFound},
	{CodeDuplicateGateBump, ErrDuplicateGateBump},
	{CodeVersionRegression, ErrVersionRegression},
	{CodeGateClosed, ErrGateClosed},
	{CodeGateCriteriaNotMet, ErrGateCriteriaNotMet},
	{CodeStorageUnavailable, ErrStorageUnavailable},
	{CodeTransientNetwork, ErrTransientNetwork},
	{CodeFatalConfig, ErrFatalConfig},
}

// Code returns the wire code for err, or CodeInternal when err is unclassified
func Code(err error) string {
	for _, cs := range codeSentinels {
		if errors.Is(err, cs.err) {
			return cs.code
		}
	}
	return CodeInternal
}

// ErrorFromCode rebuilds a classified error from a wire code and message.
// Unknown codes produce a plain error.
func ErrorFromCode(code, message string) error {
	for _, cs := range codeSentinels {
		if cs.code == code {
			message = strings.TrimPrefix(message, cs.err.Error()+": ")
			if message == "" || message == cs.err.Error() {
				return cs.err
			}
			return fmt.Errorf("%w: %s", cs.err, message)
		}
	}
	if message == "" {
		message = code
	}
	return errors.New(message)
}

// IsRetryable reports whether the same request may succeed if repeated.
// Validation and state-machine failures are never retryable.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable) || errors.Is(err, ErrTransientNetwork)
}
