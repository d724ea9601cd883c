// Package apperr defines the error taxonomy shared by the pipeline packages.
// Handlers translate these into HTTP responses; executors use them to decide
// whether a failure is absorbed per unit or fatal for the job.
package apperr

import (
	"errors"
	"fmt"
)

// Code represents a category of application error.
type Code string

const (
	CodeValidation           Code = "validation"
	CodeInvalidState         Code = "invalid_state_transition"
	CodeNotFound             Code = "not_found"
	CodeNotReady             Code = "not_ready"
	CodeConflict             Code = "conflict"
	CodeProvider             Code = "provider"
	CodePartialUnitFailure   Code = "partial_unit_failure"
	CodeNoVoicesAvailable    Code = "no_voices_available"
	CodeGeneratorUnavailable Code = "generator_unavailable"
	CodeGenerator            Code = "generator"
	CodeCancelled            Code = "cancelled"
	CodeInternal             Code = "internal"
)

// AppError represents a structured application error with a code, message, and optional cause.
type AppError struct {
	Code    Code
	Message string
	Cause   error
	// Field is the offending request field for validation errors.
	Field string
	// Details carries structured data surfaced to the caller.
	Details any
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithDetails attaches caller-facing details and returns the same error.
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

func Validation(message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message}
}

func Validationf(format string, args ...any) *AppError {
	return &AppError{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationField creates a new Validation error for a specific field.
func ValidationField(field, message string) *AppError {
	return &AppError{Code: CodeValidation, Message: message, Field: field}
}

// InvalidTransition reports an illegal state-machine edge.
func InvalidTransition(kind, from, to string) *AppError {
	return &AppError{
		Code:    CodeInvalidState,
		Message: fmt.Sprintf("%s job cannot move from %s to %s", kind, from, to),
		Details: map[string]string{"from": from, "to": to},
	}
}

// InvalidState reports a command issued against a job in the wrong state.
func InvalidState(kind, current, expected string) *AppError {
	return &AppError{
		Code:    CodeInvalidState,
		Message: fmt.Sprintf("%s job is %s, expected %s", kind, current, expected),
		Details: map[string]string{"current": current, "expected": expected},
	}
}

func NotFound(kind, id string) *AppError {
	return &AppError{Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", kind, id)}
}

// NotReady is returned by result endpoints queried before terminal success.
func NotReady(status string, progress float64) *AppError {
	return &AppError{
		Code:    CodeNotReady,
		Message: "Job not completed yet",
		Details: map[string]any{"status": status, "progress_percent": progress},
	}
}

func Conflict(message string) *AppError {
	return &AppError{Code: CodeConflict, Message: message}
}

// PartialUnitFailure records the failure of one unit of work inside a stage.
func PartialUnitFailure(unit string, cause error) *AppError {
	return &AppError{Code: CodePartialUnitFailure, Message: fmt.Sprintf("%s failed", unit), Cause: cause}
}

func GeneratorUnavailable(message string) *AppError {
	return &AppError{Code: CodeGeneratorUnavailable, Message: message}
}

func Generator(cause error) *AppError {
	return &AppError{Code: CodeGenerator, Message: "script generator failed", Cause: cause}
}

func Cancelled(message string) *AppError {
	return &AppError{Code: CodeCancelled, Message: message}
}

func Internal(message string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Cause: cause}
}

// CodeOf returns the code of the first AppError in err's chain.
// Provider and no-voices errors map to their own codes.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	var provErr *ProviderError
	if errors.As(err, &provErr) {
		return CodeProvider
	}
	var noVoices *NoVoicesAvailable
	if errors.As(err, &noVoices) {
		return CodeNoVoicesAvailable
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

func IsNotFound(err error) bool   { return Is(err, CodeNotFound) }
func IsValidation(err error) bool { return Is(err, CodeValidation) }
func IsState(err error) bool      { return Is(err, CodeInvalidState) }
