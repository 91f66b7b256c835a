// Package errors provides the error taxonomy shared by the settlement core.
// Every failure surfaced by the ledger, the reconciliation engine or the swap
// pipeline falls into one of four buckets: validation (reject, no mutation),
// conflict (treated as a successful no-op by idempotent callers), transient
// (retryable, state left resumable) and policy (terminal, operator attention).
package errors

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the requested transaction was not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates a transaction with the same id already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput indicates a validation failure; nothing was mutated
	ErrInvalidInput = errors.New("invalid input")

	// ErrConflict indicates a concurrent transition won the race or a
	// reference was already consumed; callers treat it as a duplicate
	ErrConflict = errors.New("conflict")

	// ErrUnauthorized indicates a failed signature or credential check
	ErrUnauthorized = errors.New("unauthorized")

	// ErrServiceUnavailable indicates a transient external failure
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrPolicyViolation indicates a terminal policy failure such as an
	// exhausted retry budget or an insufficient master-wallet reserve
	ErrPolicyViolation = errors.New("policy violation")
)

// DomainError carries a category, a stable code and optional context.
type DomainError struct {
	Err       error
	Code      string
	Message   string
	Details   map[string]interface{}
	Retryable bool
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func (e *DomainError) Is(target error) bool {
	if e.Err != nil {
		return errors.Is(e.Err, target)
	}
	return false
}

// WithDetails adds details to the error
func (e *DomainError) WithDetails(details map[string]interface{}) *DomainError {
	e.Details = details
	return e
}

// NotFoundError creates a not found error
func NotFoundError(resource string) *DomainError {
	return &DomainError{
		Err:     ErrNotFound,
		Code:    fmt.Sprintf("%s_NOT_FOUND", resource),
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// AlreadyExistsError creates an already exists error
func AlreadyExistsError(resource string) *DomainError {
	return &DomainError{
		Err:     ErrAlreadyExists,
		Code:    fmt.Sprintf("%s_ALREADY_EXISTS", resource),
		Message: fmt.Sprintf("%s already exists", resource),
	}
}

// ValidationError creates a validation error for a named field
func ValidationError(field, message string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidInput,
		Code:    "VALIDATION_ERROR",
		Message: message,
		Details: map[string]interface{}{
			"field": field,
		},
	}
}

// ConflictError creates a conflict error
func ConflictError(resource, reason string) *DomainError {
	return &DomainError{
		Err:     ErrConflict,
		Code:    "CONFLICT",
		Message: fmt.Sprintf("conflict with %s: %s", resource, reason),
	}
}

// UnauthorizedError creates an unauthorized error
func UnauthorizedError(message string) *DomainError {
	return &DomainError{
		Err:     ErrUnauthorized,
		Code:    "UNAUTHORIZED",
		Message: message,
	}
}

// TransientError creates a retryable external-failure error
func TransientError(service string, err error) *DomainError {
	de := &DomainError{
		Err:       ErrServiceUnavailable,
		Code:      "SERVICE_UNAVAILABLE",
		Message:   fmt.Sprintf("%s is temporarily unavailable", service),
		Retryable: true,
	}
	if err != nil {
		de.Details = map[string]interface{}{
			"cause": err.Error(),
		}
	}
	return de
}

// PolicyError creates a terminal policy error
func PolicyError(code, message string) *DomainError {
	return &DomainError{
		Err:     ErrPolicyViolation,
		Code:    code,
		Message: message,
	}
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsConflict checks if an error is a conflict error
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsInvalidInput checks if an error is a validation error
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsRetryable reports whether the error is a transient external failure.
func IsRetryable(err error) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Retryable
	}
	return errors.Is(err, ErrServiceUnavailable)
}

// IsPolicyViolation checks if an error is a terminal policy failure
func IsPolicyViolation(err error) bool {
	return errors.Is(err, ErrPolicyViolation)
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}
