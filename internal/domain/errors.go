package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Sentinel errors for errors.Is() checking.
var (
	ErrNotFound        = errors.New("not found")
	ErrValidation      = errors.New("validation error")
	ErrConstraint      = errors.New("constraint violation")
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotImplemented  = errors.New("not implemented")
)

// Error codes carried on the wire next to caller-facing messages.
const (
	CodeValidation     = "VALIDATION_ERROR"
	CodeConstraint     = "CONSTRAINT_VIOLATION"
	CodeAuthentication = "AUTHENTICATION_ERROR"
	CodeAuthorization  = "AUTHORIZATION_ERROR"
)

// Coded is implemented by errors that carry a machine-readable error code.
type Coded interface {
	ErrorCode() string
}

// ValidationError reports input that failed to decode or validate. Use
// errors.Is(err, ErrValidation) for simple checks, or errors.As(err, &verr)
// to access the per-field details.
type ValidationError struct {
	Code    string
	Message string
	Fields  map[string]string
}

// NewValidationError returns a ValidationError carrying only a message.
func NewValidationError(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

func (e *ValidationError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = ErrValidation.Error()
	}
	if len(e.Fields) == 0 {
		return msg
	}

	parts := make([]string, 0, len(e.Fields))
	for field, fieldMsg := range e.Fields {
		parts = append(parts, field+": "+fieldMsg)
	}
	sort.Strings(parts)
	return fmt.Sprintf("%s: %s", msg, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// ErrorCode implements Coded.
func (e *ValidationError) ErrorCode() string {
	if e.Code != "" {
		return e.Code
	}
	return CodeValidation
}

// ConstraintError reports a violated business constraint, such as a
// uniqueness rule or a state transition that is not allowed.
type ConstraintError struct {
	Constraint string
	Message    string
}

func (e *ConstraintError) Error() string {
	if e.Constraint == "" {
		return e.Message
	}
	return e.Constraint + ": " + e.Message
}

func (e *ConstraintError) Unwrap() error { return ErrConstraint }

// ErrorCode implements Coded.
func (e *ConstraintError) ErrorCode() string { return CodeConstraint }

// AuthenticationError is returned when a call requires a caller identity and
// none was supplied.
type AuthenticationError struct {
	Message string
}

func (e *AuthenticationError) Error() string {
	if e.Message == "" {
		return "authentication required"
	}
	return e.Message
}

func (e *AuthenticationError) Unwrap() error { return ErrUnauthenticated }

// ErrorCode implements Coded.
func (e *AuthenticationError) ErrorCode() string { return CodeAuthentication }

// AuthorizationError is returned when the caller is known but lacks the
// permission needed for the call.
type AuthorizationError struct {
	Subject string
	Message string
}

func (e *AuthorizationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("subject %q is not allowed to perform this action", e.Subject)
}

func (e *AuthorizationError) Unwrap() error { return ErrForbidden }

// ErrorCode implements Coded.
func (e *AuthorizationError) ErrorCode() string { return CodeAuthorization }

// MultiError aggregates several caller-caused errors, typically one per
// failed validation rule.
type MultiError struct {
	Errors []error
}

// NewMultiError drops nil entries and returns nil when nothing remains.
func NewMultiError(errs ...error) *MultiError {
	var kept []error
	for _, err := range errs {
		if err != nil {
			kept = append(kept, err)
		}
	}
	if len(kept) == 0 {
		return nil
	}
	return &MultiError{Errors: kept}
}

func (e *MultiError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

func (e *MultiError) Unwrap() []error {
	return e.Errors
}

// InvocationError wraps whatever a handler returned or panicked with. It is a
// transparent wrapper: classification looks through it to the cause.
type InvocationError struct {
	Address string
	Err     error
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("invoking %s: %v", e.Address, e.Err)
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}
