// Package failure is the single place where an error returned or raised by an
// action is classified as caller-caused or system, mapped to a status, and
// rendered as an RFC 9457 Problem Details body.
package failure

import (
	"errors"
	"net/http"

	"github.com/jsamuelsen11/go-actionbus/internal/domain"
)

// Kind is the classified category of a failure.
type Kind int

const (
	KindSystem Kind = iota
	KindValidation
	KindConstraint
	KindMulti
	KindAuthentication
	KindAuthorization
	KindNotFound
	KindNotImplemented
)

// Error codes for kinds that have no domain error type of their own.
const (
	CodeNotFound       = "NOT_FOUND"
	CodeNotImplemented = "NOT_IMPLEMENTED"
	CodeMulti          = "MULTIPLE_ERRORS"
	CodeInternal       = "INTERNAL_ERROR"
)

const internalMessage = "internal server error"

var kindNames = map[Kind]string{
	KindSystem:         "system",
	KindValidation:     "validation",
	KindConstraint:     "constraint",
	KindMulti:          "multi",
	KindAuthentication: "authentication",
	KindAuthorization:  "authorization",
	KindNotFound:       "not_found",
	KindNotImplemented: "not_implemented",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Status returns the HTTP-equivalent status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindValidation, KindConstraint, KindMulti:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindNotImplemented:
		return http.StatusNotImplemented
	case KindSystem:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// CallerCaused reports whether the kind is a 4xx failure.
func (k Kind) CallerCaused() bool {
	return k.Status() < http.StatusInternalServerError
}

// Classification is the outcome of Classify.
type Classification struct {
	Kind    Kind
	Status  int
	Code    string
	Message string

	// LogServerSide is false for caller-caused failures; they are expected
	// traffic, not operational alarms.
	LogServerSide bool
	// TagSpanError is always true: every failure is visible in traces.
	TagSpanError bool
}

// Classify maps err to a Classification. Wrapper depth does not matter: the
// chain is walked with errors.As, and *domain.InvocationError layers are
// transparent.
func Classify(err error) Classification {
	kind, code, msg := classify(err)
	return Classification{
		Kind:          kind,
		Status:        kind.Status(),
		Code:          code,
		Message:       msg,
		LogServerSide: !kind.CallerCaused(),
		TagSpanError:  true,
	}
}

func classify(err error) (Kind, string, string) {
	// Checked first: errors.As would otherwise descend into the members.
	var multi *domain.MultiError
	if errors.As(err, &multi) {
		for _, member := range multi.Errors {
			if kind, _, _ := classify(member); !kind.CallerCaused() {
				return KindSystem, CodeInternal, internalMessage
			}
		}
		return KindMulti, CodeMulti, multi.Error()
	}

	var (
		verr  *domain.ValidationError
		cerr  *domain.ConstraintError
		authn *domain.AuthenticationError
		authz *domain.AuthorizationError
	)
	switch {
	case errors.As(err, &verr):
		return KindValidation, verr.ErrorCode(), verr.Error()
	case errors.As(err, &cerr):
		return KindConstraint, cerr.ErrorCode(), cerr.Error()
	case errors.As(err, &authn):
		return KindAuthentication, authn.ErrorCode(), authn.Error()
	case errors.As(err, &authz):
		return KindAuthorization, authz.ErrorCode(), authz.Error()
	case errors.Is(err, domain.ErrValidation):
		return KindValidation, domain.CodeValidation, Cause(err).Error()
	case errors.Is(err, domain.ErrConstraint):
		return KindConstraint, domain.CodeConstraint, Cause(err).Error()
	case errors.Is(err, domain.ErrUnauthenticated):
		return KindAuthentication, domain.CodeAuthentication, Cause(err).Error()
	case errors.Is(err, domain.ErrForbidden):
		return KindAuthorization, domain.CodeAuthorization, Cause(err).Error()
	case errors.Is(err, domain.ErrNotFound):
		return KindNotFound, CodeNotFound, Cause(err).Error()
	case errors.Is(err, domain.ErrNotImplemented):
		return KindNotImplemented, CodeNotImplemented, Cause(err).Error()
	default:
		return KindSystem, CodeInternal, internalMessage
	}
}

// Cause strips *domain.InvocationError wrappers and returns the first error
// that is not one.
func Cause(err error) error {
	for {
		inv, ok := err.(*domain.InvocationError)
		if !ok || inv.Err == nil {
			return err
		}
		err = inv.Err
	}
}
