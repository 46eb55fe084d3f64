package appctx

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/jsamuelsen11/go-actionbus/internal/domain"
)

// validatable is implemented by commands that check their own invariants.
type validatable interface {
	Validate() error
}

// Command decodes the body into a T and validates it. Any decode or
// validation problem is returned as a caller-caused error.
func Command[T any](rc *RequestContext) (T, error) {
	var cmd T
	if err := rc.DecodeCommand(&cmd); err != nil {
		var zero T
		return zero, err
	}
	return cmd, nil
}

// DecodeCommand is the non-generic form of Command; dst must be a non-nil
// pointer. An empty body leaves dst at its zero value before validation.
func (rc *RequestContext) DecodeCommand(dst any) error {
	if body := bytes.TrimSpace(rc.Body()); len(body) > 0 {
		if err := json.Unmarshal(body, dst); err != nil {
			return &domain.ValidationError{
				Fields: map[string]string{"body": "invalid JSON"},
			}
		}
	}

	v, ok := dst.(validatable)
	if !ok {
		return nil
	}
	if err := v.Validate(); err != nil {
		return asCallerError(err)
	}
	return nil
}

// asCallerError keeps errors that already belong to the caller-caused
// taxonomy and turns anything else into a ValidationError.
func asCallerError(err error) error {
	var (
		verr  *domain.ValidationError
		cerr  *domain.ConstraintError
		multi *domain.MultiError
	)
	if errors.As(err, &verr) || errors.As(err, &cerr) || errors.As(err, &multi) {
		return err
	}
	return &domain.ValidationError{Message: err.Error()}
}
