package failure

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"

	"github.com/jsamuelsen11/go-actionbus/internal/domain"
)

// ContentType is the media type of an encoded Failure.
const ContentType = "application/problem+json"

// Failure is the wire form of a classified failure: an RFC 9457 Problem
// Details body extended with a machine-readable error code and, for
// aggregates, one entry per member error.
type Failure struct {
	Type      string   `json:"type"`
	Title     string   `json:"title"`
	Status    int      `json:"status"`
	Detail    string   `json:"detail,omitempty"`
	Instance  string   `json:"instance,omitempty"`
	ErrorCode string   `json:"errorCode,omitempty"`
	Errors    []Detail `json:"errors,omitempty"`

	class Classification
	cause error
}

// Detail is a single entry of Failure.Errors.
type Detail struct {
	ErrorCode string `json:"errorCode"`
	Message   string `json:"message"`
}

// New classifies err and builds the Failure for the action at address.
func New(address string, err error) *Failure {
	c := Classify(err)
	f := &Failure{
		Type:      "about:blank",
		Title:     http.StatusText(c.Status),
		Status:    c.Status,
		Detail:    c.Message,
		Instance:  address,
		ErrorCode: c.Code,
		class:     c,
		cause:     err,
	}

	var multi *domain.MultiError
	var verr *domain.ValidationError
	switch {
	case c.Kind == KindMulti && errors.As(err, &multi):
		f.Errors = multiDetails(multi)
	case c.Kind == KindValidation && errors.As(err, &verr):
		f.Errors = fieldDetails(verr)
	}
	return f
}

func multiDetails(multi *domain.MultiError) []Detail {
	details := make([]Detail, 0, len(multi.Errors))
	for _, member := range multi.Errors {
		mc := Classify(member)
		details = append(details, Detail{ErrorCode: mc.Code, Message: mc.Message})
	}
	return details
}

// fieldDetails converts validation fields to sorted Detail entries.
func fieldDetails(verr *domain.ValidationError) []Detail {
	if len(verr.Fields) == 0 {
		return nil
	}
	details := make([]Detail, 0, len(verr.Fields))
	for field, msg := range verr.Fields {
		details = append(details, Detail{
			ErrorCode: verr.ErrorCode(),
			Message:   field + ": " + msg,
		})
	}
	sort.Slice(details, func(i, j int) bool {
		return details[i].Message < details[j].Message
	})
	return details
}

// Kind returns the classified kind. Failures decoded from the wire are
// reclassified from their status.
func (f *Failure) Kind() Kind {
	if f.cause != nil {
		return f.class.Kind
	}
	return kindForStatus(f.Status)
}

// Classification returns the full classification of the original error.
func (f *Failure) Classification() Classification {
	return f.class
}

// Cause returns the original error, or nil for a decoded Failure.
func (f *Failure) Cause() error {
	return f.cause
}

// Error implements error so a Failure received from a peer can be returned
// as is.
func (f *Failure) Error() string {
	if f.Detail != "" {
		return f.Detail
	}
	return f.Title
}

// Encode renders the Failure as JSON.
func (f *Failure) Encode() ([]byte, error) {
	b, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("encoding failure: %w", err)
	}
	return b, nil
}

// Decode parses a Failure received from a peer.
func Decode(body []byte) (*Failure, error) {
	var f Failure
	if err := json.Unmarshal(body, &f); err != nil {
		return nil, fmt.Errorf("decoding failure: %w", err)
	}
	return &f, nil
}

func kindForStatus(status int) Kind {
	switch status {
	case http.StatusBadRequest:
		return KindValidation
	case http.StatusUnauthorized:
		return KindAuthentication
	case http.StatusForbidden:
		return KindAuthorization
	case http.StatusNotFound:
		return KindNotFound
	case http.StatusNotImplemented:
		return KindNotImplemented
	default:
		return KindSystem
	}
}
