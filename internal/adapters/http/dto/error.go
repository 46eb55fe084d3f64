package dto

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"

	"github.com/jsamuelsen11/go-actionbus/internal/domain"
	"github.com/jsamuelsen11/go-actionbus/internal/ports"
)

// ErrRateLimited is returned to callers that exceeded their request budget.
var ErrRateLimited = errors.New("rate limit exceeded")

// Error codes for failures raised by the bridge itself rather than by an
// action.
const (
	CodeNoHandler    = "NO_HANDLER"
	CodeTimeout      = "TIMEOUT"
	CodeUnavailable  = "UNAVAILABLE"
	CodeRateLimited  = "RATE_LIMITED"
	CodeBodyTooLarge = "BODY_TOO_LARGE"
)

// ErrorResponse represents an RFC 9457 Problem Details response.
type ErrorResponse struct {
	Type      string        `json:"type"`
	Title     string        `json:"title"`
	Status    int           `json:"status"`
	Detail    string        `json:"detail,omitempty"`
	Instance  string        `json:"instance,omitempty"`
	ErrorCode string        `json:"errorCode,omitempty"`
	Errors    []ErrorDetail `json:"errors,omitempty"`
}

// ErrorDetail represents a single field-level validation error within
// an ErrorResponse.
type ErrorDetail struct {
	Location string `json:"location"`
	Message  string `json:"message"`
}

// NewErrorResponse creates an RFC 9457 ErrorResponse for an error raised
// while bridging the request. Failures produced by actions never pass through
// here; their problem body is relayed from the reply unchanged.
func NewErrorResponse(r *http.Request, err error) ErrorResponse {
	status, code := errorToStatus(err)

	detail := err.Error()
	if status == http.StatusInternalServerError {
		detail = ""
	}

	resp := ErrorResponse{
		Type:      "about:blank",
		Title:     http.StatusText(status),
		Status:    status,
		Detail:    detail,
		Instance:  r.RequestURI,
		ErrorCode: code,
	}

	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		resp.Errors = validationFieldsToDetails(verr.Fields)
	}

	return resp
}

// WriteErrorResponse writes an RFC 9457 error response for err. It sets the
// Content-Type to application/problem+json, writes the mapped HTTP status
// code, and marshals the error body as JSON.
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, err error) {
	resp := NewErrorResponse(r, err)

	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(resp.Status)

	if encErr := json.NewEncoder(w).Encode(resp); encErr != nil {
		slog.ErrorContext(r.Context(), "failed to encode error response",
			slog.Any("error", encErr),
		)
	}
}

// errorToStatus maps transport and domain sentinel errors to an HTTP status
// and error code.
func errorToStatus(err error) (int, string) {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge, CodeBodyTooLarge
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, domain.CodeValidation
	case errors.Is(err, ports.ErrNoHandler), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, CodeNoHandler
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests, CodeRateLimited
	case errors.Is(err, ports.ErrTimeout):
		return http.StatusGatewayTimeout, CodeTimeout
	case errors.Is(err, ports.ErrUnavailable):
		return http.StatusBadGateway, CodeUnavailable
	default:
		return http.StatusInternalServerError, ""
	}
}

// validationFieldsToDetails converts domain validation fields to sorted
// ErrorDetail entries.
func validationFieldsToDetails(fields map[string]string) []ErrorDetail {
	details := make([]ErrorDetail, 0, len(fields))
	for field, msg := range fields {
		details = append(details, ErrorDetail{
			Location: field,
			Message:  msg,
		})
	}
	sort.Slice(details, func(i, j int) bool {
		return details[i].Location < details[j].Location
	})
	return details
}
