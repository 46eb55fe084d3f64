package graphql

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	gql "github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"

	appctx "github.com/jsamuelsen11/go-actionbus/internal/app/context"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/correlation"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/logging"
)

// maxQueryBytes bounds the size of a GraphQL request body (1 MB).
const maxQueryBytes = 1 << 20

// Request is a GraphQL-over-HTTP request body.
type Request struct {
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables,omitempty"`
	OperationName string         `json:"operationName,omitempty"`
}

// Handler serves GraphQL over HTTP: POST with a JSON body, or GET with the
// query in the "query" parameter. Request headers are forwarded to every
// field's action.
type Handler struct {
	schema   gql.Schema
	trustIDs bool
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithTrustedIdentity forwards the caller's x-subject-id and x-subject-roles
// headers to field actions. Use it only behind a proxy that authenticates the
// caller and overwrites those headers; without it they are dropped.
func WithTrustedIdentity() HandlerOption {
	return func(h *Handler) {
		h.trustIDs = true
	}
}

// NewHandler creates a Handler executing against schema.
func NewHandler(schema gql.Schema, opts ...HandlerOption) *Handler {
	h := &Handler{schema: schema}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req Request
	switch r.Method {
	case http.MethodGet:
		req.Query = r.URL.Query().Get("query")
		req.OperationName = r.URL.Query().Get("operationName")
	case http.MethodPost:
		r.Body = http.MaxBytesReader(w, r.Body, maxQueryBytes)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeResult(w, r, http.StatusBadRequest, errorResult("request body must be a JSON GraphQL request"))
			return
		}
	default:
		w.Header().Set("Allow", "GET, POST")
		writeResult(w, r, http.StatusMethodNotAllowed, errorResult("method not allowed"))
		return
	}

	if strings.TrimSpace(req.Query) == "" {
		writeResult(w, r, http.StatusBadRequest, errorResult("query is required"))
		return
	}

	headers := make(map[string]string, len(r.Header)+2)
	for k, vals := range r.Header {
		headers[strings.ToLower(k)] = strings.Join(vals, ",")
	}
	if !h.trustIDs {
		appctx.StripIdentity(headers)
	}
	for k, v := range correlation.Headers(r.Context()) {
		headers[k] = v
	}

	res := gql.Do(gql.Params{
		Schema:         h.schema,
		RequestString:  req.Query,
		VariableValues: req.Variables,
		OperationName:  req.OperationName,
		Context:        WithHeaders(r.Context(), headers),
	})

	writeResult(w, r, http.StatusOK, res)
}

func errorResult(msg string) *gql.Result {
	return &gql.Result{Errors: []gqlerrors.FormattedError{{Message: msg}}}
}

func writeResult(w http.ResponseWriter, r *http.Request, status int, res *gql.Result) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		logging.FromContext(r.Context()).ErrorContext(r.Context(), "failed to encode graphql result",
			slog.String("operation", "Handler.ServeHTTP"),
			slog.Any("error", err),
		)
	}
}
