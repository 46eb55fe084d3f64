// Package handlers implements the HTTP endpoints of the bridge: forwarding a
// request onto the bus, listing registered actions, and health probes.
package handlers

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/jsamuelsen11/go-actionbus/internal/adapters/bus"
	"github.com/jsamuelsen11/go-actionbus/internal/adapters/http/dto"
	appctx "github.com/jsamuelsen11/go-actionbus/internal/app/context"
	"github.com/jsamuelsen11/go-actionbus/internal/app/registry"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/correlation"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/logging"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/telemetry"
	"github.com/jsamuelsen11/go-actionbus/internal/ports"
)

// AddressParam is the chi URL parameter holding the action address.
const AddressParam = "address"

const (
	defaultSendTimeout = 30 * time.Second
	defaultMaxTimeout  = 60 * time.Second
)

// ActionHandler bridges HTTP requests onto the action bus.
type ActionHandler struct {
	requester   ports.ActionRequester
	propagator  *telemetry.Propagator
	actions     []*registry.Action
	sendTimeout time.Duration
	maxTimeout  time.Duration
	trustIDs    bool
}

// ActionHandlerOption configures an ActionHandler.
type ActionHandlerOption func(*ActionHandler)

// WithTimeouts sets the default send timeout and the ceiling a caller's
// timeout override is capped at.
func WithTimeouts(send, maxTimeout time.Duration) ActionHandlerOption {
	return func(h *ActionHandler) {
		if send > 0 {
			h.sendTimeout = send
		}
		if maxTimeout > 0 {
			h.maxTimeout = maxTimeout
		}
	}
}

// WithTrustedIdentity forwards the caller's x-subject-id and x-subject-roles
// headers to the action. Use it only behind a proxy that authenticates the
// caller and overwrites those headers; without it they are dropped.
func WithTrustedIdentity() ActionHandlerOption {
	return func(h *ActionHandler) {
		h.trustIDs = true
	}
}

// WithCatalog exposes the actions of reg through List.
func WithCatalog(reg *registry.Registry) ActionHandlerOption {
	return func(h *ActionHandler) {
		h.actions = reg.Actions()
	}
}

// NewActionHandler creates an ActionHandler sending through requester. The
// propagator injects the request's span into every forwarded message.
func NewActionHandler(requester ports.ActionRequester, p *telemetry.Propagator, opts ...ActionHandlerOption) *ActionHandler {
	h := &ActionHandler{
		requester:   requester,
		propagator:  p,
		sendTimeout: defaultSendTimeout,
		maxTimeout:  defaultMaxTimeout,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Invoke handles POST and GET /api/v1/actions/{address}. The request headers
// and body become the bus message; the reply's x-status-code header becomes
// the HTTP status and its other headers are copied onto the response.
func (h *ActionHandler) Invoke(w http.ResponseWriter, r *http.Request) {
	addr, err := parseAddress(chi.URLParam(r, AddressParam))
	if err != nil {
		dto.WriteErrorResponse(w, r, err)
		return
	}

	override, err := dto.ParseTimeout(r.URL.Query().Get(dto.TimeoutParam))
	if err != nil {
		dto.WriteErrorResponse(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		dto.WriteErrorResponse(w, r, fmt.Errorf("reading request body: %w", err))
		return
	}

	msg := &ports.Message{Headers: h.outboundHeaders(r), Body: body}

	timeout := dto.EffectiveTimeout(override, h.sendTimeout, h.maxTimeout)
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	reply, err := h.requester.Request(ctx, string(addr), msg)
	if err != nil {
		logging.FromContext(r.Context()).WarnContext(r.Context(), "bus request failed",
			slog.String("operation", "ActionHandler.Invoke"),
			slog.String("address", string(addr)),
			slog.Duration("timeout", timeout),
			slog.Any("error", err),
		)
		dto.WriteErrorResponse(w, r, err)
		return
	}

	writeReply(w, r, reply)
}

// List handles GET /api/v1/actions.
func (h *ActionHandler) List(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, dto.ToActionListResponse(h.actions))
}

// outboundHeaders builds the message headers: the inbound HTTP headers, the
// request and correlation IDs, and the carrier of the request's span.
// Identity headers pass only with WithTrustedIdentity.
func (h *ActionHandler) outboundHeaders(r *http.Request) map[string]string {
	headers := messageHeaders(r.Header)
	if !h.trustIDs {
		appctx.StripIdentity(headers)
	}
	maps.Copy(headers, correlation.Headers(r.Context()))
	maps.Copy(headers, h.propagator.Inject(r.Context(), nil))
	return headers
}

func writeReply(w http.ResponseWriter, r *http.Request, reply *ports.Message) {
	for k, v := range reply.Headers {
		if k == bus.HeaderStatusCode {
			continue
		}
		w.Header().Set(k, v)
	}
	w.WriteHeader(bus.Status(reply))
	if len(reply.Body) > 0 {
		if _, err := w.Write(reply.Body); err != nil {
			logging.FromContext(r.Context()).ErrorContext(r.Context(), "failed to write reply body",
				slog.String("operation", "ActionHandler.Invoke"),
				slog.Any("error", err),
			)
		}
	}
}
