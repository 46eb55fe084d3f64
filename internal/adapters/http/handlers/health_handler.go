package handlers

import (
	"errors"
	"net/http"

	"github.com/jsamuelsen11/go-actionbus/internal/app/registry"
	"github.com/jsamuelsen11/go-actionbus/internal/ports"
)

const (
	statusOK       = "ok"
	statusReady    = "ready"
	statusNotReady = "not_ready"

	// actionsCheck is the readiness entry for the dispatch table.
	actionsCheck = "actions"
)

var errNoActions = errors.New("no actions registered")

// HealthHandler serves the liveness and readiness endpoints of the bridge.
type HealthHandler struct {
	checks  ports.HealthRegistry
	actions *registry.Registry
}

// HealthHandlerOption configures a HealthHandler.
type HealthHandlerOption func(*HealthHandler)

// WithActions makes readiness depend on reg: a bridge with an empty dispatch
// table has nothing to serve and reports not ready.
func WithActions(reg *registry.Registry) HealthHandlerOption {
	return func(h *HealthHandler) {
		h.actions = reg
	}
}

// NewHealthHandler creates a HealthHandler over the transport checks.
func NewHealthHandler(checks ports.HealthRegistry, opts ...HealthHandlerOption) *HealthHandler {
	h := &HealthHandler{checks: checks}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Liveness handles GET /health/live. Always returns 200 OK.
func (h *HealthHandler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": statusOK})
}

// Readiness handles GET /health/ready. It returns 503 when any transport
// check fails or, with WithActions, when no action is registered.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	results := h.checks.CheckAll(r.Context())
	if results == nil {
		results = make(map[string]error, 1)
	}
	if h.actions != nil {
		var err error
		if h.actions.Len() == 0 {
			err = errNoActions
		}
		results[actionsCheck] = err
	}

	checks := make(map[string]string, len(results))
	healthy := true
	for name, err := range results {
		if err != nil {
			checks[name] = err.Error()
			healthy = false
			continue
		}
		checks[name] = statusOK
	}

	body := map[string]any{"checks": checks}
	if h.actions != nil {
		body["actionCount"] = h.actions.Len()
	}

	code := http.StatusOK
	body["status"] = statusReady
	if !healthy {
		code = http.StatusServiceUnavailable
		body["status"] = statusNotReady
	}
	writeJSON(w, r, code, body)
}
