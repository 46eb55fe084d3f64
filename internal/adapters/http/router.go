// Package http provides the HTTP-to-bus bridge: routing, server lifecycle,
// and the health and metrics endpoints served next to it.
package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/jsamuelsen11/go-actionbus/internal/adapters/http/handlers"
)

// DefaultMetricsPath is where Routes.Metrics is mounted when no path is set.
const DefaultMetricsPath = "/metrics"

// GraphQLPath is where Routes.GraphQL is mounted.
const GraphQLPath = "/graphql"

// Routes groups the handlers mounted by NewRouter. Metrics and GraphQL are
// optional.
type Routes struct {
	Actions     *handlers.ActionHandler
	Health      *handlers.HealthHandler
	Metrics     http.Handler
	MetricsPath string
	GraphQL     http.Handler
}

// NewRouter creates an HTTP handler with all application routes registered.
// Middleware is applied globally in the order given.
func NewRouter(routes Routes, middlewares ...func(http.Handler) http.Handler) http.Handler {
	r := chi.NewRouter()

	for _, mw := range middlewares {
		r.Use(mw)
	}

	// Health endpoints (outside /api/v1 prefix).
	r.Get("/health/live", routes.Health.Liveness)
	r.Get("/health/ready", routes.Health.Readiness)

	if routes.Metrics != nil {
		path := routes.MetricsPath
		if path == "" {
			path = DefaultMetricsPath
		}
		r.Method(http.MethodGet, path, routes.Metrics)
	}

	if routes.GraphQL != nil {
		r.Method(http.MethodGet, GraphQLPath, routes.GraphQL)
		r.Method(http.MethodPost, GraphQLPath, routes.GraphQL)
	}

	// API v1 routes.
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/actions", routes.Actions.List)
		r.Get("/actions/{"+handlers.AddressParam+"}", routes.Actions.Invoke)
		r.Post("/actions/{"+handlers.AddressParam+"}", routes.Actions.Invoke)
	})

	return r
}
