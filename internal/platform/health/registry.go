// Package health provides a thread-safe health check registry for the
// components the service depends on: the NATS connection and the remote
// action peer. The readiness endpoint uses it to decide whether the service
// can accept traffic.
package health

import (
	"context"
	"sync"

	"github.com/jsamuelsen11/go-actionbus/internal/platform/fanout"
	"github.com/jsamuelsen11/go-actionbus/internal/ports"
)

// maxConcurrentChecks bounds how many checks a single probe runs at once.
const maxConcurrentChecks = 8

// Compile-time interface check.
var _ ports.HealthRegistry = (*Registry)(nil)

// Registry is a thread-safe implementation of [ports.HealthRegistry].
// Components that implement [ports.HealthChecker] are registered at startup
// and checked on each readiness probe.
type Registry struct {
	mu       sync.RWMutex
	checkers []ports.HealthChecker
}

// New creates an empty health check registry.
func New() *Registry {
	return &Registry{}
}

// Register adds a health checker to the registry. Safe for concurrent use.
func (r *Registry) Register(checker ports.HealthChecker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers = append(r.checkers, checker)
}

// CheckAll runs all registered health checks concurrently and returns results
// keyed by checker name. Nil values indicate healthy components. Checks run
// without holding the lock.
func (r *Registry) CheckAll(ctx context.Context) map[string]error {
	r.mu.RLock()
	checkers := make([]ports.HealthChecker, len(r.checkers))
	copy(checkers, r.checkers)
	r.mu.RUnlock()

	outcomes := fanout.Run(ctx, maxConcurrentChecks, checkers, func(ctx context.Context, c ports.HealthChecker) (struct{}, error) {
		return struct{}{}, c.HealthCheck(ctx)
	})

	results := make(map[string]error, len(checkers))
	for i, c := range checkers {
		results[c.Name()] = outcomes[i].Err
	}
	return results
}
