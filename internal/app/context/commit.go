package appctx

import (
	"fmt"
	"log/slog"

	"github.com/jsamuelsen11/go-actionbus/internal/platform/logging"
)

// Commit runs the staged steps in order. When a step fails, the steps before
// it are rolled back in reverse order and the step's error is returned
// unchanged in meaning, so a constraint violation still classifies as one.
// Rollback failures are logged, not returned.
//
// Commit runs at most once per call; later calls return ErrAlreadyCommitted.
func (rc *RequestContext) Commit() error {
	rc.queueMu.Lock()
	if rc.committed {
		rc.queueMu.Unlock()
		return ErrAlreadyCommitted
	}
	rc.committed = true
	queue := rc.queue
	rc.queue = nil
	rc.queueMu.Unlock()

	logger := logging.FromContext(rc)
	for i, item := range queue {
		logger.DebugContext(rc, "executing staged write",
			slog.String("operation", "RequestContext.Commit"),
			slog.String("address", rc.operation),
			slog.Int("step", i+1),
			slog.Int("total", len(queue)),
			slog.String("action", item.description()),
		)

		if err := item.execute(rc); err != nil {
			logger.WarnContext(rc, "staged write failed, rolling back",
				slog.String("operation", "RequestContext.Commit"),
				slog.String("address", rc.operation),
				slog.Int("failed_step", i+1),
				slog.String("action", item.description()),
				slog.Any("error", err),
			)
			for j := i - 1; j >= 0; j-- {
				queue[j].rollback(rc)
			}
			return fmt.Errorf("executing %s: %w", item.description(), err)
		}
	}
	return nil
}
