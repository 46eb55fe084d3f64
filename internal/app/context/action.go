package appctx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jsamuelsen11/go-actionbus/internal/domain"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/fanout"
	"github.com/jsamuelsen11/go-actionbus/internal/platform/logging"
)

var (
	// ErrNilAction is returned when a nil domain.Action is staged.
	ErrNilAction = errors.New("appctx: nil action")

	// ErrAlreadyCommitted is returned when staging on, or committing, a call
	// whose staged writes have already been committed.
	ErrAlreadyCommitted = errors.New("appctx: already committed")
)

// staged is one entry of the commit queue: a single action or a group.
type staged interface {
	execute(ctx context.Context) error
	rollback(ctx context.Context)
	description() string
}

type single struct {
	action domain.Action
}

func (s single) execute(ctx context.Context) error { return s.action.Execute(ctx) }
func (s single) description() string               { return s.action.Description() }

func (s single) rollback(ctx context.Context) {
	if err := s.action.Rollback(ctx); err != nil {
		logRollbackFailure(ctx, s.action, err)
	}
}

// group runs its actions concurrently. The first failure cancels the others;
// members that completed are rolled back in reverse order.
type group struct {
	actions   []domain.Action
	completed []domain.Action
}

func (g *group) execute(ctx context.Context) error {
	groupCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := fanout.Run(groupCtx, len(g.actions), g.actions, func(ctx context.Context, a domain.Action) (struct{}, error) {
		err := a.Execute(ctx)
		if err != nil {
			cancel()
		}
		return struct{}{}, err
	})

	g.completed = g.completed[:0]
	var firstErr error
	for i, r := range results {
		switch {
		case r.Err == nil:
			g.completed = append(g.completed, g.actions[i])
		case firstErr == nil && !errors.Is(r.Err, context.Canceled):
			firstErr = r.Err
		}
	}
	if firstErr == nil && len(g.completed) < len(g.actions) {
		firstErr = ctx.Err()
		if firstErr == nil {
			firstErr = context.Canceled
		}
	}

	if firstErr != nil {
		g.rollback(ctx)
		return firstErr
	}
	return nil
}

func (g *group) rollback(ctx context.Context) {
	for i := len(g.completed) - 1; i >= 0; i-- {
		if err := g.completed[i].Rollback(ctx); err != nil {
			logRollbackFailure(ctx, g.completed[i], err)
		}
	}
	g.completed = nil
}

func (g *group) description() string {
	switch len(g.actions) {
	case 1:
		return g.actions[0].Description()
	default:
		return fmt.Sprintf("group of %d (%s, ...)", len(g.actions), g.actions[0].Description())
	}
}

func logRollbackFailure(ctx context.Context, a domain.Action, err error) {
	logging.FromContext(ctx).ErrorContext(ctx, "rollback failed",
		slog.String("operation", "RequestContext.Commit"),
		slog.String("action", a.Description()),
		slog.Any("error", err),
	)
}

// AddAction stages a write for Commit. Staging is safe for concurrent use,
// so continuations running on other goroutines may stage too.
func (rc *RequestContext) AddAction(action domain.Action) error {
	if action == nil {
		return ErrNilAction
	}
	return rc.stage(single{action: action})
}

// AddGroup stages actions that Commit runs concurrently as one step.
func (rc *RequestContext) AddGroup(actions ...domain.Action) error {
	if len(actions) == 0 {
		return nil
	}
	for _, a := range actions {
		if a == nil {
			return ErrNilAction
		}
	}
	return rc.stage(&group{actions: actions})
}

func (rc *RequestContext) stage(item staged) error {
	rc.queueMu.Lock()
	defer rc.queueMu.Unlock()

	if rc.committed {
		return ErrAlreadyCommitted
	}
	rc.queue = append(rc.queue, item)
	return nil
}

// Staged returns the number of queued steps not yet committed.
func (rc *RequestContext) Staged() int {
	rc.queueMu.Lock()
	defer rc.queueMu.Unlock()
	return len(rc.queue)
}
