package domain

import "context"

// Action is a write staged by a handler and executed when the call commits.
// Rollback reverses a successful Execute and is only called after one.
type Action interface {
	Execute(ctx context.Context) error
	Rollback(ctx context.Context) error

	// Description names the write in logs, e.g. "insert order 12".
	Description() string
}
