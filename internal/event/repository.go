package event

import "context"

// Repository is the durable journal behind the live bus. Events are never
// updated or deleted.
type Repository interface {
	Append(ctx context.Context, ev *ExecutionEvent) error
	ListByTask(ctx context.Context, taskID string) ([]*ExecutionEvent, error)
}
