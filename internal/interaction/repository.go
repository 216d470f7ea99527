package interaction

import "context"

type Repository interface {
	Create(ctx context.Context, c *Confirmation) error
	Get(ctx context.Context, id string) (*Confirmation, error)
	Update(ctx context.Context, c *Confirmation) error
	// ListByTask returns the task's confirmations in creation order.
	ListByTask(ctx context.Context, taskID string) ([]*Confirmation, error)
}
