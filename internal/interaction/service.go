package interaction

import (
	"context"
	"time"

	"github.com/kazz187/taskforge/internal/event"
	"github.com/kazz187/taskforge/pkg/ferr"
)

// Service owns the confirmation lifecycle: the orchestrator requests one
// before a gated action runs, an operator resolves it, and the waiting
// goroutine picks the decision up through the registered channel.
type Service struct {
	repo     Repository
	recorder *event.Recorder
	waiter   *waiter
}

func NewService(repo Repository, recorder *event.Recorder) *Service {
	return &Service{
		repo:     repo,
		recorder: recorder,
		waiter:   newWaiter(),
	}
}

// Request persists a pending confirmation and returns the channel its
// resolution will arrive on.
func (s *Service) Request(ctx context.Context, c *Confirmation) (<-chan *Confirmation, error) {
	if err := s.repo.Create(ctx, c); err != nil {
		return nil, err
	}
	ch := s.waiter.register(c.ID)
	s.recorder.Record(ctx, event.New(event.TypeConfirmationRequested, c.TaskID).
		WithStep(c.StepID).
		WithMessage(c.Description).
		WithField("confirmation_id", c.ID).
		WithField("tool", c.Tool))
	return ch, nil
}

// Resolve applies an operator decision to a pending confirmation and wakes
// the waiter. Resolving twice is a conflict.
func (s *Service) Resolve(ctx context.Context, id string, approve bool, reason string) (*Confirmation, error) {
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status.Resolved() {
		return nil, ferr.NewError(ferr.Conflict, "confirmation is already resolved", nil)
	}

	c.Status = StatusApproved
	if !approve {
		c.Status = StatusRejected
	}
	c.Reason = reason
	now := time.Now().UTC()
	c.ResolvedAt = &now

	if err := s.repo.Update(ctx, c); err != nil {
		return nil, err
	}
	s.recorder.Record(ctx, event.New(event.TypeConfirmationResolved, c.TaskID).
		WithStep(c.StepID).
		WithMessage(string(c.Status)).
		WithField("confirmation_id", c.ID).
		WithField("tool", c.Tool))
	s.waiter.deliver(c)
	return c, nil
}

// Get returns a confirmation by id.
func (s *Service) Get(ctx context.Context, id string) (*Confirmation, error) {
	return s.repo.Get(ctx, id)
}

// ListByTask returns a task's confirmations in creation order.
func (s *Service) ListByTask(ctx context.Context, taskID string) ([]*Confirmation, error) {
	return s.repo.ListByTask(ctx, taskID)
}

// ExpirePending expires every pending confirmation of a task. Cancellation
// runs this so no waiter is left holding a gate that can never open.
func (s *Service) ExpirePending(ctx context.Context, taskID string) (int, error) {
	list, err := s.repo.ListByTask(ctx, taskID)
	if err != nil {
		return 0, err
	}
	expired := 0
	now := time.Now().UTC()
	for _, c := range list {
		if c.Status != StatusPending {
			continue
		}
		c.Status = StatusExpired
		c.Reason = "task cancelled"
		resolvedAt := now
		c.ResolvedAt = &resolvedAt
		if err := s.repo.Update(ctx, c); err != nil {
			return expired, err
		}
		s.recorder.Record(ctx, event.New(event.TypeConfirmationResolved, c.TaskID).
			WithStep(c.StepID).
			WithMessage(string(StatusExpired)).
			WithField("confirmation_id", c.ID).
			WithField("tool", c.Tool))
		// A registered waiter gets the expiry through its buffered channel;
		// nobody will register for a cancelled task afterwards, so drop any
		// buffered leftover instead of keeping it.
		s.waiter.deliver(c)
		s.waiter.unregister(c.ID)
		expired++
	}
	return expired, nil
}

// Await blocks until the confirmation resolves or the context ends.
func (s *Service) Await(ctx context.Context, ch <-chan *Confirmation, id string) (*Confirmation, error) {
	select {
	case c := <-ch:
		return c, nil
	case <-ctx.Done():
		s.waiter.unregister(id)
		return nil, ferr.NewError(ferr.Cancelled, "confirmation wait cancelled", ctx.Err())
	}
}
