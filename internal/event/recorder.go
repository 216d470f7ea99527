package event

import (
	"context"
	"log/slog"
)

// Publisher broadcasts an event to live subscribers. Satisfied by
// eventbus.Bus.
type Publisher interface {
	Publish(ev *ExecutionEvent)
}

// Recorder couples the durable journal with the live bus: every event is
// journaled first, then broadcast. A journal failure is logged but does
// not block the broadcast, so observers stay live even when storage
// degrades.
type Recorder struct {
	repo Repository
	pub  Publisher
}

func NewRecorder(repo Repository, pub Publisher) *Recorder {
	return &Recorder{
		repo: repo,
		pub:  pub,
	}
}

func (r *Recorder) Record(ctx context.Context, ev *ExecutionEvent) {
	if err := r.repo.Append(ctx, ev); err != nil {
		slog.Error("failed to journal event", "event_id", ev.ID, "type", ev.Type, "error", err)
	}
	r.pub.Publish(ev)
}

func (r *Recorder) History(ctx context.Context, taskID string) ([]*ExecutionEvent, error) {
	return r.repo.ListByTask(ctx, taskID)
}
