package pushnotify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kazz187/taskforge/internal/event"
	"github.com/kazz187/taskforge/internal/eventbus"
)

// Pusher is the delivery half of the notifier. Satisfied by Sender.
type Pusher interface {
	SendToAll(ctx context.Context, payload *Payload)
}

// Notifier watches the event bus and turns confirmation requests into push
// notifications, so an operator away from the GUI still learns that a step
// is waiting on them.
type Notifier struct {
	bus    *eventbus.Bus
	pusher Pusher
}

func NewNotifier(bus *eventbus.Bus, pusher Pusher) *Notifier {
	return &Notifier{
		bus:    bus,
		pusher: pusher,
	}
}

// Run consumes bus events until ctx ends. A slow push service only delays
// this loop; publishers drop events for a full subscriber buffer rather
// than blocking, and the durable journal keeps the complete record.
func (n *Notifier) Run(ctx context.Context) {
	subID, ch := n.bus.Subscribe(256)
	defer n.bus.Unsubscribe(subID)

	slog.Info("push notifier started")
	for {
		select {
		case <-ctx.Done():
			slog.Info("push notifier stopped")
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if ev.Type == event.TypeConfirmationRequested {
				n.notify(ctx, ev)
			}
		}
	}
}

func (n *Notifier) notify(ctx context.Context, ev *event.ExecutionEvent) {
	body := ev.Message
	if tool := ev.Fields["tool"]; tool != "" && body == "" {
		body = fmt.Sprintf("a %s action is waiting for approval", tool)
	}
	n.pusher.SendToAll(ctx, &Payload{
		Title: "TaskForge: confirmation needed",
		Body:  body,
		URL:   "/tasks/" + ev.TaskID,
		Tag:   ev.Fields["confirmation_id"],
	})
}
