package eventbus

import (
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/kazz187/taskforge/internal/event"
)

// Bus is the in-process fan-out for ExecutionEvents. Delivery is
// best-effort: a subscriber with a full buffer misses the event rather
// than blocking the publisher (the durable journal is the source of
// truth for complete history).
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]chan *event.ExecutionEvent
}

func New() *Bus {
	return &Bus{
		subscribers: make(map[string]chan *event.ExecutionEvent),
	}
}

func (b *Bus) Subscribe(bufSize int) (string, <-chan *event.ExecutionEvent) {
	id := ulid.Make().String()
	ch := make(chan *event.ExecutionEvent, bufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	if ch, ok := b.subscribers[id]; ok {
		close(ch)
		delete(b.subscribers, id)
	}
	b.mu.Unlock()
}

func (b *Bus) Publish(ev *event.ExecutionEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- ev:
		default:
			// buffer full, drop event for this subscriber
		}
	}
}
