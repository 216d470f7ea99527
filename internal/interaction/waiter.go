package interaction

import "sync"

// waiter dispatches resolved confirmations to the goroutines blocked on
// them. Resolutions that arrive before anyone registers are buffered, so
// the race between creating a confirmation and waiting on it is harmless.
type waiter struct {
	mu      sync.Mutex
	waiters map[string]chan *Confirmation
	pending map[string]*Confirmation
}

func newWaiter() *waiter {
	return &waiter{
		waiters: make(map[string]chan *Confirmation),
		pending: make(map[string]*Confirmation),
	}
}

// register returns a channel that receives the resolved confirmation. A
// resolution that already arrived is delivered immediately.
func (w *waiter) register(id string) <-chan *Confirmation {
	w.mu.Lock()
	defer w.mu.Unlock()

	ch := make(chan *Confirmation, 1)
	if c, ok := w.pending[id]; ok {
		ch <- c
		delete(w.pending, id)
	} else {
		w.waiters[id] = ch
	}
	return ch
}

func (w *waiter) unregister(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.waiters, id)
	delete(w.pending, id)
}

// deliver hands a resolution to its waiter, or buffers it until one shows
// up.
func (w *waiter) deliver(c *Confirmation) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if ch, ok := w.waiters[c.ID]; ok {
		ch <- c
		delete(w.waiters, c.ID)
	} else {
		w.pending[c.ID] = c
	}
}
