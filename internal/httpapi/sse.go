package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kazz187/taskforge/internal/event"
)

// streamEvents serves the live ExecutionEvent stream as server-sent events.
// Optional query filters: task_id, and type (repeatable). The stream ends
// when the client goes away or the server's base context is cancelled on
// shutdown; catch-up over missed events goes through the journal endpoint.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	subID, ch := s.bus.Subscribe(64)
	defer s.bus.Unsubscribe(subID)

	taskID := r.URL.Query().Get("task_id")
	typeFilter := make(map[event.Type]struct{})
	for _, t := range r.URL.Query()["type"] {
		typeFilter[event.Type(t)] = struct{}{}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if taskID != "" && ev.TaskID != taskID {
				continue
			}
			if len(typeFilter) > 0 {
				if _, match := typeFilter[ev.Type]; !match {
					continue
				}
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "id: %s\nevent: %s\ndata: %s\n\n", ev.ID, ev.Type, data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}
