package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/taskforge/internal/event"
	"github.com/kazz187/taskforge/pkg/ferr"
	"github.com/kazz187/taskforge/pkg/storage"
)

const eventsPrefix = "events"

// YAMLRepository journals one YAML file per event under
// events/<task_id>/<event_id>.yaml. ULID file names keep a directory
// listing in emission order.
type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(taskID, eventID string) string {
	return fmt.Sprintf("%s/%s/%s.yaml", eventsPrefix, taskID, eventID)
}

func (r *YAMLRepository) Append(ctx context.Context, ev *event.ExecutionEvent) error {
	data, err := yaml.Marshal(ev)
	if err != nil {
		return ferr.NewError(ferr.Internal, "server error", fmt.Errorf("failed to marshal event: %w", err))
	}
	if err := r.storage.Write(ctx, path(ev.TaskID, ev.ID), data); err != nil {
		return ferr.WrapStorageWriteError("event", err)
	}
	return nil
}

func (r *YAMLRepository) ListByTask(ctx context.Context, taskID string) ([]*event.ExecutionEvent, error) {
	paths, err := r.storage.List(ctx, fmt.Sprintf("%s/%s", eventsPrefix, taskID))
	if err != nil {
		return nil, ferr.WrapStorageReadError("events", err)
	}

	sort.Strings(paths)

	events := make([]*event.ExecutionEvent, 0, len(paths))
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var ev event.ExecutionEvent
		if err := yaml.Unmarshal(data, &ev); err != nil {
			continue
		}
		events = append(events, &ev)
	}
	return events, nil
}
