package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/taskforge/internal/interaction"
	"github.com/kazz187/taskforge/pkg/ferr"
	"github.com/kazz187/taskforge/pkg/storage"
)

const confirmationsPrefix = "confirmations"

// YAMLRepository persists each confirmation as one YAML document.
type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", confirmationsPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, c *interaction.Confirmation) error {
	exists, err := r.storage.Exists(ctx, path(c.ID))
	if err != nil {
		return ferr.WrapStorageWriteError("confirmation", err)
	}
	if exists {
		return ferr.NewError(ferr.AlreadyExists, "confirmation already exists", nil)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return ferr.NewError(ferr.Internal, "server error", fmt.Errorf("failed to marshal confirmation: %w", err))
	}
	if err := r.storage.Write(ctx, path(c.ID), data); err != nil {
		return ferr.WrapStorageWriteError("confirmation", err)
	}
	return nil
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*interaction.Confirmation, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, ferr.WrapStorageReadError("confirmation", err)
	}
	var c interaction.Confirmation
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, ferr.NewError(ferr.Internal, "server error", fmt.Errorf("failed to unmarshal confirmation: %w", err))
	}
	return &c, nil
}

func (r *YAMLRepository) Update(ctx context.Context, c *interaction.Confirmation) error {
	exists, err := r.storage.Exists(ctx, path(c.ID))
	if err != nil {
		return ferr.WrapStorageWriteError("confirmation", err)
	}
	if !exists {
		return ferr.NewError(ferr.NotFound, "confirmation not found", nil)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return ferr.NewError(ferr.Internal, "server error", fmt.Errorf("failed to marshal confirmation: %w", err))
	}
	if err := r.storage.Write(ctx, path(c.ID), data); err != nil {
		return ferr.WrapStorageWriteError("confirmation", err)
	}
	return nil
}

// ListByTask scans the prefix; ULID file names keep the result in creation
// order after the sort.
func (r *YAMLRepository) ListByTask(ctx context.Context, taskID string) ([]*interaction.Confirmation, error) {
	paths, err := r.storage.List(ctx, confirmationsPrefix)
	if err != nil {
		return nil, ferr.WrapStorageReadError("confirmations", err)
	}

	sort.Strings(paths)

	var out []*interaction.Confirmation
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var c interaction.Confirmation
		if err := yaml.Unmarshal(data, &c); err != nil {
			continue
		}
		if taskID != "" && c.TaskID != taskID {
			continue
		}
		out = append(out, &c)
	}
	return out, nil
}
