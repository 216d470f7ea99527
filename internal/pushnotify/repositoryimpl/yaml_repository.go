package repositoryimpl

import (
	"context"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/kazz187/taskforge/internal/pushnotify"
	"github.com/kazz187/taskforge/pkg/ferr"
	"github.com/kazz187/taskforge/pkg/storage"
)

const subscriptionsPrefix = "push_subscriptions"

type YAMLRepository struct {
	storage storage.Storage
}

func NewYAMLRepository(s storage.Storage) *YAMLRepository {
	return &YAMLRepository{storage: s}
}

func path(id string) string {
	return fmt.Sprintf("%s/%s.yaml", subscriptionsPrefix, id)
}

func (r *YAMLRepository) Create(ctx context.Context, sub *pushnotify.Subscription) error {
	exists, err := r.storage.Exists(ctx, path(sub.ID))
	if err != nil {
		return ferr.WrapStorageWriteError("push_subscription", err)
	}
	if exists {
		return ferr.NewError(ferr.AlreadyExists, "push subscription already exists", nil)
	}
	data, err := yaml.Marshal(sub)
	if err != nil {
		return ferr.NewError(ferr.Internal, "server error", fmt.Errorf("failed to marshal push subscription: %w", err))
	}
	if err := r.storage.Write(ctx, path(sub.ID), data); err != nil {
		return ferr.WrapStorageWriteError("push_subscription", err)
	}
	return nil
}

func (r *YAMLRepository) Get(ctx context.Context, id string) (*pushnotify.Subscription, error) {
	data, err := r.storage.Read(ctx, path(id))
	if err != nil {
		return nil, ferr.WrapStorageReadError("push_subscription", err)
	}
	var sub pushnotify.Subscription
	if err := yaml.Unmarshal(data, &sub); err != nil {
		return nil, ferr.NewError(ferr.Internal, "server error", fmt.Errorf("failed to unmarshal push subscription: %w", err))
	}
	return &sub, nil
}

func (r *YAMLRepository) List(ctx context.Context) ([]*pushnotify.Subscription, error) {
	paths, err := r.storage.List(ctx, subscriptionsPrefix)
	if err != nil {
		return nil, ferr.WrapStorageReadError("push_subscriptions", err)
	}

	sort.Strings(paths)

	var all []*pushnotify.Subscription
	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var sub pushnotify.Subscription
		if err := yaml.Unmarshal(data, &sub); err != nil {
			continue
		}
		all = append(all, &sub)
	}
	return all, nil
}

func (r *YAMLRepository) Delete(ctx context.Context, id string) error {
	if err := r.storage.Delete(ctx, path(id)); err != nil {
		return ferr.WrapStorageDeleteError("push_subscription", err)
	}
	return nil
}

func (r *YAMLRepository) FindByEndpoint(ctx context.Context, endpoint string) (*pushnotify.Subscription, error) {
	paths, err := r.storage.List(ctx, subscriptionsPrefix)
	if err != nil {
		return nil, ferr.WrapStorageReadError("push_subscriptions", err)
	}

	for _, p := range paths {
		data, err := r.storage.Read(ctx, p)
		if err != nil {
			continue
		}
		var sub pushnotify.Subscription
		if err := yaml.Unmarshal(data, &sub); err != nil {
			continue
		}
		if sub.Endpoint == endpoint {
			return &sub, nil
		}
	}
	return nil, ferr.NewError(ferr.NotFound, "push subscription not found", nil)
}
