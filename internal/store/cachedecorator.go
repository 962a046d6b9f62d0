package store

import (
	"context"
	"fmt"
	"time"

	"hyperion-taskctl/internal/cache"
	"hyperion-taskctl/internal/models"
)

// defaultEntryTTL bounds how long a cached Get result is trusted before the
// next call falls through to the underlying repository again.
const defaultEntryTTL = 30 * time.Second

// CacheBackedDecorator implements CacheDecorator over a shared
// *cache.Cache, grounded on the multi-level cache's pattern-invalidation
// and cascade hooks (spec.md §4.5 / §4.8's "cache_enabled" switch).
type CacheBackedDecorator struct {
	Cache *cache.Cache
}

func NewCacheBackedDecorator(c *cache.Cache) *CacheBackedDecorator {
	return &CacheBackedDecorator{Cache: c}
}

func (d *CacheBackedDecorator) WrapTasks(inner TaskRepository) TaskRepository {
	return &cachedTaskRepository{inner: inner, cache: d.Cache}
}

func (d *CacheBackedDecorator) WrapContexts(inner ContextRepository) ContextRepository {
	return &cachedContextRepository{inner: inner, cache: d.Cache}
}

type cachedTaskRepository struct {
	inner  TaskRepository
	cache  *cache.Cache
	userID string
}

func taskCacheKey(userID, id string) string {
	return fmt.Sprintf("task:%s:%s", userID, id)
}

func (r *cachedTaskRepository) WithUser(userID string) TaskRepository {
	return &cachedTaskRepository{inner: r.inner.WithUser(userID), cache: r.cache, userID: userID}
}

func (r *cachedTaskRepository) Get(ctx context.Context, id string) (*models.Task, error) {
	key := taskCacheKey(r.userID, id)
	if v, ok := r.cache.Get(key); ok {
		return v.(*models.Task), nil
	}
	t, err := r.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cache.Put(key, t, defaultEntryTTL)
	return t, nil
}

func (r *cachedTaskRepository) Create(ctx context.Context, t *models.Task) (*models.Task, error) {
	created, err := r.inner.Create(ctx, t)
	if err == nil {
		r.cache.Put(taskCacheKey(r.userID, created.ID), created, defaultEntryTTL)
	}
	return created, err
}

func (r *cachedTaskRepository) Update(ctx context.Context, id string, mutate func(*models.Task) error) (*models.Task, error) {
	updated, err := r.inner.Update(ctx, id, mutate)
	if err == nil {
		r.cache.Put(taskCacheKey(r.userID, id), updated, defaultEntryTTL)
	}
	return updated, err
}

func (r *cachedTaskRepository) Delete(ctx context.Context, id string) error {
	err := r.inner.Delete(ctx, id)
	if err == nil {
		r.cache.Invalidate(taskCacheKey(r.userID, id))
	}
	return err
}

func (r *cachedTaskRepository) List(ctx context.Context, filter ListFilter) ([]*models.Task, error) {
	return r.inner.List(ctx, filter)
}

func (r *cachedTaskRepository) Search(ctx context.Context, query string, limit int) ([]*models.Task, error) {
	return r.inner.Search(ctx, query, limit)
}

type cachedContextRepository struct {
	inner  ContextRepository
	cache  *cache.Cache
	userID string
}

func contextCacheKey(userID, id string) string {
	return fmt.Sprintf("context:%s:%s", userID, id)
}

func (r *cachedContextRepository) WithUser(userID string) ContextRepository {
	return &cachedContextRepository{inner: r.inner.WithUser(userID), cache: r.cache, userID: userID}
}

func (r *cachedContextRepository) Get(ctx context.Context, id string) (*models.Context, error) {
	key := contextCacheKey(r.userID, id)
	if v, ok := r.cache.Get(key); ok {
		return v.(*models.Context), nil
	}
	c, err := r.inner.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	r.cache.Put(key, c, defaultEntryTTL)
	return c, nil
}

func (r *cachedContextRepository) Create(ctx context.Context, c *models.Context) (*models.Context, error) {
	created, err := r.inner.Create(ctx, c)
	if err == nil {
		r.cache.Put(contextCacheKey(r.userID, created.ID), created, defaultEntryTTL)
	}
	return created, err
}

func (r *cachedContextRepository) Update(ctx context.Context, id string, mutate func(*models.Context) error) (*models.Context, error) {
	updated, err := r.inner.Update(ctx, id, mutate)
	if err == nil {
		r.cache.Invalidate(contextCacheKey(r.userID, id))
		r.cache.Put(contextCacheKey(r.userID, id), updated, defaultEntryTTL)
	}
	return updated, err
}

func (r *cachedContextRepository) Delete(ctx context.Context, id string) error {
	err := r.inner.Delete(ctx, id)
	if err == nil {
		r.cache.Invalidate(contextCacheKey(r.userID, id))
	}
	return err
}

func (r *cachedContextRepository) List(ctx context.Context) ([]*models.Context, error) {
	return r.inner.List(ctx)
}
