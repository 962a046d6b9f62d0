package store_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"hyperion-taskctl/internal/cache"
	"hyperion-taskctl/internal/models"
	"hyperion-taskctl/internal/store"
	"hyperion-taskctl/internal/store/memstore"
)

func backendFrom(ms *memstore.Store) store.Backend {
	return store.Backend{
		Tasks:    ms.Tasks(),
		Subtasks: ms.Subtasks(),
		Projects: ms.Projects(),
		Branches: ms.Branches(),
		Contexts: ms.Contexts,
		Tokens:   ms.ApiTokens(),
	}
}

func TestFactoryReturnsTestBackendInTestEnvironment(t *testing.T) {
	testBackend := backendFrom(memstore.New())
	realBackend := backendFrom(memstore.New())
	f := store.NewFactory(store.EnvTest, testBackend, realBackend)

	got := f.Backend()
	assert.Same(t, testBackend.Tasks, got.Tasks)
}

func TestFactoryReturnsRealBackendInProduction(t *testing.T) {
	testBackend := backendFrom(memstore.New())
	realBackend := backendFrom(memstore.New())
	f := store.NewFactory(store.EnvProduction, testBackend, realBackend)

	got := f.Backend()
	assert.Same(t, realBackend.Tasks, got.Tasks)
}

func TestFactoryWithCacheWrapsTaskReads(t *testing.T) {
	real := memstore.New()
	realBackend := backendFrom(real)
	f := store.NewFactory(store.EnvProduction, store.Backend{}, realBackend)

	c := cache.New(zap.NewNop(), cache.Thresholds{})
	f.WithCache(store.NewCacheBackedDecorator(c))

	backend := f.Backend()
	tasks := backend.Tasks.WithUser("user-a")

	created, err := tasks.Create(context.Background(), &models.Task{Title: "t1", GitBranchID: "b1"})
	require.NoError(t, err)

	got, err := tasks.Get(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, "t1", got.Title)

	metrics := c.Sample()
	assert.Equal(t, int64(1), metrics.Hits, "Get after Create must be served from the cache")
}
