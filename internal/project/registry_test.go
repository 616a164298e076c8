package project

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebula-protocol/nebula/internal/memory"
	"github.com/nebula-protocol/nebula/internal/types"
)

func TestRegistryIsolatesProjects(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir)
	t.Cleanup(func() { _ = r.Close() })
	ctx := context.Background()

	web, err := r.Open(ctx, "web")
	require.NoError(t, err)
	api, err := r.Open(ctx, "api")
	require.NoError(t, err)

	_, err = web.RecordError(ctx, &types.ErrorEvent{Message: "webpack build failed"})
	require.NoError(t, err)

	webStats, err := web.GetStatistics(ctx)
	require.NoError(t, err)
	apiStats, err := api.GetStatistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, webStats.TotalErrors)
	assert.Zero(t, apiStats.TotalErrors)

	assert.FileExists(t, filepath.Join(dir, "web", "project_memory.db"))
	assert.FileExists(t, filepath.Join(dir, "api", "project_memory.db"))

	again, err := r.Open(ctx, "web")
	require.NoError(t, err)
	assert.Same(t, web, again)

	ids, err := r.Projects()
	require.NoError(t, err)
	assert.Equal(t, []string{"api", "web"}, ids)
}

func TestRegistryGetRequiresExistingStore(t *testing.T) {
	dir := t.TempDir()
	r := NewRegistry(dir)
	ctx := context.Background()

	_, err := r.Get(ctx, "ghost")
	assert.ErrorIs(t, err, types.ErrNotFound)
	assert.NoDirExists(t, filepath.Join(dir, "ghost"))

	_, err = r.Open(ctx, "web")
	require.NoError(t, err)
	require.NoError(t, r.Close())

	// A fresh registry finds the store on disk
	r2 := NewRegistry(dir)
	t.Cleanup(func() { _ = r2.Close() })
	svc, err := r2.Get(ctx, "web")
	require.NoError(t, err)
	assert.Equal(t, "web", svc.ProjectID())
}

func TestRegistryRejectsBadIDs(t *testing.T) {
	r := NewRegistry(t.TempDir())
	t.Cleanup(func() { _ = r.Close() })
	for _, id := range []string{"", "../etc", "a/b"} {
		_, err := r.Open(context.Background(), id)
		assert.ErrorIs(t, err, types.ErrValidation, id)
	}
}

func TestRegistryOpenHook(t *testing.T) {
	var mu sync.Mutex
	var opened []string
	r := NewRegistry(t.TempDir(), WithOpenHook(func(_ context.Context, svc *memory.Service) error {
		mu.Lock()
		defer mu.Unlock()
		opened = append(opened, svc.ProjectID())
		if svc.ProjectID() == "broken" {
			return errors.New("engine refused")
		}
		return nil
	}))
	t.Cleanup(func() { _ = r.Close() })
	ctx := context.Background()

	_, err := r.Open(ctx, "web")
	require.NoError(t, err)
	_, err = r.Open(ctx, "web")
	require.NoError(t, err)
	_, err = r.Open(ctx, "broken")
	require.Error(t, err)

	assert.Equal(t, []string{"web", "broken"}, opened)

	n := 0
	r.Each(func(*memory.Service) { n++ })
	assert.Equal(t, 1, n)
}

func TestRegistryClosedRefusesOpen(t *testing.T) {
	r := NewRegistry(t.TempDir())
	require.NoError(t, r.Close())
	_, err := r.Open(context.Background(), "web")
	assert.ErrorIs(t, err, types.ErrStorageUnavailable)
}

func TestRegistryProjectsMissingDir(t *testing.T) {
	r := NewRegistry(filepath.Join(t.TempDir(), "missing"))
	ids, err := r.Projects()
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = os.Stat(r.DataDir())
	assert.True(t, os.IsNotExist(err))
}
