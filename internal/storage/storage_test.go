package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebula-protocol/nebula/internal/types"
)

func TestValidateProjectID(t *testing.T) {
	for _, ok := range []string{"web", "api-v2", "team_a.backend", "X1"} {
		assert.NoError(t, ValidateProjectID(ok), ok)
	}
	for _, bad := range []string{"", "../etc", "a/b", ".hidden", "a..b", "-lead"} {
		assert.ErrorIs(t, ValidateProjectID(bad), types.ErrValidation, bad)
	}
}

func TestProjectDBPath(t *testing.T) {
	p, err := ProjectDBPath("/var/lib/nebula", "web")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join("/var/lib/nebula", "web", DefaultDBName), p)

	_, err = ProjectDBPath("/var/lib/nebula", "../web")
	assert.Error(t, err)
}

func TestDiscoverDatabaseEnvOverride(t *testing.T) {
	t.Setenv(EnvDBPath, ":memory:")
	p, err := DiscoverDatabase()
	require.NoError(t, err)
	assert.Equal(t, ":memory:", p)
}

func TestDiscoverDatabaseInDir(t *testing.T) {
	dir := t.TempDir()

	_, err := discoverDatabaseInDir(dir)
	assert.Error(t, err)

	dbPath, err := InitProject(dir)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(dbPath, nil, 0644))

	found, err := discoverDatabaseInDir(dir)
	require.NoError(t, err)
	assert.Equal(t, dbPath, found)

	_, err = InitProject(dir)
	assert.Error(t, err, "second init must not clobber an existing store")
}

func TestNewStorageInMemory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Path = ":memory:"
	store, err := NewStorage(context.Background(), cfg)
	require.NoError(t, err)
	defer store.Close()

	st, err := store.GetStatistics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0.0.1", st.Version)
}

func TestSyncLock(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), DefaultDBName)

	lockPath, err := AcquireSyncLock(dbPath, "nebula-serve", "test")
	require.NoError(t, err)
	assert.FileExists(t, lockPath)

	// Same process may re-acquire (restart of the engine in-process).
	again, err := AcquireSyncLock(dbPath, "nebula-serve", "test")
	require.NoError(t, err)
	assert.Equal(t, lockPath, again)

	require.NoError(t, ReleaseSyncLock(lockPath))
	assert.NoFileExists(t, lockPath)
	assert.NoError(t, ReleaseSyncLock(lockPath))
}

func TestSyncLockHeldByLiveProcess(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), DefaultDBName)
	host, err := os.Hostname()
	require.NoError(t, err)

	// PID 1 is always alive.
	data, err := json.Marshal(SyncLock{Holder: "other", PID: 1, Hostname: host, StartedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(SyncLockPath(dbPath), data, 0644))

	_, err = AcquireSyncLock(dbPath, "nebula-serve", "test")
	assert.ErrorIs(t, err, ErrSyncLocked)
}

func TestSyncLockStaleIsTakenOver(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), DefaultDBName)
	host, err := os.Hostname()
	require.NoError(t, err)

	data, err := json.Marshal(SyncLock{Holder: "dead", PID: 999999999, Hostname: host, StartedAt: time.Now()})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(SyncLockPath(dbPath), data, 0644))

	lockPath, err := AcquireSyncLock(dbPath, "nebula-serve", "test")
	require.NoError(t, err)
	assert.NotEmpty(t, lockPath)
}

func TestAcquireSyncLockInMemory(t *testing.T) {
	p, err := AcquireSyncLock(":memory:", "x", "y")
	require.NoError(t, err)
	assert.Empty(t, p)
}

func TestClearStaleSyncLock(t *testing.T) {
	host, err := os.Hostname()
	require.NoError(t, err)

	write := func(t *testing.T, dbPath string, pid int) {
		data, err := json.Marshal(SyncLock{Holder: "nebula-serve", PID: pid, Hostname: host, StartedAt: time.Now()})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(SyncLockPath(dbPath), data, 0644))
	}

	t.Run("no lock", func(t *testing.T) {
		removed, err := ClearStaleSyncLock(filepath.Join(t.TempDir(), DefaultDBName))
		require.NoError(t, err)
		assert.Nil(t, removed)
	})

	t.Run("dead holder", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), DefaultDBName)
		write(t, dbPath, 999999999)

		removed, err := ClearStaleSyncLock(dbPath)
		require.NoError(t, err)
		require.NotNil(t, removed)
		assert.Equal(t, "nebula-serve", removed.Holder)
		assert.NoFileExists(t, SyncLockPath(dbPath))
	})

	t.Run("live holder", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), DefaultDBName)
		write(t, dbPath, 1)

		_, err := ClearStaleSyncLock(dbPath)
		assert.ErrorIs(t, err, ErrSyncLocked)
		assert.FileExists(t, SyncLockPath(dbPath))
	})

	t.Run("corrupt lock", func(t *testing.T) {
		dbPath := filepath.Join(t.TempDir(), DefaultDBName)
		require.NoError(t, os.WriteFile(SyncLockPath(dbPath), []byte("{not json"), 0644))

		removed, err := ClearStaleSyncLock(dbPath)
		require.NoError(t, err)
		assert.NotNil(t, removed)
		assert.NoFileExists(t, SyncLockPath(dbPath))
	})
}
