package migrations

import (
	"context"
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	createNotes = Migration{
		Version:     1,
		Description: "create notes",
		Up:          `CREATE TABLE notes (id INTEGER PRIMARY KEY, body TEXT NOT NULL)`,
	}
	addNotesTag = Migration{
		Version:     2,
		Description: "add tag column",
		Up:          `ALTER TABLE notes ADD COLUMN tag TEXT NOT NULL DEFAULT ''`,
	}
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:?_foreign_keys=ON")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestApplyInOrder(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)

	// Registered out of order on purpose.
	m := NewManager(addNotesTag, createNotes)
	assert.Equal(t, 2, m.Latest())

	pending, err := m.Pending(ctx, db)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, 1, pending[0].Version)

	require.NoError(t, m.Apply(ctx, db))

	v, err := Current(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 2, v)

	_, err = db.Exec("INSERT INTO notes (id, body, tag) VALUES (1, 'x', 'y')")
	require.NoError(t, err)

	// Re-applying is a no-op.
	require.NoError(t, m.Apply(ctx, db))
	pending, err = m.Pending(ctx, db)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestFailedMigrationLeavesVersion(t *testing.T) {
	ctx := context.Background()
	db := openMemory(t)

	broken := Migration{Version: 2, Description: "broken", Up: `ALTER TABLE missing ADD COLUMN x TEXT`}
	m := NewManager(createNotes, broken)
	require.Error(t, m.Apply(ctx, db))

	v, err := Current(ctx, db)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}
