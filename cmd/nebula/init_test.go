package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nebula-protocol/nebula/internal/config"
)

func TestWriteProjectConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.FileName)

	written, err := writeProjectConfig(path, "checkout-api")
	require.NoError(t, err)
	assert.True(t, written)

	loaded, err := config.Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, "checkout-api", loaded.ProjectID)

	// An existing file is left alone
	require.NoError(t, os.WriteFile(path, []byte("project_id: kept\n"), 0o644))
	written, err = writeProjectConfig(path, "other")
	require.NoError(t, err)
	assert.False(t, written)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "project_id: kept\n", string(data))
}
