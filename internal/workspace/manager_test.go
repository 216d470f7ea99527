package workspace_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kazz187/taskforge/internal/workspace"
	"github.com/kazz187/taskforge/pkg/ferr"
)

func TestManager_Ensure(t *testing.T) {
	root := filepath.Join(t.TempDir(), "workspaces")
	m, err := workspace.NewManager(root)
	require.NoError(t, err)

	dir, err := m.Ensure("01TESTTASK0000000000000000")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(m.Root(), "01TESTTASK0000000000000000"), dir)

	fi, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, fi.IsDir())

	// Second call returns the same directory.
	again, err := m.Ensure("01TESTTASK0000000000000000")
	require.NoError(t, err)
	assert.Equal(t, dir, again)
}

func TestManager_EnsureRejectsBadIDs(t *testing.T) {
	m, err := workspace.NewManager(t.TempDir())
	require.NoError(t, err)

	for _, id := range []string{"", ".", "..", "../evil", "a/b", `a\b`} {
		_, err := m.Ensure(id)
		assert.True(t, ferr.IsCode(err, ferr.InvalidArgument), "id %q", id)
	}
}
