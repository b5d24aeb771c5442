package os_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	tmos "github.com/reinetwork/reimint/libs/os"
)

func TestEnsureDir(t *testing.T) {
	tmp := t.TempDir()

	// Should be possible to create a new directory.
	err := tmos.EnsureDir(filepath.Join(tmp, "dir"), 0755)
	require.NoError(t, err)
	require.DirExists(t, filepath.Join(tmp, "dir"))

	// Should succeed on existing directory.
	err = tmos.EnsureDir(filepath.Join(tmp, "dir"), 0755)
	require.NoError(t, err)

	// A file in the way is an error and is left alone.
	err = os.WriteFile(filepath.Join(tmp, "file"), []byte{}, 0644)
	require.NoError(t, err)
	err = tmos.EnsureDir(filepath.Join(tmp, "file"), 0755)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a directory")
	require.FileExists(t, filepath.Join(tmp, "file"))

	// Should create nested directories.
	err = tmos.EnsureDir(filepath.Join(tmp, "a", "b", "c"), 0755)
	require.NoError(t, err)
	require.DirExists(t, filepath.Join(tmp, "a", "b", "c"))
}

func TestFileExists(t *testing.T) {
	tmp := t.TempDir()
	path := filepath.Join(tmp, "file")

	assert.False(t, tmos.FileExists(path))
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	assert.True(t, tmos.FileExists(path))

	// a directory in the way counts too
	require.NoError(t, os.Mkdir(filepath.Join(tmp, "dir"), 0755))
	assert.True(t, tmos.FileExists(filepath.Join(tmp, "dir")))
}
