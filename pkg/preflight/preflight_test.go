package preflight

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsAccessible(t *testing.T) {
	t.Run("Empty directory is accessible", func(t *testing.T) {
		assert.True(t, IsAccessible(t.TempDir()))
	})

	t.Run("Populated directory is accessible", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "a.txt"), []byte("a"), 0644))
		assert.True(t, IsAccessible(dir))
	})

	t.Run("Missing path is not accessible", func(t *testing.T) {
		assert.False(t, IsAccessible(filepath.Join(t.TempDir(), "offline")))
	})

	t.Run("File is not accessible", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "a.txt")
		require.NoError(t, os.WriteFile(file, []byte("a"), 0644))
		assert.False(t, IsAccessible(file))
	})
}

func TestCheckReplicaRoot(t *testing.T) {
	t.Run("Directory", func(t *testing.T) {
		assert.NoError(t, CheckReplicaRoot(t.TempDir()))
	})

	t.Run("Missing", func(t *testing.T) {
		err := CheckReplicaRoot(filepath.Join(t.TempDir(), "nonexistent"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not exist")
	})

	t.Run("File", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "source.txt")
		require.NoError(t, os.WriteFile(file, []byte("x"), 0644))
		err := CheckReplicaRoot(file)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "is not a directory")
	})
}

func TestCheckDestinationAccessible(t *testing.T) {
	t.Run("Exists", func(t *testing.T) {
		assert.NoError(t, CheckDestinationAccessible(t.TempDir()))
	})

	t.Run("Does not exist, parent exists", func(t *testing.T) {
		assert.NoError(t, CheckDestinationAccessible(filepath.Join(t.TempDir(), "new_dir")))
	})

	t.Run("Parent missing", func(t *testing.T) {
		err := CheckDestinationAccessible(filepath.Join(t.TempDir(), "a", "b"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "do not exist")
	})

	t.Run("Is a file", func(t *testing.T) {
		file := filepath.Join(t.TempDir(), "target.txt")
		require.NoError(t, os.WriteFile(file, []byte("i am a file"), 0644))
		err := CheckDestinationAccessible(file)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "is not a directory")
	})
}

func TestEnsureDestinationWritable(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "mirror")
	require.NoError(t, EnsureDestinationWritable(dest))

	entries, err := os.ReadDir(dest)
	require.NoError(t, err)
	assert.Empty(t, entries, "write probe must be removed")
}

func TestMountRoot(t *testing.T) {
	dir := t.TempDir()
	root, err := MountRoot(filepath.Join(dir, "not", "yet", "created"))
	require.NoError(t, err)

	isMount, err := IsMountPoint(root)
	require.NoError(t, err)
	assert.True(t, isMount)

	rel, err := filepath.Rel(root, dir)
	require.NoError(t, err)
	assert.NotContains(t, rel, "..", "mount root must be an ancestor of the path")
}
