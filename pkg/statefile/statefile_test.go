package statefile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulschiretz/pgl-mirror/pkg/snapshot"
)

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "states", "state_pgl-mirror-case.json")
	state := snapshot.Snapshot{
		"a.txt":      {ModTime: 1714557600.5, Size: 5},
		"docs/b.txt": {ModTime: 1714557601, Size: 0},
	}

	require.NoError(t, Save(path, state))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"mtime": 1714557600.5`)
	assert.Contains(t, string(raw), `"size": 5`)

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, state, loaded)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not be left behind")
}

func TestSaveOverwrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, Save(path, snapshot.Snapshot{"old": {ModTime: 1, Size: 1}}))
	require.NoError(t, Save(path, snapshot.Snapshot{}))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestLoadMissingAndCorrupt(t *testing.T) {
	dir := t.TempDir()

	loaded, err := Load(filepath.Join(dir, "missing.json"))
	require.NoError(t, err)
	assert.Empty(t, loaded)

	corrupt := filepath.Join(dir, "corrupt.json")
	require.NoError(t, os.WriteFile(corrupt, []byte("{\"a\": "), 0644))
	loaded, err = Load(corrupt)
	require.NoError(t, err)
	assert.Empty(t, loaded)
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, Save(path, nil))
	require.NoError(t, Remove(path))
	require.NoError(t, Remove(path))
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
