package quarantine

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulschiretz/pgl-mirror/pkg/hints"
	"github.com/paulschiretz/pgl-mirror/pkg/metafile"
	"github.com/paulschiretz/pgl-mirror/pkg/pathsync"
)

var fixedNow = time.Date(2024, 3, 15, 9, 30, 45, 0, time.Local)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), DirName, "case-1")
	m := NewManager(root, "case-1", pathsync.NewCopier(0, 0))
	m.now = func() time.Time { return fixedNow }
	return m, root
}

func writeReplicaFile(t *testing.T, rel, content string) (string, string) {
	t.Helper()
	replica := t.TempDir()
	abs := filepath.Join(replica, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0644))
	return replica, abs
}

func TestQuarantine(t *testing.T) {
	m, root := newTestManager(t)
	_, abs := writeReplicaFile(t, "docs/report.txt", "twelve bytes")

	dest, err := m.Quarantine(context.Background(), abs, "docs/report.txt", AToB)
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(root, "A_to_B", "20240315", "20240315_093045_docs__report.txt"), dest)
	_, err = os.Stat(abs)
	assert.True(t, os.IsNotExist(err), "original must be moved, not copied")

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "twelve bytes", string(data))

	meta, err := metafile.Read(metafile.PathFor(dest))
	require.NoError(t, err)
	assert.Equal(t, metafile.MetafileContent{
		OriginalPath:    abs,
		OriginalRelPath: "docs/report.txt",
		DeletedAt:       "20240315_093045",
		SyncID:          "case-1",
		Direction:       "A_to_B",
		OriginalSize:    12,
	}, meta)
}

func TestQuarantineCollision(t *testing.T) {
	m, _ := newTestManager(t)

	var dests []string
	for range 3 {
		_, abs := writeReplicaFile(t, "a.tar.gz", "x")
		dest, err := m.Quarantine(context.Background(), abs, "a.tar.gz", OneWay)
		require.NoError(t, err)
		dests = append(dests, filepath.Base(dest))
	}

	assert.Equal(t, []string{
		"20240315_093045_a.tar.gz",
		"20240315_093045_a.tar_1.gz",
		"20240315_093045_a.tar_2.gz",
	}, dests)
}

func TestQuarantineMissingFileLeavesNothingBehind(t *testing.T) {
	m, root := newTestManager(t)
	_, err := m.Quarantine(context.Background(), filepath.Join(t.TempDir(), "gone.txt"), "gone.txt", BToA)
	require.Error(t, err)

	entries, err := List(context.Background(), root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestQuarantineMoveFailureKeepsOriginal(t *testing.T) {
	m, root := newTestManager(t)
	_, abs := writeReplicaFile(t, "keep.txt", "data")

	// A file where the direction directory should be makes MkdirAll fail.
	require.NoError(t, os.MkdirAll(root, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "B_to_A"), nil, 0644))

	_, err := m.Quarantine(context.Background(), abs, "keep.txt", BToA)
	require.Error(t, err)

	data, err := os.ReadFile(abs)
	require.NoError(t, err)
	assert.Equal(t, "data", string(data))
}

func TestFlattenName(t *testing.T) {
	ts := "20240101_000000"
	testCases := []struct {
		name string
		rel  string
		want string
	}{
		{"Simple", "a.txt", ts + "_a.txt"},
		{"Nested", "x/y/z.txt", ts + "_x__y__z.txt"},
		{"Backslashes", `x\y\z.txt`, ts + "_x__y__z.txt"},
		{"Dot dot", "../evil/../f", ts + "____evil_____f"},
		{"Dot", "./a/./b", ts + "_a__b"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, FlattenName(ts, tc.rel))
		})
	}

	t.Run("Long names are shortened in the middle", func(t *testing.T) {
		long := strings.Repeat("d/", 150) + "final.txt"
		got := FlattenName(ts, long)
		assert.Equal(t, maxNameLen, len(got))
		assert.Contains(t, got, ellipsis)
		assert.True(t, strings.HasPrefix(got, ts+"_d__"))
		assert.True(t, strings.HasSuffix(got, "final.txt"))
		assert.NotContains(t, got, "/")
	})

	t.Run("Multibyte names are capped in bytes", func(t *testing.T) {
		long := strings.Repeat("文", 80) + "/" + strings.Repeat("文", 80) + "/f.txt"
		got := FlattenName(ts, long)
		assert.LessOrEqual(t, len(got), maxNameLen)
		assert.True(t, utf8.ValidString(got), "the cut must not split a rune")
		assert.Contains(t, got, ellipsis)
		assert.True(t, strings.HasSuffix(got, "__f.txt"))
	})
}

func TestQuarantineLongMultibytePath(t *testing.T) {
	m, root := newTestManager(t)
	rel := strings.Repeat("文", 80) + "/" + strings.Repeat("文", 80) + "/f.txt"
	abs := filepath.Join(t.TempDir(), "f.txt")
	require.NoError(t, os.WriteFile(abs, []byte("data"), 0644))

	dest, err := m.Quarantine(context.Background(), abs, rel, OneWay)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(dest, filepath.Join(root, OneWay.String())))
	assert.LessOrEqual(t, len(filepath.Base(metafile.PathFor(dest))), 255)
	assert.NoFileExists(t, abs)

	meta, err := metafile.Read(metafile.PathFor(dest))
	require.NoError(t, err)
	assert.Equal(t, rel, meta.OriginalRelPath)
}

func TestUniqueDestinationReportsLstatErrors(t *testing.T) {
	dir := t.TempDir()

	t.Run("Name too long", func(t *testing.T) {
		_, err := uniqueDestination(dir, strings.Repeat("a", 300))
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "could not find a free quarantine name")
	})

	t.Run("Parent is a file", func(t *testing.T) {
		notDir := filepath.Join(dir, "file")
		require.NoError(t, os.WriteFile(notDir, nil, 0644))
		_, err := uniqueDestination(notDir, "a.txt")
		assert.Error(t, err)
	})

	t.Run("Collision gets a suffix", func(t *testing.T) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "x.txt"), nil, 0644))
		got, err := uniqueDestination(dir, "x.txt")
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(dir, "x_1.txt"), got)
	})
}

func TestDirection(t *testing.T) {
	for _, d := range []Direction{AToB, BToA, OneWay} {
		parsed, err := ParseDirection(d.String())
		require.NoError(t, err)
		assert.Equal(t, d, parsed)
	}
	_, err := ParseDirection("sideways")
	assert.Error(t, err)
}

func TestPurgeGracePeriod(t *testing.T) {
	m, root := newTestManager(t)
	const grace = 30

	quarantineAged := func(rel string, age time.Duration) string {
		_, abs := writeReplicaFile(t, rel, "x")
		dest, err := m.Quarantine(context.Background(), abs, rel, AToB)
		require.NoError(t, err)
		stamp := fixedNow.Add(-age)
		require.NoError(t, os.Chtimes(metafile.PathFor(dest), stamp, stamp))
		return dest
	}

	expired := quarantineAged("old.txt", (grace+1)*24*time.Hour)
	fresh := quarantineAged("new.txt", (grace-1)*24*time.Hour)

	count, err := purge(context.Background(), root, grace, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = os.Stat(expired)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(metafile.PathFor(expired))
	assert.True(t, os.IsNotExist(err))

	_, err = os.Stat(fresh)
	assert.NoError(t, err)
	_, err = os.Stat(metafile.PathFor(fresh))
	assert.NoError(t, err)
}

func TestPurgeRemovesEmptyParent(t *testing.T) {
	m, root := newTestManager(t)
	_, abs := writeReplicaFile(t, "a.txt", "x")
	dest, err := m.Quarantine(context.Background(), abs, "a.txt", OneWay)
	require.NoError(t, err)
	require.NoError(t, os.Chtimes(metafile.PathFor(dest), fixedNow, fixedNow))

	count, err := purge(context.Background(), root, 0, fixedNow.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	_, err = os.Stat(filepath.Dir(dest))
	assert.True(t, os.IsNotExist(err), "empty day directory should be removed")
}

func TestPurgeMissingRoot(t *testing.T) {
	_, err := Purge(context.Background(), filepath.Join(t.TempDir(), "none"), DefaultGraceDays)
	assert.True(t, hints.Is(err, ErrNothingToPurge))
}

func TestPurgeIgnoresDataFileNamedLikeSidecar(t *testing.T) {
	m, root := newTestManager(t)
	_, abs := writeReplicaFile(t, "settings.meta.json", `{"original_path": "x"}`)
	dest, err := m.Quarantine(context.Background(), abs, "settings.meta.json", AToB)
	require.NoError(t, err)

	entries, err := List(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, dest, entries[0].DataPath)
	assert.Equal(t, "settings.meta.json", entries[0].Meta.OriginalRelPath)
}

func TestListAndRestore(t *testing.T) {
	m, root := newTestManager(t)
	replica, abs := writeReplicaFile(t, "sub/file.txt", "restore me")
	_, err := m.Quarantine(context.Background(), abs, "sub/file.txt", BToA)
	require.NoError(t, err)

	entries, err := List(context.Background(), root)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	e := entries[0]
	assert.Equal(t, "sub/file.txt", e.Meta.OriginalRelPath)
	assert.Equal(t, int64(10), e.Meta.OriginalSize)

	// Something new took the original place: restore must not clobber it.
	require.NoError(t, os.WriteFile(abs, []byte("newer"), 0644))
	require.Error(t, m.Restore(context.Background(), e, false))

	require.NoError(t, m.Restore(context.Background(), e, true))
	data, err := os.ReadFile(filepath.Join(replica, "sub", "file.txt"))
	require.NoError(t, err)
	assert.Equal(t, "restore me", string(data))

	entries, err = List(context.Background(), root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
