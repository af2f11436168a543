package quarantine

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/hints"
	"github.com/paulschiretz/pgl-mirror/pkg/metafile"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// ErrNothingToPurge is returned as a hint when the quarantine root does not exist.
var ErrNothingToPurge = hints.New("quarantine root does not exist, nothing to purge")

// Entry is one quarantined file as found on disk.
type Entry struct {
	DataPath    string
	SidecarPath string
	// SidecarModTime drives the grace period.
	SidecarModTime time.Time
	Meta           metafile.MetafileContent
}

// Age returns how long ago the entry's sidecar was written.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.SidecarModTime)
}

// Purge erases every entry below root whose sidecar is older than graceDays:
// the data file, then the sidecar, then (best-effort) the parent directory if
// it became empty. It returns the number of entries removed.
// A failure to remove a single entry is logged and does not stop the purge.
func Purge(ctx context.Context, root string, graceDays int) (int, error) {
	return purge(ctx, root, graceDays, time.Now())
}

func purge(ctx context.Context, root string, graceDays int, now time.Time) (int, error) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return 0, ErrNothingToPurge
	}
	if graceDays < 0 {
		return 0, fmt.Errorf("grace period must not be negative, got %d days", graceDays)
	}

	cutoff := now.Add(-time.Duration(graceDays) * 24 * time.Hour)
	entries, err := scanEntries(ctx, root)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return count, err
		}
		if !e.SidecarModTime.Before(cutoff) {
			continue
		}
		if err := removeEntry(e); err != nil {
			plog.Warn("Failed to purge quarantine entry", "path", e.DataPath, "error", err)
			continue
		}
		plog.Notice("PURGE", "path", e.DataPath, "deletedAt", e.Meta.DeletedAt)
		count++
	}
	return count, nil
}

// List returns every entry below root, oldest first.
func List(ctx context.Context, root string) ([]Entry, error) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil, nil
	}
	entries, err := scanEntries(ctx, root)
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].SidecarModTime.Equal(entries[j].SidecarModTime) {
			return entries[i].SidecarModTime.Before(entries[j].SidecarModTime)
		}
		return entries[i].DataPath < entries[j].DataPath
	})
	return entries, nil
}

// scanEntries walks root collecting sidecars. A file that itself has a
// sidecar is a quarantined data file, even if its name ends in ".meta.json".
func scanEntries(ctx context.Context, root string) ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			plog.Warn("Skipping unreadable quarantine path", "path", path, "error", walkErr)
			if d != nil && d.IsDir() && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !metafile.IsSidecar(d.Name()) {
			return nil
		}
		if _, err := os.Lstat(metafile.PathFor(path)); err == nil {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		meta, err := metafile.Read(path)
		if err != nil {
			plog.Warn("Skipping unreadable quarantine sidecar", "path", path, "error", err)
			return nil
		}
		entries = append(entries, Entry{
			DataPath:       metafile.DataPathFor(path),
			SidecarPath:    path,
			SidecarModTime: info.ModTime(),
			Meta:           meta,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func removeEntry(e Entry) error {
	if err := os.Remove(e.DataPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(e.SidecarPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	// Fails on a non-empty directory, which is what we want.
	_ = os.Remove(filepath.Dir(e.DataPath))
	return nil
}

// Restore moves a quarantined file back to its original absolute path and
// removes its sidecar. An existing file at the original path is only replaced
// when overwrite is set.
func (m *Manager) Restore(ctx context.Context, e Entry, overwrite bool) error {
	target := e.Meta.OriginalPath
	if target == "" {
		return fmt.Errorf("sidecar %s has no original path", e.SidecarPath)
	}
	if _, err := os.Lstat(target); err == nil && !overwrite {
		return fmt.Errorf("refusing to overwrite existing file %s", target)
	}
	if err := os.MkdirAll(filepath.Dir(target), util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("cannot create parent directory for %s: %w", target, err)
	}
	if err := m.move(ctx, e.DataPath, target); err != nil {
		return fmt.Errorf("cannot restore %s: %w", target, err)
	}
	if err := os.Remove(e.SidecarPath); err != nil && !os.IsNotExist(err) {
		plog.Warn("Restored file but could not remove its sidecar", "path", e.SidecarPath, "error", err)
	}
	_ = os.Remove(filepath.Dir(e.DataPath))
	plog.Notice("RESTORE", "path", target)
	return nil
}
