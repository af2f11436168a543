// Package snapshot produces point-in-time views of a replica: a mapping from
// forward-slash relative path to modification time and size.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// ErrRootUnreadable is returned by Scan when the replica root itself cannot
// be listed. An empty snapshot in its place would read as "every file was
// deleted".
var ErrRootUnreadable = errors.New("replica root cannot be read")

// Entry is the recorded state of one file.
type Entry struct {
	// ModTime is seconds since the Unix epoch, with sub-second precision.
	ModTime float64 `json:"mtime"`
	Size    int64   `json:"size"`
}

// Snapshot maps a forward-slash relative path to its entry. A missing key
// means the file does not exist in that view.
type Snapshot map[string]Entry

// Keys returns the snapshot's paths in sorted order.
func (s Snapshot) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns an independent copy of s.
func (s Snapshot) Clone() Snapshot {
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// EntryFromInfo builds an entry from file info.
func EntryFromInfo(info fs.FileInfo) Entry {
	return Entry{
		ModTime: TimeToSeconds(info.ModTime()),
		Size:    info.Size(),
	}
}

// TimeToSeconds converts t into float seconds since the epoch.
func TimeToSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

// SecondsToTime is the inverse of TimeToSeconds.
func SecondsToTime(s float64) time.Time {
	sec := int64(s)
	nsec := int64((s - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}

// Stat returns the entry of the regular file at absPath.
func Stat(absPath string) (Entry, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return Entry{}, err
	}
	return EntryFromInfo(info), nil
}

// Scan walks root and records every retained regular file. Files matched by
// excl and everything under quarantineRoot are skipped. Entries that vanish or
// cannot be read mid-walk are skipped. A root that is missing, is not a
// directory or cannot be listed fails with ErrRootUnreadable.
func Scan(ctx context.Context, root string, excl *Exclusions, quarantineRoot string) (Snapshot, error) {
	snap := make(Snapshot)

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRootUnreadable, root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrRootUnreadable, root)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrRootUnreadable, root, err)
	}
	absQuarantine := ""
	if quarantineRoot != "" {
		if q, err := filepath.Abs(quarantineRoot); err == nil {
			absQuarantine = q
		}
	}

	err = filepath.WalkDir(absRoot, func(absPath string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if absPath == absRoot {
				return fmt.Errorf("%w: %s: %w", ErrRootUnreadable, absRoot, walkErr)
			}
			plog.Debug("Skipping unreadable path", "path", absPath, "error", walkErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if absQuarantine != "" && util.IsSubPath(absQuarantine, absPath) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if absPath == absRoot {
			return nil
		}

		rel, err := filepath.Rel(absRoot, absPath)
		if err != nil {
			return nil
		}
		relKey := util.NormalizePath(rel)

		if d.IsDir() {
			if excl.ExcludesDir(relKey) {
				plog.Debug("Excluding directory", "path", relKey)
				return filepath.SkipDir
			}
			return nil
		}

		if !d.Type().IsRegular() {
			return nil
		}
		if excl.ExcludesFile(relKey) {
			return nil
		}

		fi, err := d.Info()
		if err != nil {
			// Deleted between the directory read and the stat.
			plog.Debug("Skipping file that could not be stat'ed", "path", relKey, "error", err)
			return nil
		}
		snap[relKey] = EntryFromInfo(fi)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}
