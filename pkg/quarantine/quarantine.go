// Package quarantine replaces deletion. A file that a sync pass decides to
// remove is moved into a per-job holding area together with a sidecar record
// describing where it came from, and is only erased for good once the sidecar
// is older than the grace period.
//
// Layout below a job's quarantine root:
//
//	<root>/<direction>/<YYYYMMDD>/<YYYYMMDD_HHMMSS>_<flattened rel path>
//	<root>/<direction>/<YYYYMMDD>/<YYYYMMDD_HHMMSS>_<flattened rel path>.meta.json
package quarantine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/paulschiretz/pgl-mirror/pkg/metafile"
	"github.com/paulschiretz/pgl-mirror/pkg/pathsync"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// DirName is the directory created on the destination's volume that holds
// every job's quarantine root.
const DirName = "QuarantineRoot"

// DefaultGraceDays is how long a quarantined file is kept before Purge erases it.
const DefaultGraceDays = 30

const (
	dayLayout   = "20060102"
	maxNameLen  = 200
	ellipsis    = "…"
	pathJoiner  = "__"
	maxSuffixes = 10000
)

// Manager moves files into one job's quarantine root.
type Manager struct {
	root   string
	jobID  string
	copier *pathsync.Copier
	now    func() time.Time
}

// NewManager creates a manager for the quarantine root of jobID. The copier is
// used when a file has to cross a volume boundary.
func NewManager(root, jobID string, copier *pathsync.Copier) *Manager {
	return &Manager{
		root:   root,
		jobID:  jobID,
		copier: copier,
		now:    time.Now,
	}
}

// Quarantine moves the file at absPath (whose forward-slash path relative to
// its replica root is relKey) into the quarantine and writes its sidecar.
// It returns the quarantined data path. On error the original file is left in
// place.
func (m *Manager) Quarantine(ctx context.Context, absPath, relKey string, dir Direction) (string, error) {
	info, err := os.Lstat(absPath)
	if err != nil {
		return "", fmt.Errorf("cannot stat %s: %w", absPath, err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("%s is not a regular file", absPath)
	}

	now := m.now()
	deletedAt := now.Format(metafile.DeletedAtLayout)
	dayDir := filepath.Join(m.root, dir.String(), now.Format(dayLayout))
	if err := os.MkdirAll(dayDir, util.UserWritableDirPerms); err != nil {
		return "", fmt.Errorf("cannot create quarantine directory %s: %w", dayDir, err)
	}

	dest, err := uniqueDestination(dayDir, FlattenName(deletedAt, relKey))
	if err != nil {
		return "", err
	}

	if err := m.move(ctx, absPath, dest); err != nil {
		return "", fmt.Errorf("cannot move %s into quarantine: %w", absPath, err)
	}

	meta := metafile.MetafileContent{
		OriginalPath:    absPath,
		OriginalRelPath: relKey,
		DeletedAt:       deletedAt,
		SyncID:          m.jobID,
		Direction:       dir.String(),
		OriginalSize:    info.Size(),
	}
	if err := metafile.Write(dest, &meta); err != nil {
		// Without a sidecar the entry could never be purged or restored, so
		// put the file back where it was.
		if rbErr := m.move(ctx, dest, absPath); rbErr != nil {
			plog.Error("Failed to roll back quarantine move, file remains in quarantine without metadata",
				"original", absPath, "quarantined", dest, "error", rbErr)
		}
		return "", err
	}

	plog.Notice("QUARANTINE", "path", relKey, "direction", dir.String(), "to", dest)
	return dest, nil
}

// move renames src to dst, falling back to copy and remove when the two paths
// live on different volumes.
func (m *Manager) move(ctx context.Context, src, dst string) error {
	err := os.Rename(src, dst)
	if err == nil {
		return nil
	}
	if !isCrossDevice(err) || m.copier == nil {
		return err
	}

	plog.Debug("Rename crosses a volume boundary, copying instead", "from", src, "to", dst)
	if _, err := m.copier.CopyFile(ctx, src, dst); err != nil {
		_ = os.Remove(dst)
		return err
	}
	if err := os.Remove(src); err != nil {
		// Keep exactly one copy: the original.
		_ = os.Remove(dst)
		return fmt.Errorf("copied but could not remove original: %w", err)
	}
	return nil
}

// FlattenName builds a quarantine file name from a timestamp and a relative
// path: separators become "__", ".." segments become "_", and names longer
// than 200 bytes are shortened in the middle with an ellipsis. The cap
// leaves room for a collision suffix and the sidecar extension within the
// usual 255-byte file name limit.
func FlattenName(timestamp, relKey string) string {
	segments := strings.FieldsFunc(relKey, func(r rune) bool { return r == '/' || r == '\\' })
	parts := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case ".":
			continue
		case "..":
			parts = append(parts, "_")
		default:
			parts = append(parts, seg)
		}
	}
	if len(parts) == 0 {
		parts = append(parts, "_")
	}
	return truncateMiddle(timestamp+"_"+strings.Join(parts, pathJoiner), maxNameLen)
}

// truncateMiddle shortens name to at most limit bytes without splitting a
// rune, replacing the cut with an ellipsis.
func truncateMiddle(name string, limit int) string {
	if len(name) <= limit {
		return name
	}
	keep := limit - len(ellipsis)
	headLen := keep / 2
	for headLen > 0 && !utf8.RuneStart(name[headLen]) {
		headLen--
	}
	tailStart := len(name) - (keep - headLen)
	for tailStart < len(name) && !utf8.RuneStart(name[tailStart]) {
		tailStart++
	}
	return name[:headLen] + ellipsis + name[tailStart:]
}

// uniqueDestination returns dir/name, or dir/<stem>_<n><ext> for the first n
// at which neither the data file nor its sidecar exists.
func uniqueDestination(dir, name string) (string, error) {
	candidate := filepath.Join(dir, name)
	if free, err := isFree(candidate); err != nil || free {
		return candidate, err
	}

	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	for n := 1; n <= maxSuffixes; n++ {
		candidate = filepath.Join(dir, stem+"_"+strconv.Itoa(n)+ext)
		if free, err := isFree(candidate); err != nil || free {
			return candidate, err
		}
	}
	return "", fmt.Errorf("could not find a free quarantine name for %s in %s", name, dir)
}

// isFree reports whether neither dataPath nor its sidecar exists. Lstat
// errors other than not-exist are returned rather than read as "taken".
func isFree(dataPath string) (bool, error) {
	for _, p := range []string{dataPath, metafile.PathFor(dataPath)} {
		_, err := os.Lstat(p)
		switch {
		case err == nil:
			return false, nil
		case !errors.Is(err, os.ErrNotExist):
			return false, fmt.Errorf("could not check quarantine name %s: %w", p, err)
		}
	}
	return true, nil
}
