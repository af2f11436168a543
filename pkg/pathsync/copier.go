// Package pathsync copies single files between replicas. A copy is written to
// a temporary file next to its destination and renamed into place, so a
// reader never sees a half-written file under the real name.
package pathsync

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/pool"
	"github.com/paulschiretz/pgl-mirror/pkg/snapshot"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// DefaultBufferSize is the size of the pooled copy buffers.
const DefaultBufferSize = 256 * 1024

// Copier copies files with retries. It is safe for concurrent use.
type Copier struct {
	retryCount   int
	retryWait    time.Duration
	ioBufferPool *pool.FixedBufferPool
}

// NewCopier creates a copier that retries a failed copy retryCount times,
// waiting retryWait between attempts.
func NewCopier(retryCount int, retryWait time.Duration) *Copier {
	if retryCount < 0 {
		retryCount = 0
	}
	return &Copier{
		retryCount:   retryCount,
		retryWait:    retryWait,
		ioBufferPool: pool.NewFixedBuffer(DefaultBufferSize),
	}
}

// CopyFile copies absSrcPath to absTrgPath, creating the destination's parent
// directories and overwriting an existing destination. The source's permission
// bits (plus owner-write) and modification time are carried over.
// It returns the entry of the written destination file.
func (c *Copier) CopyFile(ctx context.Context, absSrcPath, absTrgPath string) (snapshot.Entry, error) {
	if err := os.MkdirAll(filepath.Dir(absTrgPath), util.UserWritableDirPerms); err != nil {
		return snapshot.Entry{}, fmt.Errorf("failed to create parent directory for %s: %w", absTrgPath, err)
	}

	var lastErr error
	for i := range c.retryCount + 1 {
		if i > 0 {
			plog.Warn("Retrying file copy", "file", absSrcPath, "attempt", fmt.Sprintf("%d/%d", i, c.retryCount), "after", c.retryWait)
			select {
			case <-ctx.Done():
				return snapshot.Entry{}, ctx.Err()
			case <-time.After(c.retryWait):
			}
		}
		if err := ctx.Err(); err != nil {
			return snapshot.Entry{}, err
		}

		lastErr = c.copyOnce(absSrcPath, absTrgPath)
		if lastErr == nil {
			entry, err := snapshot.Stat(absTrgPath)
			if err != nil {
				return snapshot.Entry{}, fmt.Errorf("failed to stat copied file %s: %w", absTrgPath, err)
			}
			return entry, nil
		}
	}
	return snapshot.Entry{}, fmt.Errorf("failed to copy file from '%s' to '%s' after %d attempts: %w", absSrcPath, absTrgPath, c.retryCount+1, lastErr)
}

func (c *Copier) copyOnce(absSrcPath, absTrgPath string) (err error) {
	in, err := os.Open(absSrcPath)
	if err != nil {
		return fmt.Errorf("failed to open source file %s: %w", absSrcPath, err)
	}
	defer in.Close()

	srcInfo, err := in.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat source file %s: %w", absSrcPath, err)
	}
	if !srcInfo.Mode().IsRegular() {
		return fmt.Errorf("source %s is not a regular file", absSrcPath)
	}

	absTrgDir := filepath.Dir(absTrgPath)
	out, err := os.CreateTemp(absTrgDir, ".pgl-mirror-*"+snapshot.TempFileSuffix)
	if err != nil {
		return fmt.Errorf("failed to create temporary file in %s: %w", absTrgDir, err)
	}
	defer out.Close() // Ensure closed on error.

	absTempPath := out.Name()
	// Cleared after a successful rename.
	defer func() {
		if absTempPath != "" {
			os.Remove(absTempPath)
		}
	}()

	// Pre-allocate file size to reduce fragmentation.
	if srcInfo.Size() > 0 {
		_ = out.Truncate(srcInfo.Size())
	}

	bufPtr := c.ioBufferPool.Get()
	defer c.ioBufferPool.Put(bufPtr)
	buf := (*bufPtr)[:cap(*bufPtr)]

	written, err := io.CopyBuffer(out, in, buf)
	if err != nil {
		return fmt.Errorf("failed to copy content from %s to %s: %w", absSrcPath, absTempPath, err)
	}
	// The source shrank while we were reading it; drop the preallocated tail.
	if written < srcInfo.Size() {
		if err := out.Truncate(written); err != nil {
			return fmt.Errorf("failed to truncate temporary file %s: %w", absTempPath, err)
		}
	}

	if err := out.Chmod(util.WithUserWritePermission(srcInfo.Mode().Perm())); err != nil {
		return fmt.Errorf("failed to set permissions on temporary file %s: %w", absTempPath, err)
	}

	// Closing flushes data and may touch the modification time, so it must
	// happen before Chtimes.
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file %s: %w", absTempPath, err)
	}

	mtime := srcInfo.ModTime()
	if err := os.Chtimes(absTempPath, mtime, mtime); err != nil {
		return fmt.Errorf("failed to set timestamps on %s: %w", absTempPath, err)
	}

	if err := os.Rename(absTempPath, absTrgPath); err != nil {
		return fmt.Errorf("failed to move %s into place: %w", absTempPath, err)
	}
	absTempPath = ""
	return nil
}
