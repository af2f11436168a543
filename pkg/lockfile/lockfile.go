// Package lockfile implements the per-job run lock: a zero-length marker file
// whose existence alone means "a run of this job is in progress".
//
// The marker is created with O_CREATE|O_EXCL so two runs started at the same
// instant cannot both succeed. A marker left behind by a crashed process is
// never expired automatically; it has to be removed with Remove (the CLI's
// unlock command) once the operator has confirmed no run is active.
package lockfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// ErrLockActive is a structured error returned when the marker already exists.
type ErrLockActive struct {
	Path string
	// Since is the creation time of the existing marker, zero if it could not be read.
	Since time.Time
}

// Error implements the error interface for ErrLockActive.
func (e *ErrLockActive) Error() string {
	if e.Since.IsZero() {
		return fmt.Sprintf("lock is active: %s", e.Path)
	}
	return fmt.Sprintf("lock is active: %s (held for %s)", e.Path, time.Since(e.Since).Truncate(time.Second))
}

// Lock is a held job lock.
type Lock struct {
	path string
	mu   sync.Mutex
	// We keep track if we actually hold the lock to prevent double release
	held bool
}

// TryAcquire creates the marker at lockPath. The parent directory is created
// if it does not exist.
// It returns (nil, *ErrLockActive) if the marker already exists and
// (nil, error) for any other failure.
func TryAcquire(lockPath string) (*Lock, error) {
	if err := os.MkdirAll(filepath.Dir(lockPath), util.UserWritableDirPerms); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	// O_CREATE|O_EXCL guarantees we only succeed if file doesn't exist
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, util.UserWritableFilePerms)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			active := &ErrLockActive{Path: lockPath}
			if info, statErr := os.Stat(lockPath); statErr == nil {
				active.Since = info.ModTime()
			}
			return nil, active
		}
		return nil, fmt.Errorf("failed to create lock file: %w", err)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(lockPath)
		return nil, fmt.Errorf("failed to close lock file: %w", err)
	}

	plog.Debug("Lock acquired", "path", lockPath)
	return &Lock{path: lockPath, held: true}, nil
}

// Path returns the marker location.
func (l *Lock) Path() string {
	return l.path
}

// Release removes the marker. It is safe to call more than once.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return
	}
	if err := Remove(l.path); err != nil {
		plog.Warn("Failed to remove lock file", "path", l.path, "error", err)
	} else {
		plog.Debug("Lock released", "path", l.path)
	}
	l.held = false
}

// Remove unconditionally deletes the marker at lockPath. A missing marker is
// not an error.
func Remove(lockPath string) error {
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// IsHeld reports whether a marker currently exists at lockPath.
func IsHeld(lockPath string) bool {
	_, err := os.Lstat(lockPath)
	return err == nil
}
