// Package preflight provides the checks that run before a replica is trusted:
// the per-run accessibility check that gates deletion inference, and the
// stricter validation used when a job is created.
package preflight

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// IsAccessible reports whether root is currently reachable: it must exist, be
// a directory, and a single directory-entry read must succeed. An empty
// directory counts as accessible. Any error (permission denied, vanished
// mount, transient I/O failure) yields false.
func IsAccessible(root string) bool {
	info, err := os.Stat(root)
	if err != nil {
		plog.Debug("Replica root cannot be stat'ed", "path", root, "error", err)
		return false
	}
	if !info.IsDir() {
		plog.Debug("Replica root is not a directory", "path", root)
		return false
	}
	if err := platformCheckAccess(root); err != nil {
		plog.Debug("Replica root access check failed", "path", root, "error", err)
		return false
	}

	f, err := os.Open(root)
	if err != nil {
		plog.Debug("Replica root cannot be opened", "path", root, "error", err)
		return false
	}
	defer f.Close()

	if _, err := f.ReadDir(1); err != nil && !errors.Is(err, io.EOF) {
		plog.Debug("Replica root cannot be listed", "path", root, "error", err)
		return false
	}
	return true
}

// CheckReplicaRoot validates that path exists and is a directory.
func CheckReplicaRoot(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("directory %s does not exist", path)
		}
		return fmt.Errorf("cannot stat directory %s: %w", path, err)
	}

	if !info.IsDir() {
		return fmt.Errorf("path %s is not a directory", path)
	}

	return nil
}

// CheckDestinationAccessible performs the checks that run when a job is
// created to make sure the destination is usable.
// It provides more user-friendly errors than letting os.MkdirAll fail.
//
// The checks include:
//  1. On Windows, verifies that the drive or network share (e.g., "Z:", "\\Server\Share") exists.
//  2. If the destination exists, confirms it is a directory.
//  3. If the destination does not exist, confirms its parent directory is accessible.
func CheckDestinationAccessible(path string) error {
	if err := checkVolumeExists(path); err != nil {
		return err
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		parentDir := filepath.Dir(path)
		if _, err := os.Stat(parentDir); os.IsNotExist(err) {
			return fmt.Errorf("destination and its parent directory do not exist: %s", parentDir)
		} else if err != nil {
			return fmt.Errorf("cannot access parent directory %s: %w", parentDir, err)
		}
		return nil
	} else if err != nil {
		return fmt.Errorf("cannot access destination: %w", err)
	}

	if !info.IsDir() {
		return fmt.Errorf("destination exists but is not a directory: %s", path)
	}
	return nil
}

// EnsureDestinationWritable creates the destination if needed and verifies it
// is writable by creating and deleting a probe file.
func EnsureDestinationWritable(path string) error {
	if err := os.MkdirAll(path, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create destination directory %s: %w", path, err)
	}

	probe := filepath.Join(path, ".pgl-mirror-writetest.tmp")
	f, err := os.Create(probe)
	if err != nil {
		return fmt.Errorf("destination directory %s is not writable: %w", path, err)
	}
	f.Close()
	_ = os.Remove(probe)
	return nil
}

// ValidateMountPoint reports when path looks like an unmounted "ghost"
// directory: on Unix a path on the root filesystem outside the user's home,
// on Windows a path whose volume root does not exist. The deepest existing
// ancestor is checked when path itself does not exist.
func ValidateMountPoint(path string) error {
	return platformValidateMountPoint(deepestExistingAncestor(path))
}

// MountRoot returns the mount point (Unix) or volume root (Windows) that
// contains path. path does not need to exist; its deepest existing ancestor is
// used.
func MountRoot(path string) (string, error) {
	current := deepestExistingAncestor(filepath.Clean(path))
	for {
		isMount, err := IsMountPoint(current)
		if err != nil {
			return "", fmt.Errorf("could not determine mount point of %s: %w", path, err)
		}
		if isMount {
			return current, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return current, nil
		}
		current = parent
	}
}

func deepestExistingAncestor(path string) string {
	ancestor := path
	for {
		if _, err := os.Stat(ancestor); err == nil {
			return ancestor
		}
		parent := filepath.Dir(ancestor)
		if parent == ancestor {
			return ancestor // Hit root
		}
		ancestor = parent
	}
}
