//go:build !windows

package preflight

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// platformCheckAccess asks the kernel whether the current user may list and
// traverse path.
func platformCheckAccess(path string) error {
	return unix.Access(path, unix.R_OK|unix.X_OK)
}

// checkVolumeExists is a no-op on Unix; ghost mounts are caught by
// platformValidateMountPoint.
func checkVolumeExists(string) error {
	return nil
}

// platformValidateMountPoint flags a replica that sits on the root
// filesystem, which usually means the external drive it belongs on is not
// mounted and the directory is a leftover mount point.
func platformValidateMountPoint(path string) error {
	// Mirrors into the user's home are usually intentional.
	if homeDir, err := os.UserHomeDir(); err == nil && util.IsSubPath(homeDir, path) {
		return nil
	}

	var rootStat, pathStat unix.Stat_t
	if err := unix.Stat("/", &rootStat); err != nil {
		return fmt.Errorf("failed to stat root: %w", err)
	}
	if err := unix.Stat(path, &pathStat); err != nil {
		return fmt.Errorf("failed to stat path: %w", err)
	}

	if pathStat.Dev == rootStat.Dev && path != "/" {
		return fmt.Errorf("path '%s' is on the root filesystem (system disk). "+
			"Ensure your external drive is mounted", path)
	}
	return nil
}

// IsMountPoint reports whether path lives on a different device than its
// parent. "/" is always a mount point.
func IsMountPoint(path string) (bool, error) {
	parent := filepath.Dir(path)
	if parent == path {
		return true, nil
	}

	var stat, parentStat unix.Stat_t
	if err := unix.Stat(path, &stat); err != nil {
		return false, err
	}
	if err := unix.Stat(parent, &parentStat); err != nil {
		return false, err
	}
	return stat.Dev != parentStat.Dev, nil
}
