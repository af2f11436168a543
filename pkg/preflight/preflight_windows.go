//go:build windows

package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// platformCheckAccess has no cheap equivalent on Windows; the directory read
// in IsAccessible is the authoritative check.
func platformCheckAccess(string) error {
	return nil
}

func checkVolumeExists(path string) error {
	return platformValidateMountPoint(path)
}

// platformValidateMountPoint fails when the drive or share root of path is
// missing, e.g. "Z:\" for "Z:\mirror".
func platformValidateMountPoint(path string) error {
	volume := filepath.VolumeName(path)
	if volume == "" {
		return nil
	}

	checkVol := volume
	if !strings.HasSuffix(checkVol, string(filepath.Separator)) {
		checkVol += string(filepath.Separator)
	}
	checkVol = filepath.Clean(checkVol)

	if _, err := os.Stat(checkVol); os.IsNotExist(err) {
		return fmt.Errorf("volume root does not exist: %s. Ensure the drive is connected", checkVol)
	}
	return nil
}

// IsMountPoint reports whether path is a volume root such as "C:\".
// Volumes mounted into folders are not detected, so the quarantine of such a
// destination defaults to the drive root.
func IsMountPoint(path string) (bool, error) {
	return filepath.VolumeName(path)+string(filepath.Separator) == path, nil
}
