// Package metafile reads and writes the sidecar record stored next to every
// quarantined file.
package metafile

import (
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"

	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// Suffix is appended to a quarantined file's name to form its sidecar name.
const Suffix = ".meta.json"

// DeletedAtLayout is the time layout of the DeletedAt field and of the
// quarantine file name prefix.
const DeletedAtLayout = "20060102_150405"

// MetafileContent holds the contents of a quarantine sidecar.
type MetafileContent struct {
	OriginalPath    string `json:"original_path"`
	OriginalRelPath string `json:"original_rel_path"`
	DeletedAt       string `json:"deleted_at"`
	SyncID          string `json:"sync_id"`
	Direction       string `json:"direction"`
	OriginalSize    int64  `json:"original_size"`
}

// PathFor returns the sidecar path belonging to a quarantined data file.
func PathFor(dataPath string) string {
	return dataPath + Suffix
}

// DataPathFor returns the data file path belonging to a sidecar path.
func DataPathFor(sidecarPath string) string {
	return strings.TrimSuffix(sidecarPath, Suffix)
}

// IsSidecar reports whether name looks like a sidecar file name.
func IsSidecar(name string) bool {
	return strings.HasSuffix(name, Suffix)
}

// Write creates the sidecar for the quarantined file at dataPath.
func Write(dataPath string, content *MetafileContent) error {
	metaFilePath := PathFor(dataPath)
	jsonData, err := json.MarshalIndent(content, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal meta data: %w", err)
	}

	if err := os.WriteFile(metaFilePath, jsonData, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("could not write meta file %s: %w", metaFilePath, err)
	}

	return nil
}

// Read opens and parses the sidecar at sidecarPath.
// It returns the parsed metadata or an error if the file cannot be read or parsed.
func Read(sidecarPath string) (MetafileContent, error) {
	data, err := os.ReadFile(sidecarPath)
	if err != nil {
		// Note: os.IsNotExist errors are handled by the caller.
		return MetafileContent{}, err // Return the original error so os.IsNotExist works.
	}

	var content MetafileContent
	if err := json.Unmarshal(data, &content); err != nil {
		return MetafileContent{}, fmt.Errorf("could not parse metafile %s: %w. It may be corrupt", sidecarPath, err)
	}

	return content, nil
}
