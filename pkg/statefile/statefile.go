// Package statefile persists the last-synced snapshot of a job.
package statefile

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-json"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/snapshot"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// Load reads the state file at path. A missing file is an empty state. A
// corrupt file is logged and also treated as empty, which makes the next pass
// behave like a first run: nothing is quarantined and both sides are merged.
func Load(path string) (snapshot.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(snapshot.Snapshot), nil
		}
		return nil, fmt.Errorf("could not read state file %s: %w", path, err)
	}

	state := make(snapshot.Snapshot)
	if len(data) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(data, &state); err != nil {
		plog.Warn("State file is corrupt, starting from an empty state", "path", path, "error", err)
		return make(snapshot.Snapshot), nil
	}
	return state, nil
}

// Save writes state to path atomically: the JSON is written to a temporary
// file in the same directory, synced, and renamed over path.
func Save(path string, state snapshot.Snapshot) error {
	if state == nil {
		state = make(snapshot.Snapshot)
	}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("could not marshal state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("could not create state directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("could not create temp state file: %w", err)
	}
	defer func() {
		// Expected to fail with "not exist" after a successful rename.
		if err := os.Remove(tmp.Name()); err != nil && !os.IsNotExist(err) {
			plog.Warn("Failed to remove temporary state file", "path", tmp.Name(), "error", err)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("could not write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("could not sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("could not close temp state file: %w", err)
	}
	if err := os.Chmod(tmp.Name(), util.PrivateFilePerms); err != nil {
		return fmt.Errorf("could not set state file permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("could not replace state file %s: %w", path, err)
	}
	return nil
}

// Remove deletes the state file at path. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not remove state file %s: %w", path, err)
	}
	return nil
}
