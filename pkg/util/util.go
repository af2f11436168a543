package util

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
)

// Permission constants for file and directory modes.
const (
	// PermUserWrite is the user-write permission bit (0200).
	PermUserWrite os.FileMode = 0200

	// UserWritableDirPerms represents the standard permissions for newly created directories (rwxr-xr-x).
	UserWritableDirPerms os.FileMode = 0755
	// UserWritableFilePerms represents the standard permissions for newly created files (rw-r--r--).
	UserWritableFilePerms os.FileMode = 0644
	// PrivateFilePerms is used for state and config files that only the owner should read (rw-------).
	PrivateFilePerms os.FileMode = 0600
)

// WithUserWritePermission ensures that a file permission has the owner-write
// bit (0200) set. A mirrored read-only file must stay replaceable by the next run.
func WithUserWritePermission(basePerm os.FileMode) os.FileMode {
	return basePerm | PermUserWrite
}

// IsHostCaseInsensitiveFS checks if the current operating system (the "host") has a case-insensitive filesystem by default.
func IsHostCaseInsensitiveFS() bool {
	return runtime.GOOS == "windows" || runtime.GOOS == "darwin"
}

// ExpandPath expands the tilde (~) prefix in a path to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil // No tilde, return as-is.
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get user home directory: %w", err)
	}

	// Replace the tilde with the home directory.
	return filepath.Join(home, path[1:]), nil
}

// ExpandedAbsPath expands a leading tilde and returns the cleaned absolute path.
func ExpandedAbsPath(path string) (string, error) {
	expanded, err := ExpandPath(path)
	if err != nil {
		return "", err
	}
	abs, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("could not resolve absolute path for %q: %w", path, err)
	}
	return abs, nil
}

// NormalizePath converts an OS specific relative path into the forward-slash
// form used as snapshot and state keys.
func NormalizePath(rel string) string {
	return filepath.ToSlash(filepath.Clean(rel))
}

// DenormalizePath converts a forward-slash key back into an OS specific path.
func DenormalizePath(key string) string {
	return filepath.FromSlash(key)
}

// IsSubPath reports whether target equals base or lies below it.
// Both paths must be absolute and cleaned.
func IsSubPath(base, target string) bool {
	if IsHostCaseInsensitiveFS() {
		base = strings.ToLower(base)
		target = strings.ToLower(target)
	}
	if base == target {
		return true
	}
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// InvertMap takes a map[K]V and returns a map[V]K.
// It's a generic helper for creating reverse lookup maps for enums.
func InvertMap[K comparable, V comparable](m map[K]V) map[V]K {
	inv := make(map[V]K, len(m))
	for k, v := range m {
		inv[v] = k
	}
	return inv
}

// MergeAndDeduplicate combines multiple string slices into a single sorted
// slice, removing duplicate and empty entries.
func MergeAndDeduplicate(slices ...[]string) []string {
	combined := mapset.NewThreadUnsafeSet[string]()
	for _, s := range slices {
		for _, item := range s {
			if item == "" {
				continue
			}
			combined.Add(item)
		}
	}

	result := combined.ToSlice()
	sort.Strings(result)
	return result
}
