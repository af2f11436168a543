package snapshot

import (
	"fmt"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// TempFileSuffix marks in-flight copies. Files carrying it are always
// excluded so an interrupted copy is never mirrored.
const TempFileSuffix = ".pgl-mirror-tmp"

// Exclusions holds the categorized exclusion rules for efficient matching.
// All matching is case-insensitive.
type Exclusions struct {
	// suffixes are matched against the file name.
	suffixes []string
	// basenameLiterals are exact base name matches (e.g. "thumbs.db").
	basenameLiterals map[string]struct{}
	// globs are doublestar patterns. A pattern without a slash matches the
	// base name at any depth; one with a slash matches the full relative path.
	globs []exclusionGlob
}

type exclusionGlob struct {
	pattern       string
	matchBasename bool
}

// NewExclusions analyzes and categorizes suffixes and patterns.
// It returns an error if any pattern is not a valid doublestar pattern.
func NewExclusions(suffixes, patterns []string) (*Exclusions, error) {
	e := &Exclusions{
		suffixes:         []string{TempFileSuffix},
		basenameLiterals: make(map[string]struct{}),
	}

	for _, s := range suffixes {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		e.suffixes = append(e.suffixes, s)
	}

	for _, p := range patterns {
		p = normalizePattern(p)
		if p == "" {
			continue
		}
		if !doublestar.ValidatePattern(p) {
			return nil, fmt.Errorf("invalid exclusion pattern %q", p)
		}
		matchBasename := !strings.Contains(p, "/")
		if matchBasename && !strings.ContainsAny(p, "*?[]{}") {
			e.basenameLiterals[p] = struct{}{}
			continue
		}
		e.globs = append(e.globs, exclusionGlob{pattern: p, matchBasename: matchBasename})
	}
	return e, nil
}

// ExcludesFile reports whether the file at the forward-slash relative path
// relKey should be left out of a snapshot.
func (e *Exclusions) ExcludesFile(relKey string) bool {
	if e == nil {
		return strings.HasSuffix(strings.ToLower(relKey), TempFileSuffix)
	}
	key := strings.ToLower(relKey)
	base := path.Base(key)

	for _, s := range e.suffixes {
		if strings.HasSuffix(base, s) {
			return true
		}
	}
	return e.matchesPattern(key, base)
}

// ExcludesDir reports whether the directory at relKey should be pruned.
// Only patterns apply to directories; suffixes are file rules.
func (e *Exclusions) ExcludesDir(relKey string) bool {
	if e == nil {
		return false
	}
	key := strings.ToLower(relKey)
	return e.matchesPattern(key, path.Base(key))
}

func (e *Exclusions) matchesPattern(key, base string) bool {
	if _, ok := e.basenameLiterals[base]; ok {
		return true
	}
	for _, g := range e.globs {
		target := key
		if g.matchBasename {
			target = base
		}
		// Patterns were validated in NewExclusions, so the error is always nil.
		if ok, _ := doublestar.Match(g.pattern, target); ok {
			return true
		}
	}
	return false
}

// normalizePattern converts a pattern into a standardized, case-insensitive
// form (forward slashes, lowercase, no leading "./" or "/").
func normalizePattern(p string) string {
	p = strings.ToLower(strings.TrimSpace(p))
	p = strings.ReplaceAll(p, "\\", "/")
	p = strings.TrimPrefix(p, "./")
	p = strings.TrimPrefix(p, "/")
	return strings.TrimSuffix(p, "/")
}
