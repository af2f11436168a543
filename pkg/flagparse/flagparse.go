// Package flagparse turns command-line input into values the config layer
// understands: quote-aware comma lists, and the set of flags a user actually
// passed.
package flagparse

import (
	"strings"

	"github.com/spf13/pflag"
)

// ChangedFlags returns the flags explicitly set on the command line, keyed by
// name, with values typed as their flag type (string, bool, int, float64 or
// []string). Flags left at their default are omitted so they never override
// the config file.
func ChangedFlags(fs *pflag.FlagSet) map[string]any {
	setFlags := make(map[string]any)
	fs.Visit(func(f *pflag.Flag) {
		var (
			v   any
			err error
		)
		switch f.Value.Type() {
		case "bool":
			v, err = fs.GetBool(f.Name)
		case "int":
			v, err = fs.GetInt(f.Name)
		case "float64":
			v, err = fs.GetFloat64(f.Name)
		case "stringSlice":
			v, err = fs.GetStringSlice(f.Name)
		default:
			v = f.Value.String()
		}
		if err == nil {
			setFlags[f.Name] = v
		}
	})
	return setFlags
}

// ParseCmdList parses a comma-separated list of shell commands. Quotes and
// backslashes are kept, since the shell interprets them later.
func ParseCmdList(s string) []string {
	return parseListInternal(s, true, true)
}

// ParseExcludeList parses a comma-separated list of file or directory patterns.
// It removes quotes, as they are only used for grouping items with spaces.
// Backslashes are literal, for Windows paths.
func ParseExcludeList(s string) []string {
	return parseListInternal(s, false, false)
}

// ParseSuffixList parses a comma-separated list of file suffixes, adding the
// leading dot where it is missing ("tmp" becomes ".tmp").
func ParseSuffixList(s string) []string {
	list := parseListInternal(s, false, false)
	for i, suffix := range list {
		if !strings.HasPrefix(suffix, ".") {
			list[i] = "." + suffix
		}
	}
	return list
}

// parseListInternal splits s on commas outside of single or double quotes.
// - `keepQuotes`: Preserves quote characters in the output.
// - `handleEscapes`: A backslash escapes the next rune (and is kept).
func parseListInternal(s string, keepQuotes, handleEscapes bool) []string {
	var list []string
	var current strings.Builder
	var quoteChar rune

	flush := func() {
		if item := strings.TrimSpace(current.String()); item != "" {
			list = append(list, item)
		}
		current.Reset()
	}

	escaped := false
	for _, r := range s {
		if escaped {
			current.WriteRune(r)
			escaped = false
			continue
		}

		switch {
		case r == '\\' && handleEscapes:
			escaped = true
			current.WriteRune(r)
		case (r == '\'' || r == '"') && (quoteChar == 0 || quoteChar == r):
			if quoteChar == 0 {
				quoteChar = r
			} else {
				quoteChar = 0
			}
			if keepQuotes {
				current.WriteRune(r)
			}
		case r == ',' && quoteChar == 0:
			flush()
		default:
			current.WriteRune(r)
		}
	}
	flush()
	return list
}
