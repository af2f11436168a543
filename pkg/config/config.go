package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/goccy/go-json"
	"github.com/gofrs/flock"

	"github.com/paulschiretz/pgl-mirror/pkg/buildinfo"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// ConfigFileName is the name of the configuration file.
const ConfigFileName = "pgl-mirror.config.json"

// StateDirName is the default state directory, created next to the config file.
const StateDirName = "sync-states"

var (
	// ErrJobNotFound is returned when a job name is not in the registry.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExists is returned when adding a job whose name is taken.
	ErrJobExists = errors.New("job already exists")
)

var jobNamePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

type JobHooksConfig struct {
	// Note: omitempty is intentionally not used so that the hook fields
	// appear in the generated config file for better discoverability.
	// PreSync is a list of shell commands to execute before the reconciliation begins.
	// SECURITY: These commands are executed as provided. Ensure they are from a trusted source.
	PreSync []string `json:"preSync"`
	// PostSync is a list of shell commands to execute after the reconciliation ends.
	// SECURITY: These commands are executed as provided. Ensure they are from a trusted source.
	PostSync []string `json:"postSync"`
}

// JobConfig is one sync job. The name is used to derive every on-disk
// artifact of the job (state file, lock file, quarantine root).
type JobConfig struct {
	Name          string `json:"name"`
	Source        string `json:"source"`
	Destination   string `json:"destination"`
	Bidirectional bool   `json:"bidirectional"`
	Interval      string `json:"interval"`
	// QuarantineRoot overrides the derived <destination volume>/QuarantineRoot/<name>.
	QuarantineRoot  string         `json:"quarantineRoot,omitempty"`
	ExcludeSuffixes []string       `json:"excludeSuffixes"`
	ExcludePatterns []string       `json:"excludePatterns"`
	Hooks           JobHooksConfig `json:"hooks"`
	CreatedAt       time.Time      `json:"createdAt"`
}

type SyncConfig struct {
	RetryCount       int `json:"retryCount"`
	RetryWaitSeconds int `json:"retryWaitSeconds"`
	// ModTimeWindowSeconds widens "equal" modification times. 0 means one
	// side must be strictly newer to be copied.
	ModTimeWindowSeconds   float64  `json:"modTimeWindowSeconds"`
	DefaultExcludeSuffixes []string `json:"defaultExcludeSuffixes"`
	DefaultExcludePatterns []string `json:"defaultExcludePatterns"`
}

type QuarantineConfig struct {
	GracePeriodDays int `json:"gracePeriodDays"`
}

type RuntimeConfig struct {
	DryRun     bool
	ConfigPath string
}

type Config struct {
	Version    string           `json:"version"`
	LogLevel   string           `json:"logLevel"`
	StateDir   string           `json:"stateDir"`
	Metrics    bool             `json:"metrics"`
	Sync       SyncConfig       `json:"sync"`
	Quarantine QuarantineConfig `json:"quarantine"`
	Jobs       []JobConfig      `json:"jobs"`
	Runtime    RuntimeConfig    `json:"-"` // Never added to config file
}

// NewDefault creates and returns a Config struct with sensible default values.
func NewDefault() Config {
	return Config{
		Version:  buildinfo.Version,
		LogLevel: "info",
		StateDir: "", // Resolved next to the config file on Load.
		Metrics:  true,
		Sync: SyncConfig{
			RetryCount:           3,
			RetryWaitSeconds:     5,
			ModTimeWindowSeconds: 0,
			DefaultExcludeSuffixes: []string{
				".tmp",        // Temporary files
				".swp",        // Vim swap files
				".DS_Store",   // macOS folder customization file
				"Thumbs.db",   // Windows image thumbnail cache
				"desktop.ini", // Windows folder customization file
			},
			DefaultExcludePatterns: []string{
				"$Recycle.Bin",
				".Trash-*",
				"System Volume Information",
			},
		},
		Quarantine: QuarantineConfig{
			GracePeriodDays: 30,
		},
		Jobs: []JobConfig{},
	}
}

// DefaultPath returns <user config dir>/pgl-mirror/pgl-mirror.config.json.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("could not determine user config directory: %w", err)
	}
	return filepath.Join(dir, "pgl-mirror", ConfigFileName), nil
}

// Load reads the configuration at path. If the file doesn't exist, it returns
// the default config without an error. Missing fields keep their defaults.
func Load(path string) (Config, error) {
	absPath, err := util.ExpandedAbsPath(path)
	if err != nil {
		return Config{}, err
	}

	config := NewDefault()
	data, err := os.ReadFile(absPath)
	if err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("error opening config file %s: %w", absPath, err)
	}
	if err == nil {
		plog.Debug("Loading configuration", "path", absPath)
		if err := json.Unmarshal(data, &config); err != nil {
			return Config{}, fmt.Errorf("error parsing config file %s: %w", absPath, err)
		}
	}

	config.Runtime.ConfigPath = absPath
	if config.StateDir == "" {
		config.StateDir = filepath.Join(filepath.Dir(absPath), StateDirName)
	}
	if config.Jobs == nil {
		config.Jobs = []JobConfig{}
	}
	config.Version = buildinfo.Version
	return config, nil
}

// Save writes cfg to path, replacing any existing file atomically.
func Save(path string, cfg Config) error {
	jsonData, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config to JSON: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, util.UserWritableDirPerms); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ConfigFileName+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp config file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(jsonData); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write config file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close config file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to replace config file: %w", err)
	}

	plog.Debug("Saved config file", "path", path)
	return nil
}

// Update loads the config at path, applies fn, validates and saves the
// result. Concurrent updates from other processes are serialized with an
// advisory lock on <path>.lock.
func Update(path string, fn func(*Config) error) (Config, error) {
	absPath, err := util.ExpandedAbsPath(path)
	if err != nil {
		return Config{}, err
	}
	if err := os.MkdirAll(filepath.Dir(absPath), util.UserWritableDirPerms); err != nil {
		return Config{}, fmt.Errorf("failed to create config directory: %w", err)
	}

	fileLock := flock.New(absPath + ".lock")
	if err := fileLock.Lock(); err != nil {
		return Config{}, fmt.Errorf("failed to lock config file: %w", err)
	}
	defer fileLock.Unlock()

	cfg, err := Load(absPath)
	if err != nil {
		return Config{}, err
	}
	if err := fn(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	if err := Save(absPath, cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration for logical errors and inconsistencies.
func (c *Config) Validate() error {
	if _, err := plog.LevelFromString(c.LogLevel); err != nil {
		return err
	}
	if c.Sync.RetryCount < 0 {
		return fmt.Errorf("sync.retryCount cannot be negative")
	}
	if c.Sync.RetryWaitSeconds < 0 {
		return fmt.Errorf("sync.retryWaitSeconds cannot be negative")
	}
	if c.Sync.ModTimeWindowSeconds < 0 {
		return fmt.Errorf("sync.modTimeWindowSeconds cannot be negative")
	}
	if c.Quarantine.GracePeriodDays < 0 {
		return fmt.Errorf("quarantine.gracePeriodDays cannot be negative")
	}
	if err := validateGlobPatterns("sync.defaultExcludePatterns", c.Sync.DefaultExcludePatterns); err != nil {
		return err
	}

	seen := make(map[string]struct{}, len(c.Jobs))
	for i := range c.Jobs {
		if err := c.Jobs[i].Validate(); err != nil {
			return fmt.Errorf("job %q: %w", c.Jobs[i].Name, err)
		}
		if _, dup := seen[c.Jobs[i].Name]; dup {
			return fmt.Errorf("job %q: %w", c.Jobs[i].Name, ErrJobExists)
		}
		seen[c.Jobs[i].Name] = struct{}{}
	}
	return nil
}

// Validate checks a single job. Paths are expanded and cleaned in place.
// Existence of the replica roots is not checked here; that is the job of the
// accessibility check at run time.
func (j *JobConfig) Validate() error {
	if !jobNamePattern.MatchString(j.Name) || j.Name == "." || j.Name == ".." {
		return fmt.Errorf("invalid job name %q: use letters, digits, '.', '_' and '-'", j.Name)
	}
	if j.Source == "" {
		return fmt.Errorf("source path cannot be empty")
	}
	if j.Destination == "" {
		return fmt.Errorf("destination path cannot be empty")
	}

	var err error
	if j.Source, err = util.ExpandedAbsPath(j.Source); err != nil {
		return fmt.Errorf("could not expand source path: %w", err)
	}
	if j.Destination, err = util.ExpandedAbsPath(j.Destination); err != nil {
		return fmt.Errorf("could not expand destination path: %w", err)
	}
	if util.IsSubPath(j.Source, j.Destination) || util.IsSubPath(j.Destination, j.Source) {
		return fmt.Errorf("source %s and destination %s must not contain each other", j.Source, j.Destination)
	}
	if j.QuarantineRoot != "" {
		if j.QuarantineRoot, err = util.ExpandedAbsPath(j.QuarantineRoot); err != nil {
			return fmt.Errorf("could not expand quarantine root: %w", err)
		}
		if util.IsSubPath(j.QuarantineRoot, j.Source) || util.IsSubPath(j.QuarantineRoot, j.Destination) {
			return fmt.Errorf("quarantine root %s must not contain a replica", j.QuarantineRoot)
		}
	}

	if j.Interval == "" {
		j.Interval = Hourly.String()
	}
	if _, err := ParseInterval(j.Interval); err != nil {
		return err
	}
	return validateGlobPatterns("excludePatterns", j.ExcludePatterns)
}

// Job returns the job called name.
func (c *Config) Job(name string) (JobConfig, error) {
	for _, j := range c.Jobs {
		if j.Name == name {
			return j, nil
		}
	}
	return JobConfig{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
}

// AddJob validates job and appends it to the registry.
func (c *Config) AddJob(job JobConfig) error {
	if _, err := c.Job(job.Name); err == nil {
		return fmt.Errorf("%w: %s", ErrJobExists, job.Name)
	}
	if err := job.Validate(); err != nil {
		return err
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	c.Jobs = append(c.Jobs, job)
	return nil
}

// RemoveJob deletes the job called name from the registry.
func (c *Config) RemoveJob(name string) error {
	for i, j := range c.Jobs {
		if j.Name == name {
			c.Jobs = append(c.Jobs[:i], c.Jobs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrJobNotFound, name)
}

// ExcludeSuffixes returns the combined default and job suffixes.
func (c *Config) ExcludeSuffixes(job JobConfig) []string {
	return util.MergeAndDeduplicate(c.Sync.DefaultExcludeSuffixes, job.ExcludeSuffixes)
}

// ExcludePatterns returns the combined default and job patterns.
func (c *Config) ExcludePatterns(job JobConfig) []string {
	return util.MergeAndDeduplicate(c.Sync.DefaultExcludePatterns, job.ExcludePatterns)
}

// LogSummary prints a user-friendly summary of the configuration and, if
// given, one job.
func (c *Config) LogSummary(job *JobConfig) {
	logArgs := []any{
		"config", c.Runtime.ConfigPath,
		"log_level", c.LogLevel,
		"state_dir", c.StateDir,
		"dry_run", c.Runtime.DryRun,
		"metrics", c.Metrics,
		"retry", fmt.Sprintf("%dx%ds", c.Sync.RetryCount, c.Sync.RetryWaitSeconds),
		"mod_time_window", c.Sync.ModTimeWindowSeconds,
		"grace_days", c.Quarantine.GracePeriodDays,
	}
	if job != nil {
		mode := "one-way"
		if job.Bidirectional {
			mode = "bidirectional"
		}
		logArgs = append(logArgs,
			"job", job.Name,
			"source", job.Source,
			"destination", job.Destination,
			"mode", mode,
			"interval", job.Interval,
		)
		if suffixes := c.ExcludeSuffixes(*job); len(suffixes) > 0 {
			logArgs = append(logArgs, "exclude_suffixes", strings.Join(suffixes, ", "))
		}
		if patterns := c.ExcludePatterns(*job); len(patterns) > 0 {
			logArgs = append(logArgs, "exclude_patterns", strings.Join(patterns, ", "))
		}
		if len(job.Hooks.PreSync) > 0 {
			logArgs = append(logArgs, "pre_sync_hooks", strings.Join(job.Hooks.PreSync, "; "))
		}
		if len(job.Hooks.PostSync) > 0 {
			logArgs = append(logArgs, "post_sync_hooks", strings.Join(job.Hooks.PostSync, "; "))
		}
	} else {
		logArgs = append(logArgs, "jobs", len(c.Jobs))
	}
	plog.Info("Configuration loaded", logArgs...)
}

// validateGlobPatterns checks if a list of strings are valid doublestar patterns.
func validateGlobPatterns(fieldName string, patterns []string) error {
	for _, pattern := range patterns {
		if !doublestar.ValidatePattern(filepath.ToSlash(pattern)) {
			return fmt.Errorf("invalid glob pattern for %s: %q", fieldName, pattern)
		}
	}
	return nil
}

// MergeConfigWithFlags overlays the configuration values from flags on top of a base
// configuration. setFlags contains only the flags explicitly provided by the user.
func MergeConfigWithFlags(base Config, setFlags map[string]any) Config {
	merged := base

	for name, value := range setFlags {
		switch name {
		case "log-level":
			merged.LogLevel = value.(string)
		case "state-dir":
			merged.StateDir = value.(string)
		case "dry-run":
			merged.Runtime.DryRun = value.(bool)
		case "metrics":
			merged.Metrics = value.(bool)
		case "retry-count":
			merged.Sync.RetryCount = value.(int)
		case "retry-wait":
			merged.Sync.RetryWaitSeconds = value.(int)
		case "mod-time-window":
			merged.Sync.ModTimeWindowSeconds = value.(float64)
		case "grace-days":
			merged.Quarantine.GracePeriodDays = value.(int)
		default:
			plog.Debug("unhandled flag in MergeConfigWithFlags", "flag", name)
		}
	}
	return merged
}
