// Package cmd wires the pgl-mirror command tree. Each command is a thin
// cobra shell around a RunX function that does the work and can be called
// directly from tests.
package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/paulschiretz/pgl-mirror/pkg/buildinfo"
	"github.com/paulschiretz/pgl-mirror/pkg/config"
	"github.com/paulschiretz/pgl-mirror/pkg/flagparse"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// EnvPrefix is the prefix of every environment variable the CLI reads,
// e.g. PGL_MIRROR_CONFIG or PGL_MIRROR_LOG_LEVEL.
const EnvPrefix = "PGL_MIRROR"

// envBoundFlags are the flags that may also be set through the environment.
var envBoundFlags = []string{"config", "log-level", "state-dir"}

// app carries state shared by all commands of one invocation.
type app struct {
	v   *viper.Viper
	cfg config.Config
}

// NewRootCmd builds the complete command tree.
func NewRootCmd() *cobra.Command {
	a := &app{v: viper.New()}

	root := &cobra.Command{
		Use:           "pgl-mirror",
		Short:         "Keep folder pairs in sync and quarantine deletions instead of erasing them",
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.loadConfig(cmd)
		},
	}

	// --- Flag Design Philosophy ---
	// Flags override options that are useful to change for a single
	// invocation. What defines a job long-term (paths, direction, interval,
	// exclusions) lives in the job registry and is edited with `job`.
	pf := root.PersistentFlags()
	pf.SortFlags = false
	pf.StringP("config", "c", "", "Config file (default <user config dir>/pgl-mirror/"+config.ConfigFileName+")")
	pf.String("log-level", "", "Logging level: 'debug', 'notice', 'info', 'warn', 'error'")
	pf.BoolP("quiet", "q", false, "Only print warnings and errors")
	pf.String("state-dir", "", "Directory holding the per-job state and lock files")
	pf.Bool("dry-run", false, "Show what would be done without making any changes")
	pf.Bool("metrics", true, "Log a summary of counters at the end of each run")
	pf.Int("retry-count", 0, "Number of retries for failed file copies")
	pf.Int("retry-wait", 0, "Seconds to wait between copy retries")
	pf.Float64("mod-time-window", 0, "Seconds by which a file must be newer to overwrite its counterpart (0=strictly newer)")
	pf.Int("grace-days", 0, "Days a quarantined file is kept before it is purged")

	a.v.SetEnvPrefix(EnvPrefix)
	a.v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	a.v.AutomaticEnv()
	for _, name := range envBoundFlags {
		_ = a.v.BindPFlag(name, pf.Lookup(name))
	}

	root.AddCommand(
		newRunCmd(a),
		newDaemonCmd(a),
		newJobCmd(a),
		newQuarantineCmd(a),
		newUnlockCmd(a),
		newVersionCmd(),
	)
	return root
}

// loadConfig resolves the config file, overlays flags and environment, and
// applies the logging settings. Precedence: flag, environment, config file,
// built-in default.
func (a *app) loadConfig(cmd *cobra.Command) error {
	path := a.v.GetString("config")
	if path == "" {
		var err error
		if path, err = config.DefaultPath(); err != nil {
			return err
		}
	}

	loaded, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	setFlags := flagparse.ChangedFlags(cmd.Flags())
	for _, name := range envBoundFlags {
		if _, ok := setFlags[name]; !ok {
			if val := a.v.GetString(name); val != "" {
				setFlags[name] = val
			}
		}
	}
	delete(setFlags, "config")
	delete(setFlags, "quiet")

	cfg := config.MergeConfigWithFlags(loaded, setFlags)
	if cfg.StateDir, err = util.ExpandedAbsPath(cfg.StateDir); err != nil {
		return fmt.Errorf("invalid state directory: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	level, err := plog.LevelFromString(cfg.LogLevel)
	if err != nil {
		return err
	}
	plog.SetLevel(level)
	quiet, _ := cmd.Flags().GetBool("quiet")
	plog.SetQuiet(quiet)

	a.cfg = cfg
	return nil
}
