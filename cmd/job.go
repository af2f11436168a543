package cmd

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-mirror/pkg/config"
	"github.com/paulschiretz/pgl-mirror/pkg/flagparse"
	"github.com/paulschiretz/pgl-mirror/pkg/lockfile"
	"github.com/paulschiretz/pgl-mirror/pkg/planner"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/preflight"
	"github.com/paulschiretz/pgl-mirror/pkg/statefile"
)

func newJobCmd(a *app) *cobra.Command {
	jobCmd := &cobra.Command{
		Use:   "job",
		Short: "Create, list and remove sync jobs",
	}

	var (
		bidirectional   bool
		interval        string
		quarantineRoot  string
		excludeSuffixes string
		excludePatterns string
		preSync         string
		postSync        string
	)
	addCmd := &cobra.Command{
		Use:   "add <name> <source> <destination>",
		Short: "Register a new job",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunJobAdd(a.cfg, config.JobConfig{
				Name:            args[0],
				Source:          args[1],
				Destination:     args[2],
				Bidirectional:   bidirectional,
				Interval:        interval,
				QuarantineRoot:  quarantineRoot,
				ExcludeSuffixes: flagparse.ParseSuffixList(excludeSuffixes),
				ExcludePatterns: flagparse.ParseExcludeList(excludePatterns),
				Hooks: config.JobHooksConfig{
					PreSync:  flagparse.ParseCmdList(preSync),
					PostSync: flagparse.ParseCmdList(postSync),
				},
			})
		},
	}
	f := addCmd.Flags()
	f.SortFlags = false
	f.BoolVarP(&bidirectional, "bidirectional", "b", false, "Propagate changes and deletions in both directions")
	f.StringVarP(&interval, "interval", "i", "hourly", "Daemon interval: 'minute', 'hourly', 'daily', 'weekly' or a duration like '30m'")
	f.StringVar(&quarantineRoot, "quarantine-root", "", "Quarantine directory (default <destination volume>/QuarantineRoot/<name>)")
	f.StringVar(&excludeSuffixes, "exclude-suffixes", "", "Comma-separated list of case-insensitive file suffixes to exclude")
	f.StringVar(&excludePatterns, "exclude-patterns", "", "Comma-separated list of case-insensitive glob patterns to exclude (supports **)")
	f.StringVar(&preSync, "pre-sync", "", "Comma-separated list of commands to run before each sync")
	f.StringVar(&postSync, "post-sync", "", "Comma-separated list of commands to run after each sync")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List registered jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunJobList(a.cfg, cmd.OutOrStdout())
		},
	}

	removeCmd := &cobra.Command{
		Use:   "remove <name>",
		Short: "Remove a job and its sync state. The quarantine is kept.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunJobRemove(a.cfg, args[0])
		},
	}

	jobCmd.AddCommand(addCmd, listCmd, removeCmd)
	return jobCmd
}

// RunJobAdd validates a new job, prepares its destination and adds it to the
// registry file.
func RunJobAdd(cfg config.Config, job config.JobConfig) error {
	if err := job.Validate(); err != nil {
		return err
	}
	if err := preflight.CheckReplicaRoot(job.Source); err != nil {
		return fmt.Errorf("invalid source: %w", err)
	}
	if err := preflight.CheckDestinationAccessible(job.Destination); err != nil {
		return fmt.Errorf("invalid destination: %w", err)
	}
	if err := preflight.ValidateMountPoint(job.Destination); err != nil {
		plog.Warn("Destination may not be on the intended volume", "path", job.Destination, "reason", err)
	}

	if cfg.Runtime.DryRun {
		plog.Info("[DRY RUN] Would add job", "job", job.Name, "source", job.Source, "destination", job.Destination)
		return nil
	}

	if err := preflight.EnsureDestinationWritable(job.Destination); err != nil {
		return err
	}
	if _, err := config.Update(cfg.Runtime.ConfigPath, func(c *config.Config) error {
		return c.AddJob(job)
	}); err != nil {
		return err
	}

	quarantineRoot, err := planner.QuarantineRootFor(job)
	if err != nil {
		quarantineRoot = "unknown: " + err.Error()
	}
	plog.Info("Job added", "job", job.Name, "config", cfg.Runtime.ConfigPath, "quarantine_root", quarantineRoot)
	return nil
}

// RunJobList prints one line per registered job.
func RunJobList(cfg config.Config, w io.Writer) error {
	if len(cfg.Jobs) == 0 {
		fmt.Fprintln(w, "No jobs configured.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tMODE\tINTERVAL\tLAST SYNC\tSOURCE\tDESTINATION")
	for _, job := range cfg.Jobs {
		lastSync := "never"
		if info, err := os.Stat(planner.StatePath(cfg.StateDir, job.Name)); err == nil {
			lastSync = humanize.Time(info.ModTime())
		}
		if lockfile.IsHeld(planner.LockPath(cfg.StateDir, job.Name)) {
			lastSync += " (running)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", job.Name, planner.ModeOf(job), job.Interval, lastSync, job.Source, job.Destination)
	}
	return tw.Flush()
}

// RunJobRemove deletes a job from the registry together with its state file.
// Quarantined files stay where they are.
func RunJobRemove(cfg config.Config, name string) error {
	job, err := cfg.Job(name)
	if err != nil {
		return err
	}
	if lockfile.IsHeld(planner.LockPath(cfg.StateDir, name)) {
		return fmt.Errorf("job %s is running; wait for it to finish or use 'unlock' if the lock is stale", name)
	}

	if cfg.Runtime.DryRun {
		plog.Info("[DRY RUN] Would remove job", "job", name)
		return nil
	}

	if _, err := config.Update(cfg.Runtime.ConfigPath, func(c *config.Config) error {
		return c.RemoveJob(name)
	}); err != nil {
		return err
	}
	if err := statefile.Remove(planner.StatePath(cfg.StateDir, name)); err != nil {
		plog.Warn("Job removed but its state file could not be deleted", "job", name, "error", err)
	}

	logArgs := []any{"job", name}
	if root, err := planner.QuarantineRootFor(job); err == nil {
		logArgs = append(logArgs, "quarantine_root", root)
	}
	plog.Info("Job removed, quarantine kept", logArgs...)
	return nil
}
