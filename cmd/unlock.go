package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-mirror/pkg/config"
	"github.com/paulschiretz/pgl-mirror/pkg/lockfile"
	"github.com/paulschiretz/pgl-mirror/pkg/planner"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

func newUnlockCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "unlock <job>",
		Short: "Remove a stale job lock left behind by a crashed run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunUnlock(a.cfg, args[0])
		},
	}
}

// RunUnlock removes the lock file of a job. Locks never expire on their own,
// so this is the way out after a run was killed.
func RunUnlock(cfg config.Config, jobName string) error {
	if _, err := cfg.Job(jobName); err != nil {
		return err
	}
	lockPath := planner.LockPath(cfg.StateDir, jobName)
	if !lockfile.IsHeld(lockPath) {
		plog.Info("Job is not locked", "job", jobName)
		return nil
	}

	if cfg.Runtime.DryRun {
		plog.Info("[DRY RUN] Would remove lock", "path", lockPath)
		return nil
	}
	if err := lockfile.Remove(lockPath); err != nil {
		return err
	}
	plog.Warn("Lock removed. Make sure no other run of this job is still active.", "job", jobName, "path", lockPath, "removed_at", time.Now().Format(time.DateTime))
	return nil
}
