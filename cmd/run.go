package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-mirror/pkg/buildinfo"
	"github.com/paulschiretz/pgl-mirror/pkg/config"
	"github.com/paulschiretz/pgl-mirror/pkg/engine"
	"github.com/paulschiretz/pgl-mirror/pkg/hints"
	"github.com/paulschiretz/pgl-mirror/pkg/hook"
	"github.com/paulschiretz/pgl-mirror/pkg/planner"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

func newRunCmd(a *app) *cobra.Command {
	var all bool
	runCmd := &cobra.Command{
		Use:   "run [job]",
		Short: "Run one reconciliation pass of a job, or of every job with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			switch {
			case all && len(args) == 0:
				return RunAll(cmd.Context(), a.cfg)
			case !all && len(args) == 1:
				return RunSync(cmd.Context(), a.cfg, args[0])
			default:
				return fmt.Errorf("specify either a job name or --all")
			}
		},
	}
	runCmd.Flags().BoolVar(&all, "all", false, "Run every configured job in turn")
	return runCmd
}

// RunSync handles one run of one job. A job locked by another run is skipped
// without an error.
func RunSync(ctx context.Context, cfg config.Config, jobName string) error {
	syncPlan, err := planner.GenerateSyncPlan(cfg, jobName)
	if err != nil {
		return err
	}

	job, _ := cfg.Job(jobName)
	cfg.LogSummary(&job)

	runner := engine.NewRunner(hook.NewHookExecutor(exec.CommandContext))

	startTime := time.Now()
	_, err = runner.Run(ctx, syncPlan)
	duration := time.Since(startTime).Round(time.Millisecond)
	if err != nil {
		if hints.Is(err, engine.ErrJobLocked) {
			plog.Info("Skipped run, job is locked by another run", "job", jobName)
			return nil
		}
		return err // The error will be logged with full details by main()
	}
	plog.Info(buildinfo.Name+" finished successfully.", "job", jobName, "duration", duration)
	return nil
}

// RunAll runs every job once, in registry order. A failing job does not stop
// the others; all failures are returned together.
func RunAll(ctx context.Context, cfg config.Config) error {
	if len(cfg.Jobs) == 0 {
		plog.Info("No jobs configured, nothing to run")
		return nil
	}

	var errs []error
	for _, job := range cfg.Jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := RunSync(ctx, cfg, job.Name); err != nil {
			plog.Error("Job failed", "job", job.Name, "error", err)
			errs = append(errs, fmt.Errorf("job %s: %w", job.Name, err))
		}
	}
	return errors.Join(errs...)
}
