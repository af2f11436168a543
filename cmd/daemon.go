package cmd

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/paulschiretz/pgl-mirror/pkg/buildinfo"
	"github.com/paulschiretz/pgl-mirror/pkg/config"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

func newDaemonCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "daemon",
		Short: "Run every job on its own interval until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return RunDaemon(cmd.Context(), a.cfg)
		},
	}
}

// RunDaemon runs each job immediately and then once per interval, until ctx
// is canceled. The job registry is read once at start.
func RunDaemon(ctx context.Context, cfg config.Config) error {
	if len(cfg.Jobs) == 0 {
		return fmt.Errorf("no jobs configured, add one with 'job add'")
	}

	intervals := make(map[string]time.Duration, len(cfg.Jobs))
	for _, job := range cfg.Jobs {
		interval, err := config.ParseInterval(job.Interval)
		if err != nil {
			return fmt.Errorf("job %s: %w", job.Name, err)
		}
		intervals[job.Name] = interval
	}

	plog.Info(buildinfo.Name+" daemon started", "version", buildinfo.Version, "jobs", len(cfg.Jobs))

	var wg sync.WaitGroup
	for name, interval := range intervals {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scheduleJob(ctx, name, interval, func(ctx context.Context) error {
				return RunSync(ctx, cfg, name)
			})
		}()
	}
	wg.Wait()

	plog.Info(buildinfo.Name + " daemon stopped")
	return nil
}

// scheduleJob calls run now and then on every tick until ctx is done. A run
// that outlasts the interval delays the next one; ticks are not queued.
func scheduleJob(ctx context.Context, name string, interval time.Duration, run func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	plog.Info("Scheduled job", "job", name, "interval", interval)
	for {
		if err := run(ctx); err != nil && ctx.Err() == nil {
			plog.Error("Scheduled run failed", "job", name, "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
