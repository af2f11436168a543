package planner

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/paulschiretz/pgl-mirror/pkg/buildinfo"
	"github.com/paulschiretz/pgl-mirror/pkg/config"
	"github.com/paulschiretz/pgl-mirror/pkg/hook"
	"github.com/paulschiretz/pgl-mirror/pkg/preflight"
	"github.com/paulschiretz/pgl-mirror/pkg/quarantine"
	"github.com/paulschiretz/pgl-mirror/pkg/snapshot"
)

// SyncPlan is everything one run of one job needs, resolved from the config.
type SyncPlan struct {
	JobName string
	RunID   string
	Mode    Mode
	DryRun  bool
	Metrics bool

	SourceRoot      string
	DestinationRoot string
	QuarantineRoot  string
	StatePath       string
	LockPath        string

	Exclusions    *snapshot.Exclusions
	ModTimeWindow float64
	RetryCount    int
	RetryWait     time.Duration
	GraceDays     int

	Hooks *hook.Plan
}

// StatePath returns the last-synced state file of a job.
func StatePath(stateDir, jobName string) string {
	return filepath.Join(stateDir, fmt.Sprintf("state_%s-%s.json", buildinfo.ArtifactPrefix, jobName))
}

// LockPath returns the job lock file of a job.
func LockPath(stateDir, jobName string) string {
	return filepath.Join(stateDir, fmt.Sprintf("%s-%s.lock", buildinfo.ArtifactPrefix, jobName))
}

// QuarantineRootFor returns the job's quarantine root: the configured override,
// or <mount point of the destination>/QuarantineRoot/<name>.
func QuarantineRootFor(job config.JobConfig) (string, error) {
	if job.QuarantineRoot != "" {
		return job.QuarantineRoot, nil
	}
	mount, err := preflight.MountRoot(job.Destination)
	if err != nil {
		return "", err
	}
	return filepath.Join(mount, quarantine.DirName, job.Name), nil
}

// GenerateSyncPlan resolves the plan for one run of the named job.
func GenerateSyncPlan(cfg config.Config, jobName string) (*SyncPlan, error) {
	job, err := cfg.Job(jobName)
	if err != nil {
		return nil, err
	}

	exclusions, err := snapshot.NewExclusions(cfg.ExcludeSuffixes(job), cfg.ExcludePatterns(job))
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.Name, err)
	}

	quarantineRoot, err := QuarantineRootFor(job)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", job.Name, err)
	}

	runID := uuid.NewString()

	return &SyncPlan{
		JobName: job.Name,
		RunID:   runID,
		Mode:    ModeOf(job),
		DryRun:  cfg.Runtime.DryRun,
		Metrics: cfg.Metrics,

		SourceRoot:      job.Source,
		DestinationRoot: job.Destination,
		QuarantineRoot:  quarantineRoot,
		StatePath:       StatePath(cfg.StateDir, job.Name),
		LockPath:        LockPath(cfg.StateDir, job.Name),

		Exclusions:    exclusions,
		ModTimeWindow: cfg.Sync.ModTimeWindowSeconds,
		RetryCount:    cfg.Sync.RetryCount,
		RetryWait:     time.Duration(cfg.Sync.RetryWaitSeconds) * time.Second,
		GraceDays:     cfg.Quarantine.GracePeriodDays,

		Hooks: &hook.Plan{
			Enabled:          len(job.Hooks.PreSync) > 0 || len(job.Hooks.PostSync) > 0,
			PreSyncCommands:  job.Hooks.PreSync,
			PostSyncCommands: job.Hooks.PostSync,
			JobName:          job.Name,
			RunID:            runID,
			DryRun:           cfg.Runtime.DryRun,
			FailFast:         true,
		},
	}, nil
}
