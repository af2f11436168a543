package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/paulschiretz/pgl-mirror/pkg/hints"
	"github.com/paulschiretz/pgl-mirror/pkg/hook"
	"github.com/paulschiretz/pgl-mirror/pkg/lockfile"
	"github.com/paulschiretz/pgl-mirror/pkg/metrics"
	"github.com/paulschiretz/pgl-mirror/pkg/pathsync"
	"github.com/paulschiretz/pgl-mirror/pkg/planner"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/preflight"
	"github.com/paulschiretz/pgl-mirror/pkg/quarantine"
	"github.com/paulschiretz/pgl-mirror/pkg/reconcile"
	"github.com/paulschiretz/pgl-mirror/pkg/snapshot"
	"github.com/paulschiretz/pgl-mirror/pkg/statefile"
)

// --- ARCHITECTURAL OVERVIEW: One run of one job ---
//
// A run is a single pass with a fixed order:
//
//	lock -> accessibility -> pre-sync hooks -> purge -> scan A|B -> load state
//	-> decide -> apply -> save state -> post-sync hooks -> release
//
// The job lock makes a second run of the same job a no-op instead of a race.
// Accessibility is decided once, before anything is read, and the same answer
// gates both scanning and deletion inference. State is written only after the
// whole pass: a run that dies halfway leaves the previous state, and the next
// run repeats the work against it.

var (
	// ErrJobLocked is returned as a hint when another run holds the job lock.
	ErrJobLocked = hints.New("job is locked by another run")
	// ErrNoReplicaAccessible is returned when neither replica can be read.
	ErrNoReplicaAccessible = reconcile.ErrNoReplicaAccessible
)

// Result describes a finished run.
type Result struct {
	RunID       string
	AAccessible bool
	BAccessible bool
	Actions     []reconcile.Action
	// State is the last-synced state after the run. In a dry run it is the
	// state that would have been saved.
	State   snapshot.Snapshot
	Purged  int
	Metrics *metrics.RunMetrics
}

// Runner executes sync plans.
type Runner struct {
	hooks *hook.HookExecutor
}

// NewRunner creates a Runner. hooks may be nil, in which case hooks are skipped.
func NewRunner(hooks *hook.HookExecutor) *Runner {
	return &Runner{hooks: hooks}
}

// Run performs one reconciliation pass of the job described by p.
func (r *Runner) Run(ctx context.Context, p *planner.SyncPlan) (*Result, error) {
	// Check for cancellation at the very beginning.
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	start := time.Now()
	log := []any{"job", p.JobName, "run", p.RunID}

	lock, err := lockfile.TryAcquire(p.LockPath)
	if err != nil {
		var lockErr *lockfile.ErrLockActive
		if errors.As(err, &lockErr) {
			plog.Warn("Job is already running, skipping run.", append(log, "details", lockErr.Error())...)
			return nil, fmt.Errorf("%w: %s", ErrJobLocked, p.JobName)
		}
		return nil, fmt.Errorf("failed to acquire job lock: %w", err)
	}
	defer lock.Release()
	plog.Debug("Job lock acquired", append(log, "path", lock.Path())...)

	res := &Result{
		RunID:       p.RunID,
		AAccessible: preflight.IsAccessible(p.SourceRoot),
		BAccessible: preflight.IsAccessible(p.DestinationRoot),
		Metrics:     &metrics.RunMetrics{},
	}
	if !res.AAccessible {
		plog.Warn("Source is not accessible, deletions on the destination will not be propagated", append(log, "path", p.SourceRoot)...)
	}
	if !res.BAccessible {
		plog.Warn("Destination is not accessible, deletions on the source will not be propagated", append(log, "path", p.DestinationRoot)...)
	}
	if !res.AAccessible && !res.BAccessible {
		return nil, fmt.Errorf("job %s: %w", p.JobName, ErrNoReplicaAccessible)
	}

	if err := r.runHook(ctx, p, true); err != nil {
		errMsg := "pre-sync hook failed"
		if errors.Is(err, context.Canceled) {
			errMsg = "pre-sync hook canceled"
		}
		return nil, fmt.Errorf("%s: %w", errMsg, err)
	}
	// Post-sync hooks run at the end, even if the sync fails.
	defer func() {
		if err := r.runHook(ctx, p, false); err != nil {
			if errors.Is(err, context.Canceled) {
				plog.Info("post-sync hooks skipped due to cancellation.")
			} else {
				plog.Warn("post-sync hook failed", "error", err)
			}
		}
	}()

	plog.Info("Starting sync", append(log,
		"source", p.SourceRoot,
		"destination", p.DestinationRoot,
		"mode", p.Mode,
		"dry_run", p.DryRun)...)

	res.Purged = purgeQuarantine(ctx, p)
	res.Metrics.AddPurged(int64(res.Purged))

	currentA, currentB, err := scanReplicas(ctx, p, res.AAccessible, res.BAccessible)
	if err != nil {
		return nil, err
	}

	lastSynced, err := statefile.Load(p.StatePath)
	if err != nil {
		return nil, err
	}

	decision, err := reconcile.Decide(currentA, currentB, lastSynced, reconcile.Options{
		Bidirectional: p.Mode == planner.Bidirectional,
		AAccessible:   res.AAccessible,
		BAccessible:   res.BAccessible,
		ModTimeWindow: p.ModTimeWindow,
	})
	if err != nil {
		return nil, err
	}
	res.Actions = decision.Actions
	plog.Debug("Reconciliation decided", append(log, "actions", len(decision.Actions), "unchanged", decision.Unchanged)...)

	copier := pathsync.NewCopier(p.RetryCount, p.RetryWait)
	quarantiner := quarantine.NewManager(p.QuarantineRoot, p.JobName, copier)
	applier := reconcile.NewApplier(p.SourceRoot, p.DestinationRoot, copier, quarantiner, res.Metrics, p.DryRun)

	newState, err := applier.Apply(ctx, decision)
	if err != nil {
		return nil, fmt.Errorf("sync aborted, state not saved: %w", err)
	}
	res.State = newState

	if p.DryRun {
		plog.Info("[DRY RUN] Skipping state save", "path", p.StatePath)
	} else if err := statefile.Save(p.StatePath, newState); err != nil {
		return nil, err
	}

	if p.Metrics {
		res.Metrics.Log(time.Since(start))
	}
	plog.Info("Sync completed", log...)
	return res, nil
}

// runHook runs the pre- or post-sync hooks. Disabled or empty hooks are not errors.
func (r *Runner) runHook(ctx context.Context, p *planner.SyncPlan, pre bool) error {
	if r.hooks == nil || p.Hooks == nil {
		return nil
	}
	var err error
	if pre {
		err = r.hooks.RunPreSync(ctx, p.Hooks)
	} else {
		err = r.hooks.RunPostSync(ctx, p.Hooks)
	}
	if hints.IsHint(err) {
		return nil
	}
	return err
}

// purgeQuarantine erases expired quarantine entries. Failures never fail the run.
func purgeQuarantine(ctx context.Context, p *planner.SyncPlan) int {
	if p.DryRun {
		plog.Info("[DRY RUN] Skipping quarantine purge", "root", p.QuarantineRoot)
		return 0
	}
	purged, err := quarantine.Purge(ctx, p.QuarantineRoot, p.GraceDays)
	if err != nil {
		if !hints.IsHint(err) {
			plog.Warn("Quarantine purge failed", "root", p.QuarantineRoot, "error", err)
		}
		return purged
	}
	if purged > 0 {
		plog.Info("Purged expired quarantine entries", "count", purged, "grace_days", p.GraceDays)
	}
	return purged
}

// scanReplicas snapshots both accessible replicas concurrently. An
// inaccessible replica yields a nil snapshot.
func scanReplicas(ctx context.Context, p *planner.SyncPlan, aAccessible, bAccessible bool) (snapshot.Snapshot, snapshot.Snapshot, error) {
	var currentA, currentB snapshot.Snapshot
	g, gctx := errgroup.WithContext(ctx)
	if aAccessible {
		g.Go(func() error {
			var err error
			currentA, err = snapshot.Scan(gctx, p.SourceRoot, p.Exclusions, p.QuarantineRoot)
			return err
		})
	}
	if bAccessible {
		g.Go(func() error {
			var err error
			currentB, err = snapshot.Scan(gctx, p.DestinationRoot, p.Exclusions, p.QuarantineRoot)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("scan failed: %w", err)
	}
	return currentA, currentB, nil
}
