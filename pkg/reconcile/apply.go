package reconcile

import (
	"context"
	"path/filepath"

	"github.com/paulschiretz/pgl-mirror/pkg/metrics"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
	"github.com/paulschiretz/pgl-mirror/pkg/quarantine"
	"github.com/paulschiretz/pgl-mirror/pkg/snapshot"
	"github.com/paulschiretz/pgl-mirror/pkg/util"
)

// Copier copies one file and returns the entry of the written destination.
type Copier interface {
	CopyFile(ctx context.Context, absSrcPath, absTrgPath string) (snapshot.Entry, error)
}

// Quarantiner moves one file into quarantine.
type Quarantiner interface {
	Quarantine(ctx context.Context, absPath, relKey string, dir quarantine.Direction) (string, error)
}

// Applier executes the actions of a Result against the two replica roots.
type Applier struct {
	rootA       string
	rootB       string
	copier      Copier
	quarantiner Quarantiner
	metrics     metrics.Metrics
	dryRun      bool
}

// NewApplier creates an applier. With dryRun set, actions are only logged.
func NewApplier(rootA, rootB string, copier Copier, quarantiner Quarantiner, m metrics.Metrics, dryRun bool) *Applier {
	if m == nil {
		m = &metrics.NoopMetrics{}
	}
	return &Applier{
		rootA:       rootA,
		rootB:       rootB,
		copier:      copier,
		quarantiner: quarantiner,
		metrics:     m,
		dryRun:      dryRun,
	}
}

// Apply runs every action in order and returns the new last-synced state.
// A failed copy or quarantine is logged and its path falls back to its
// previous state; it never stops the pass. The only error returned is the
// context's, in which case the returned state must not be persisted.
func (ap *Applier) Apply(ctx context.Context, res *Result) (snapshot.Snapshot, error) {
	state := res.State.Clone()
	ap.metrics.AddUnchanged(int64(res.Unchanged))

	for _, act := range res.Actions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if ap.dryRun {
			plog.Notice("[DRY RUN] "+act.Kind.String(), "path", act.Path)
			continue
		}

		if err := ap.applyOne(ctx, act, state); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			plog.Warn("Action failed, path will be retried on the next run", "action", act.Kind.String(), "path", act.Path, "error", err)
			ap.metrics.AddFailed(1)
			if act.HasLast {
				state[act.Path] = act.Last
			} else {
				delete(state, act.Path)
			}
		}
	}
	return state, nil
}

func (ap *Applier) applyOne(ctx context.Context, act Action, state snapshot.Snapshot) error {
	absA := filepath.Join(ap.rootA, util.DenormalizePath(act.Path))
	absB := filepath.Join(ap.rootB, util.DenormalizePath(act.Path))

	switch act.Kind {
	case CopyAToB:
		entry, err := ap.copier.CopyFile(ctx, absA, absB)
		if err != nil {
			return err
		}
		state[act.Path] = entry
		ap.metrics.AddCopiedAToB(1)
		ap.metrics.AddBytesCopied(entry.Size)
		plog.Notice("COPY", "path", act.Path, "direction", "A->B")

	case CopyBToA:
		entry, err := ap.copier.CopyFile(ctx, absB, absA)
		if err != nil {
			return err
		}
		state[act.Path] = entry
		ap.metrics.AddCopiedBToA(1)
		ap.metrics.AddBytesCopied(entry.Size)
		plog.Notice("COPY", "path", act.Path, "direction", "B->A")

	case QuarantineA:
		if _, err := ap.quarantiner.Quarantine(ctx, absA, act.Path, act.Direction); err != nil {
			return err
		}
		delete(state, act.Path)
		ap.metrics.AddQuarantined(1)

	case QuarantineB:
		if _, err := ap.quarantiner.Quarantine(ctx, absB, act.Path, act.Direction); err != nil {
			return err
		}
		delete(state, act.Path)
		ap.metrics.AddQuarantined(1)
	}
	return nil
}
