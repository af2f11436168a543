// --- ARCHITECTURAL OVERVIEW: Three-way reconciliation ---
//
// Every path in the union of current_A, current_B and last_synced is decided
// on its own, in sorted order:
//
//  1. Deletion inference. A path that was synced last time but is now
//     missing on one side was deleted there, so the surviving copy on the
//     other side is quarantined. The side whose absence is the evidence must
//     be accessible; an offline replica scans as empty and would otherwise
//     look like "everything was deleted".
//  2. Propagation. A→B when B lacks the file or A's copy is strictly newer;
//     B→A symmetrically, bidirectional jobs only.
//  3. Carry-forward. Anything else keeps its metadata so the next run has a
//     correct reference point.
//
// Decide is pure. It returns the actions and the state that results if every
// action succeeds; Applier executes the actions and repairs the state for the
// ones that fail.

// Package reconcile computes and applies the actions that converge two replicas.
package reconcile

import (
	"errors"
	"fmt"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/paulschiretz/pgl-mirror/pkg/quarantine"
	"github.com/paulschiretz/pgl-mirror/pkg/snapshot"
)

// ErrNoReplicaAccessible is returned when neither replica can be read. No
// path is processed and no state may be persisted.
var ErrNoReplicaAccessible = errors.New("neither replica is accessible")

// ActionKind identifies what an action does.
type ActionKind int

const (
	// CopyAToB overwrites B's copy with A's.
	CopyAToB ActionKind = iota
	// CopyBToA overwrites A's copy with B's.
	CopyBToA
	// QuarantineA moves A's copy into quarantine.
	QuarantineA
	// QuarantineB moves B's copy into quarantine.
	QuarantineB
)

var actionKindToString = map[ActionKind]string{
	CopyAToB:    "copy A->B",
	CopyBToA:    "copy B->A",
	QuarantineA: "quarantine A",
	QuarantineB: "quarantine B",
}

func (k ActionKind) String() string {
	if s, ok := actionKindToString[k]; ok {
		return s
	}
	return fmt.Sprintf("unknown_action(%d)", k)
}

// Action is one filesystem change for one path.
type Action struct {
	Path string
	Kind ActionKind
	// Direction is set for quarantine actions.
	Direction quarantine.Direction
	// Last is the path's last-synced entry, restored into the new state if
	// the action fails. HasLast is false for paths never synced before.
	Last    snapshot.Entry
	HasLast bool
}

// Options are the per-run inputs besides the three snapshots.
type Options struct {
	Bidirectional bool
	AAccessible   bool
	BAccessible   bool
	// ModTimeWindow is the number of seconds by which one side must be newer
	// before it overwrites the other. Zero means strictly newer.
	ModTimeWindow float64
}

// Result is the outcome of Decide.
type Result struct {
	Actions []Action
	// State is the new last-synced state assuming every action succeeds.
	// Copy actions hold the source entry until Applier replaces it with the
	// metadata of the written file.
	State snapshot.Snapshot
	// Unchanged counts paths carried forward without an action.
	Unchanged int
}

// Decide computes the actions that reconcile currentA and currentB against
// lastSynced. A snapshot of an inaccessible replica is ignored.
//
// One case deliberately departs from "a file present in A keeps A's metadata
// in the new state": in a bidirectional job, a path that is new in A (absent
// from lastSynced) while B is offline is left out of the new state. Recording
// it would make the next run, with B back online, read B's missing copy as a
// deletion on B and quarantine A's fresh file. Left out, it is simply copied
// to B on that run. One-way jobs and already-tracked paths record A's
// metadata as usual.
func Decide(currentA, currentB, lastSynced snapshot.Snapshot, opts Options) (*Result, error) {
	if !opts.AAccessible && !opts.BAccessible {
		return nil, ErrNoReplicaAccessible
	}
	if !opts.AAccessible {
		currentA = nil
	}
	if !opts.BAccessible {
		currentB = nil
	}

	res := &Result{State: make(snapshot.Snapshot)}
	for _, p := range unionKeys(currentA, currentB, lastSynced) {
		a, inA := currentA[p]
		b, inB := currentB[p]
		last, inL := lastSynced[p]

		// 1. Deletion inference.
		if opts.AAccessible && inL && !inA && inB {
			dir := quarantine.OneWay
			if opts.Bidirectional {
				dir = quarantine.AToB
			}
			res.Actions = append(res.Actions, Action{Path: p, Kind: QuarantineB, Direction: dir, Last: last, HasLast: true})
			continue
		}
		if opts.Bidirectional && opts.BAccessible && inL && !inB && inA {
			res.Actions = append(res.Actions, Action{Path: p, Kind: QuarantineA, Direction: quarantine.BToA, Last: last, HasLast: true})
			continue
		}

		// 2. Propagation.
		if inA && opts.BAccessible && (!inB || newer(a, b, opts.ModTimeWindow)) {
			res.Actions = append(res.Actions, Action{Path: p, Kind: CopyAToB, Last: last, HasLast: inL})
			res.State[p] = a
			continue
		}
		if opts.Bidirectional && inB && opts.AAccessible && (!inA || newer(b, a, opts.ModTimeWindow)) {
			res.Actions = append(res.Actions, Action{Path: p, Kind: CopyBToA, Last: last, HasLast: inL})
			res.State[p] = b
			continue
		}

		// 3. Carry-forward.
		switch {
		case inA && (opts.BAccessible || inL || !opts.Bidirectional):
			// A file first seen while B is offline is not recorded in a
			// bidirectional job: recording it would make B's missing copy
			// look like a deletion on the next run.
			res.State[p] = a
			res.Unchanged++
		case inL && (!opts.AAccessible || !opts.BAccessible):
			res.State[p] = last
			res.Unchanged++
		}
	}
	return res, nil
}

// newer reports whether x is more recent than y by more than window seconds.
func newer(x, y snapshot.Entry, window float64) bool {
	return x.ModTime > y.ModTime+window
}

func unionKeys(snaps ...snapshot.Snapshot) []string {
	union := mapset.NewThreadUnsafeSet[string]()
	for _, s := range snaps {
		for k := range s {
			union.Add(k)
		}
	}
	keys := union.ToSlice()
	sort.Strings(keys)
	return keys
}
