package reconcile

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulschiretz/pgl-mirror/pkg/quarantine"
	"github.com/paulschiretz/pgl-mirror/pkg/snapshot"
)

var (
	t0 = snapshot.Entry{ModTime: 1000, Size: 10}
	t1 = snapshot.Entry{ModTime: 2000, Size: 20}
)

func both(bidi bool) Options {
	return Options{Bidirectional: bidi, AAccessible: true, BAccessible: true}
}

func kinds(res *Result) map[string]ActionKind {
	out := make(map[string]ActionKind, len(res.Actions))
	for _, a := range res.Actions {
		out[a.Path] = a.Kind
	}
	return out
}

func TestDecide(t *testing.T) {
	testCases := []struct {
		name      string
		a, b, l   snapshot.Snapshot
		opts      Options
		actions   map[string]ActionKind
		state     snapshot.Snapshot
		direction quarantine.Direction
	}{
		{
			name:    "New file in A is copied to B",
			a:       snapshot.Snapshot{"f": t0},
			opts:    both(false),
			actions: map[string]ActionKind{"f": CopyAToB},
			state:   snapshot.Snapshot{"f": t0},
		},
		{
			name:    "Newer A overwrites B",
			a:       snapshot.Snapshot{"f": t1},
			b:       snapshot.Snapshot{"f": t0},
			l:       snapshot.Snapshot{"f": t0},
			opts:    both(true),
			actions: map[string]ActionKind{"f": CopyAToB},
			state:   snapshot.Snapshot{"f": t1},
		},
		{
			name:    "Newer B overwrites A in bidirectional mode",
			a:       snapshot.Snapshot{"f": t0},
			b:       snapshot.Snapshot{"f": t1},
			l:       snapshot.Snapshot{"f": t0},
			opts:    both(true),
			actions: map[string]ActionKind{"f": CopyBToA},
			state:   snapshot.Snapshot{"f": t1},
		},
		{
			name:    "Newer B is left alone in one-way mode",
			a:       snapshot.Snapshot{"f": t0},
			b:       snapshot.Snapshot{"f": t1},
			l:       snapshot.Snapshot{"f": t0},
			opts:    both(false),
			actions: map[string]ActionKind{},
			state:   snapshot.Snapshot{"f": t0},
		},
		{
			name:    "New file in B is copied to A in bidirectional mode",
			b:       snapshot.Snapshot{"f": t0},
			opts:    both(true),
			actions: map[string]ActionKind{"f": CopyBToA},
			state:   snapshot.Snapshot{"f": t0},
		},
		{
			name:    "Untracked file in B is ignored in one-way mode",
			b:       snapshot.Snapshot{"f": t0},
			opts:    both(false),
			actions: map[string]ActionKind{},
			state:   snapshot.Snapshot{},
		},
		{
			name:      "Deleted from A quarantines B in bidirectional mode",
			b:         snapshot.Snapshot{"f": t0},
			l:         snapshot.Snapshot{"f": t0},
			opts:      both(true),
			actions:   map[string]ActionKind{"f": QuarantineB},
			state:     snapshot.Snapshot{},
			direction: quarantine.AToB,
		},
		{
			name:      "Deleted from B quarantines A in bidirectional mode",
			a:         snapshot.Snapshot{"f": t0},
			l:         snapshot.Snapshot{"f": t0},
			opts:      both(true),
			actions:   map[string]ActionKind{"f": QuarantineA},
			state:     snapshot.Snapshot{},
			direction: quarantine.BToA,
		},
		{
			name:      "Deleted from A quarantines B in one-way mode",
			b:         snapshot.Snapshot{"f": t0},
			l:         snapshot.Snapshot{"f": t0},
			opts:      both(false),
			actions:   map[string]ActionKind{"f": QuarantineB},
			state:     snapshot.Snapshot{},
			direction: quarantine.OneWay,
		},
		{
			name:    "Missing from B is recopied in one-way mode",
			a:       snapshot.Snapshot{"f": t0},
			l:       snapshot.Snapshot{"f": t0},
			opts:    both(false),
			actions: map[string]ActionKind{"f": CopyAToB},
			state:   snapshot.Snapshot{"f": t0},
		},
		{
			name:    "Deleted on both sides is forgotten",
			l:       snapshot.Snapshot{"f": t0},
			opts:    both(true),
			actions: map[string]ActionKind{},
			state:   snapshot.Snapshot{},
		},
		{
			name:    "Equal timestamps never copy",
			a:       snapshot.Snapshot{"f": {ModTime: 1000, Size: 1}},
			b:       snapshot.Snapshot{"f": {ModTime: 1000, Size: 999}},
			opts:    both(true),
			actions: map[string]ActionKind{},
			state:   snapshot.Snapshot{"f": {ModTime: 1000, Size: 1}},
		},
		{
			name: "Mod time window absorbs small differences",
			a:    snapshot.Snapshot{"f": {ModTime: 1001, Size: 1}},
			b:    snapshot.Snapshot{"f": {ModTime: 1000, Size: 1}},
			l:    snapshot.Snapshot{"f": {ModTime: 1000, Size: 1}},
			opts: Options{
				Bidirectional: true, AAccessible: true, BAccessible: true, ModTimeWindow: 2,
			},
			actions: map[string]ActionKind{},
			state:   snapshot.Snapshot{"f": {ModTime: 1001, Size: 1}},
		},
		{
			name:    "A offline keeps last state and never quarantines B",
			a:       snapshot.Snapshot{},
			b:       snapshot.Snapshot{"f": t0, "new": t1},
			l:       snapshot.Snapshot{"f": t0},
			opts:    Options{Bidirectional: true, AAccessible: false, BAccessible: true},
			actions: map[string]ActionKind{},
			state:   snapshot.Snapshot{"f": t0},
		},
		{
			name:    "B offline keeps tracked A files but does not record new ones",
			a:       snapshot.Snapshot{"f": t1, "new": t0},
			b:       snapshot.Snapshot{},
			l:       snapshot.Snapshot{"f": t0, "gone-from-b": t0},
			opts:    Options{Bidirectional: true, AAccessible: true, BAccessible: false},
			actions: map[string]ActionKind{},
			state:   snapshot.Snapshot{"f": t1, "gone-from-b": t0},
		},
		{
			name:    "B offline in one-way mode records A's files",
			a:       snapshot.Snapshot{"new": t0},
			l:       snapshot.Snapshot{},
			opts:    Options{Bidirectional: false, AAccessible: true, BAccessible: false},
			actions: map[string]ActionKind{},
			state:   snapshot.Snapshot{"new": t0},
		},
		{
			name:    "A offline in one-way mode keeps last state",
			b:       snapshot.Snapshot{"f": t0},
			l:       snapshot.Snapshot{"f": t0},
			opts:    Options{Bidirectional: false, AAccessible: false, BAccessible: true},
			actions: map[string]ActionKind{},
			state:   snapshot.Snapshot{"f": t0},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Decide(tc.a, tc.b, tc.l, tc.opts)
			require.NoError(t, err)
			assert.Equal(t, tc.actions, kinds(res))
			assert.Equal(t, tc.state, res.State)
			for _, a := range res.Actions {
				if a.Kind == QuarantineA || a.Kind == QuarantineB {
					assert.Equal(t, tc.direction, a.Direction)
				}
			}
		})
	}
}

func TestDecideNewFileWhileBOfflineIsCopiedLater(t *testing.T) {
	a := snapshot.Snapshot{"new": {ModTime: 1000, Size: 3}}

	offline, err := Decide(a, nil, snapshot.Snapshot{}, Options{Bidirectional: true, AAccessible: true})
	require.NoError(t, err)
	assert.NotContains(t, offline.State, "new")

	// B is back and has no copy yet: A's file must be copied, not quarantined.
	online, err := Decide(a, snapshot.Snapshot{}, offline.State, both(true))
	require.NoError(t, err)
	assert.Equal(t, map[string]ActionKind{"new": CopyAToB}, kinds(online))
}

func TestDecideNoReplicaAccessible(t *testing.T) {
	res, err := Decide(nil, nil, snapshot.Snapshot{"f": t0}, Options{Bidirectional: true})
	assert.ErrorIs(t, err, ErrNoReplicaAccessible)
	assert.Nil(t, res)
}

func TestDecideActionsAreSorted(t *testing.T) {
	a := snapshot.Snapshot{"z": t0, "a": t0, "m/n": t0}
	res, err := Decide(a, nil, nil, both(false))
	require.NoError(t, err)
	require.Len(t, res.Actions, 3)
	assert.Equal(t, "a", res.Actions[0].Path)
	assert.Equal(t, "m/n", res.Actions[1].Path)
	assert.Equal(t, "z", res.Actions[2].Path)
}

type fakeCopier struct {
	fail   map[string]bool
	result snapshot.Entry
	calls  []string
}

func (f *fakeCopier) CopyFile(_ context.Context, src, dst string) (snapshot.Entry, error) {
	f.calls = append(f.calls, src+"->"+dst)
	if f.fail[src] {
		return snapshot.Entry{}, errors.New("disk full")
	}
	return f.result, nil
}

type fakeQuarantiner struct {
	fail  bool
	calls []string
}

func (f *fakeQuarantiner) Quarantine(_ context.Context, absPath, relKey string, dir quarantine.Direction) (string, error) {
	f.calls = append(f.calls, relKey+":"+dir.String())
	if f.fail {
		return "", errors.New("permission denied")
	}
	return "/q/" + relKey, nil
}

func TestApplyFailuresFallBack(t *testing.T) {
	a := snapshot.Snapshot{"tracked": t1, "fresh": t0, "ok": t0}
	b := snapshot.Snapshot{"tracked": t0, "deleted-in-a": t0}
	l := snapshot.Snapshot{"tracked": t0, "deleted-in-a": t0}

	res, err := Decide(a, b, l, both(true))
	require.NoError(t, err)

	copied := snapshot.Entry{ModTime: 5000, Size: 5}
	cp := &fakeCopier{
		fail:   map[string]bool{"/a/tracked": true, "/a/fresh": true},
		result: copied,
	}
	q := &fakeQuarantiner{fail: true}

	state, err := NewApplier("/a", "/b", cp, q, nil, false).Apply(context.Background(), res)
	require.NoError(t, err, "per-path failures must not abort the pass")

	assert.Equal(t, snapshot.Snapshot{
		"tracked":      t0,     // failed copy keeps the last synced entry
		"deleted-in-a": t0,     // failed quarantine keeps the entry so it is retried
		"ok":           copied, // successful copy records the written file
	}, state)
	assert.Len(t, q.calls, 1)
	assert.Len(t, cp.calls, 3)
}

func TestApplyDryRunChangesNothing(t *testing.T) {
	res, err := Decide(snapshot.Snapshot{"f": t0}, snapshot.Snapshot{"g": t0}, snapshot.Snapshot{"g": t0}, both(false))
	require.NoError(t, err)

	cp := &fakeCopier{}
	q := &fakeQuarantiner{}
	state, err := NewApplier("/a", "/b", cp, q, nil, true).Apply(context.Background(), res)
	require.NoError(t, err)

	assert.Empty(t, cp.calls)
	assert.Empty(t, q.calls)
	assert.Equal(t, res.State, state)
}

func TestApplyCancelled(t *testing.T) {
	res, err := Decide(snapshot.Snapshot{"f": t0}, nil, nil, both(false))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	state, err := NewApplier("/a", "/b", &fakeCopier{}, &fakeQuarantiner{}, nil, false).Apply(ctx, res)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, state)
}
