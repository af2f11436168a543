package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulschiretz/pgl-mirror/pkg/planner"
	"github.com/paulschiretz/pgl-mirror/pkg/snapshot"
)

func TestScanReplicasFailsWhenRootVanishes(t *testing.T) {
	base := t.TempDir()
	p := &planner.SyncPlan{
		SourceRoot:      filepath.Join(base, "A"),
		DestinationRoot: filepath.Join(base, "B"),
	}
	require.NoError(t, os.MkdirAll(p.DestinationRoot, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(p.DestinationRoot, "keep.txt"), []byte("b"), 0644))

	// A passed the accessibility check but is gone by the time it is scanned.
	_, _, err := scanReplicas(context.Background(), p, true, true)
	assert.ErrorIs(t, err, snapshot.ErrRootUnreadable)

	currentA, currentB, err := scanReplicas(context.Background(), p, false, true)
	require.NoError(t, err)
	assert.Nil(t, currentA)
	assert.Equal(t, []string{"keep.txt"}, currentB.Keys())
}
