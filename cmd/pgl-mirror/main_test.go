package main

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

func TestMain(m *testing.M) {
	plog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func TestRunExitCodes(t *testing.T) {
	t.Setenv("PGL_MIRROR_CONFIG", filepath.Join(t.TempDir(), "pgl-mirror.config.json"))

	assert.Equal(t, 0, run([]string{"version"}))
	assert.Equal(t, 0, run([]string{"job", "list"}))
	assert.Equal(t, 1, run([]string{"run", "does-not-exist"}))
	assert.Equal(t, 1, run([]string{"no-such-command"}))
}
