package hook_test

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/paulschiretz/pgl-mirror/pkg/hints"
	"github.com/paulschiretz/pgl-mirror/pkg/hook"
)

// TestHelperProcess is a helper for testing exec.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	args := os.Args
	for i, arg := range args {
		if arg == "--" {
			args = args[i+1:]
			break
		}
	}
	if len(args) > 0 && strings.Contains(args[0], "fail") {
		os.Exit(1)
	}
	if len(args) > 0 && strings.Contains(args[0], "require-env") {
		if os.Getenv(hook.EnvRunID) != "run-42" || os.Getenv(hook.EnvJob) != "docs" {
			os.Exit(2)
		}
	}
	os.Exit(0)
}

func mockExecutor(ctx context.Context, name string, arg ...string) *exec.Cmd {
	// The command is wrapped in `sh -c` or `cmd /C`. We need to extract the actual command.
	var cmdLine string
	if len(arg) > 1 && (arg[0] == "/C" || arg[0] == "-c") {
		cmdLine = strings.Join(arg[1:], " ")
	} else {
		cmdLine = name + " " + strings.Join(arg, " ")
	}

	cs := []string{"-test.run=TestHelperProcess", "--", cmdLine}
	cmd := exec.CommandContext(ctx, os.Args[0], cs...)
	cmd.Env = []string{"GO_WANT_HELPER_PROCESS=1"}
	return cmd
}

func TestHookExecutor(t *testing.T) {
	tests := []struct {
		name          string
		plan          *hook.Plan
		hookType      string // "pre" or "post"
		expectError   bool
		errorContains string
		expectHint    bool
	}{
		{
			name:     "Pre-sync success",
			plan:     &hook.Plan{Enabled: true, PreSyncCommands: []string{"echo pre-sync-works"}},
			hookType: "pre",
		},
		{
			name:     "Post-sync success",
			plan:     &hook.Plan{Enabled: true, PostSyncCommands: []string{"echo post-sync-works"}},
			hookType: "post",
		},
		{
			name:          "Pre-sync failure with FailFast",
			plan:          &hook.Plan{Enabled: true, PreSyncCommands: []string{"fail this"}, FailFast: true},
			hookType:      "pre",
			expectError:   true,
			errorContains: "command 'fail this' failed",
		},
		{
			name:     "Pre-sync failure without FailFast",
			plan:     &hook.Plan{Enabled: true, PreSyncCommands: []string{"fail this"}},
			hookType: "pre",
		},
		{
			name:     "Post-sync failure without FailFast",
			plan:     &hook.Plan{Enabled: true, PostSyncCommands: []string{"fail this"}},
			hookType: "post",
		},
		{
			name:     "Dry run",
			plan:     &hook.Plan{Enabled: true, PreSyncCommands: []string{"fail should-not-run"}, DryRun: true, FailFast: true},
			hookType: "pre",
		},
		{
			name: "Run ID and job are exported",
			plan: &hook.Plan{
				Enabled:          true,
				PostSyncCommands: []string{"require-env"},
				JobName:          "docs",
				RunID:            "run-42",
				FailFast:         true,
			},
			hookType: "post",
		},
		{
			name:        "Disabled",
			plan:        &hook.Plan{PreSyncCommands: []string{"echo x"}},
			hookType:    "pre",
			expectError: true,
			expectHint:  true,
		},
		{
			name:        "Nothing to execute",
			plan:        &hook.Plan{Enabled: true},
			hookType:    "post",
			expectError: true,
			expectHint:  true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			executor := hook.NewHookExecutor(mockExecutor)
			var err error
			if tc.hookType == "pre" {
				err = executor.RunPreSync(context.Background(), tc.plan)
			} else {
				err = executor.RunPostSync(context.Background(), tc.plan)
			}

			if !tc.expectError {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			if tc.errorContains != "" {
				assert.Contains(t, err.Error(), tc.errorContains)
			}
			assert.Equal(t, tc.expectHint, hints.IsHint(err))
		})
	}
}

func TestHookExecutorCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	executor := hook.NewHookExecutor(mockExecutor)
	err := executor.RunPreSync(ctx, &hook.Plan{Enabled: true, PreSyncCommands: []string{"echo x"}})
	assert.True(t, errors.Is(err, context.Canceled))
}
