package hook

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/paulschiretz/pgl-mirror/pkg/hints"
	"github.com/paulschiretz/pgl-mirror/pkg/plog"
)

const (
	EnvRunID = "PGL_MIRROR_RUN_ID"
	EnvJob   = "PGL_MIRROR_JOB"
	EnvStage = "PGL_MIRROR_HOOK"
)

var ErrNothingToExecute = hints.New("nothing to execute")
var ErrDisabled = hints.New("hook execution is disabled")

type HookExecutor struct {
	// commandContext allows mocking os/exec for testing hooks.
	commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// NewHookExecutor creates a new HookExecutor. Pass exec.CommandContext outside of tests.
func NewHookExecutor(commandContext func(ctx context.Context, name string, arg ...string) *exec.Cmd) *HookExecutor {
	return &HookExecutor{
		commandContext: commandContext,
	}
}

// RunPreSync executes the pre-sync commands of p in order.
func (e *HookExecutor) RunPreSync(ctx context.Context, p *Plan) error {
	return e.run(ctx, "pre-sync", p, p.PreSyncCommands)
}

// RunPostSync executes the post-sync commands of p in order.
func (e *HookExecutor) RunPostSync(ctx context.Context, p *Plan) error {
	return e.run(ctx, "post-sync", p, p.PostSyncCommands)
}

func (e *HookExecutor) run(ctx context.Context, stage string, p *Plan, commands []string) error {
	if !p.Enabled {
		return ErrDisabled
	}

	if len(commands) <= 0 {
		return ErrNothingToExecute
	}

	plog.Info("Running hook commands", "hook", stage, "job", p.JobName)

	for _, hookCommand := range commands {

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if p.DryRun {
			plog.Info("[DRY RUN] Executing command", "command", hookCommand)
			continue
		}
		plog.Info("Executing command", "command", hookCommand)

		cmd := e.createCommand(ctx, hookCommand)
		env := cmd.Env
		if env == nil {
			env = os.Environ()
		}
		cmd.Env = append(env,
			EnvRunID+"="+p.RunID,
			EnvJob+"="+p.JobName,
			EnvStage+"="+stage,
		)

		// Pipe output to our logger for visibility
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			// A canceled context makes Run fail too; report the cancellation.
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if p.FailFast {
				return fmt.Errorf("command '%s' failed: %w", hookCommand, err)
			}
			plog.Warn("Hook command failed", "command", hookCommand, "error", err)
		}
	}
	return nil
}
