// Package runner dispatches individual tasks to the external code-generation
// agent. The workflow core treats the agent as opaque: it hands over a task
// plus a context reference and gets back captured output and a pass/fail
// verdict, nothing more.
package runner

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"ticketflow/internal/config"
	"ticketflow/internal/errors"
	"ticketflow/internal/logging"
	"ticketflow/internal/taskdoc"
)

// TaskRunner executes one task. The returned output is captured agent output
// and is valid even when err is non-nil; a non-nil error means the task
// failed.
type TaskRunner interface {
	Run(ctx context.Context, task taskdoc.Task, contextRef string) (output string, err error)
}

// CommandRunner abstracts agent process invocation for testability.
type CommandRunner interface {
	// Run executes the agent binary with the given arguments in workDir and
	// returns combined output.
	Run(ctx context.Context, workDir string, name string, args ...string) ([]byte, error)
}

// ExecCommandRunner runs the agent via os/exec.
type ExecCommandRunner struct{}

// Run executes a command and returns combined output.
func (ExecCommandRunner) Run(ctx context.Context, workDir string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = workDir
	return cmd.CombinedOutput()
}

// AgentRunner invokes the configured agent CLI in one-shot mode, once per
// task, inside the repository working tree.
type AgentRunner struct {
	cfg     config.AgentConfig
	workDir string
	command CommandRunner
	logger  *logging.Logger
}

// NewAgentRunner creates a runner for the given repository directory.
func NewAgentRunner(cfg config.AgentConfig, workDir string, logger *logging.Logger) *AgentRunner {
	return &AgentRunner{cfg: cfg, workDir: workDir, command: ExecCommandRunner{}, logger: logger}
}

// NewAgentRunnerWithCommand creates a runner with a custom command runner
// (for tests).
func NewAgentRunnerWithCommand(cfg config.AgentConfig, workDir string, command CommandRunner, logger *logging.Logger) *AgentRunner {
	return &AgentRunner{cfg: cfg, workDir: workDir, command: command, logger: logger}
}

// Run dispatches one task to the agent and blocks until it finishes. The
// worker calling Run is occupied for the duration.
func (r *AgentRunner) Run(ctx context.Context, task taskdoc.Task, contextRef string) (string, error) {
	if timeout := r.cfg.TaskTimeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	args := []string{"--print"}
	if r.cfg.Model != "" {
		args = append(args, "--model", r.cfg.Model)
	}
	args = append(args, buildPrompt(task, contextRef))

	r.logger.Debug("dispatching task to agent", "task", task.Name, "command", r.cfg.Command)
	started := time.Now()

	out, err := r.command.Run(ctx, r.workDir, r.cfg.Command, args...)
	output := string(out)

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return output, errors.NewTaskError("agent timed out", errors.ErrTimeout).
				WithTaskName(task.Name).
				WithRetryable(true)
		}
		taskErr := errors.NewTaskError("agent execution failed", err).
			WithTaskName(task.Name).
			WithRetryable(looksRateLimited(output))
		return output, taskErr
	}

	r.logger.Debug("agent finished task", "task", task.Name, "duration", time.Since(started))
	return output, nil
}

// buildPrompt renders the one-shot instruction handed to the agent. Task
// content stays opaque text; the prompt only frames it with the context
// reference and the declared file footprint.
func buildPrompt(task taskdoc.Task, contextRef string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Complete the following task in this repository:\n\n%s\n", task.Name)
	if contextRef != "" {
		fmt.Fprintf(&b, "\nContext for this work: %s\n", contextRef)
	}
	if len(task.TargetFiles) > 0 {
		fmt.Fprintf(&b, "\nOnly create or modify these files:\n")
		for _, f := range task.TargetFiles {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	b.WriteString("\nDo not commit; leave all changes in the working tree.\n")
	return b.String()
}

// Rate-limit phrases seen in agent output. Matching any marks the failure
// retryable so the operator knows a re-run may succeed unchanged.
var rateLimitMarkers = []string{
	"rate limit",
	"rate_limit",
	"429",
	"overloaded",
	"usage limit",
}

func looksRateLimited(output string) bool {
	lower := strings.ToLower(output)
	for _, marker := range rateLimitMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

var _ TaskRunner = (*AgentRunner)(nil)
