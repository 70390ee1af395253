package runner

import (
	"context"
	"fmt"
	"os/exec"

	"ticketflow/internal/config"
)

// TextGenerator produces free-form text from a single prompt. The planning,
// task-list, and documentation phases all consume this shape.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// OneShot invokes the agent CLI in one-shot print mode, once per prompt.
// Text generation prefers the plan model when one is configured.
type OneShot struct {
	cfg     config.AgentConfig
	workDir string
	command CommandRunner
}

// NewOneShot creates a one-shot text generator for the given repository.
func NewOneShot(cfg config.AgentConfig, workDir string) *OneShot {
	return &OneShot{cfg: cfg, workDir: workDir, command: ExecCommandRunner{}}
}

// NewOneShotWithCommand creates a one-shot generator with a custom command
// runner (for tests).
func NewOneShotWithCommand(cfg config.AgentConfig, workDir string, command CommandRunner) *OneShot {
	return &OneShot{cfg: cfg, workDir: workDir, command: command}
}

// GenerateText runs the agent once and returns its output verbatim.
func (o *OneShot) GenerateText(ctx context.Context, prompt string) (string, error) {
	args := []string{"--print"}
	if model := o.model(); model != "" {
		args = append(args, "--model", model)
	}
	args = append(args, prompt)

	out, err := o.command.Run(ctx, o.workDir, o.cfg.Command, args...)
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return "", fmt.Errorf("agent text generation failed: %w\nstderr: %s", err, string(exitErr.Stderr))
		}
		return "", fmt.Errorf("agent text generation failed: %w", err)
	}
	return string(out), nil
}

func (o *OneShot) model() string {
	if o.cfg.PlanModel != "" {
		return o.cfg.PlanModel
	}
	return o.cfg.Model
}

var _ TextGenerator = (*OneShot)(nil)
