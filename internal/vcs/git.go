package vcs

import (
	"os/exec"
	"strings"

	"ticketflow/internal/errors"
)

// -----------------------------------------------------------------------------
// Command Executor
// -----------------------------------------------------------------------------

// CommandExecutor abstracts command execution for testability.
// This allows tests to mock git commands without executing them.
type CommandExecutor interface {
	// Run executes a command and returns combined output.
	Run(dir string, name string, args ...string) ([]byte, error)

	// RunQuiet executes a command and returns only the error.
	RunQuiet(dir string, name string, args ...string) error
}

// CLICommandExecutor executes commands using os/exec.
type CLICommandExecutor struct{}

// NewCLICommandExecutor creates a new CLI command executor.
func NewCLICommandExecutor() *CLICommandExecutor {
	return &CLICommandExecutor{}
}

// Run executes a command and returns combined output.
func (e *CLICommandExecutor) Run(dir string, name string, args ...string) ([]byte, error) {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd.CombinedOutput()
}

// RunQuiet executes a command and returns only the error.
func (e *CLICommandExecutor) RunQuiet(dir string, name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Dir = dir
	return cmd.Run()
}

// -----------------------------------------------------------------------------
// Git - implements Backend, BranchManager, and DiffProvider via the git CLI
// -----------------------------------------------------------------------------

// Git implements the version-control interfaces using git CLI commands
// against a single repository working tree.
type Git struct {
	repoDir  string
	executor CommandExecutor
}

// NewGit creates a Git backend for the given repository directory.
func NewGit(repoDir string) *Git {
	return &Git{repoDir: repoDir, executor: NewCLICommandExecutor()}
}

// NewGitWithExecutor creates a Git backend with a custom executor (for tests).
func NewGitWithExecutor(repoDir string, executor CommandExecutor) *Git {
	return &Git{repoDir: repoDir, executor: executor}
}

// gitError builds a GitError from a failed command. The not-a-repository
// case is tagged so callers can match it with errors.Is.
func gitError(message string, err error, out []byte) *errors.GitError {
	if strings.Contains(strings.ToLower(string(out)), "not a git repository") {
		err = errors.Join(errors.ErrNotGitRepository, err)
	}
	return errors.NewGitError(message, err).WithOutput(string(out))
}

// Snapshot stages all changes and commits them. Returns the commit hash, or
// an empty string when the working tree was clean.
func (g *Git) Snapshot(message string) (string, error) {
	dirty, err := g.HasUncommittedChanges()
	if err != nil {
		return "", err
	}
	if !dirty {
		return "", nil
	}

	if out, err := g.executor.Run(g.repoDir, "git", "add", "-A"); err != nil {
		return "", gitError("failed to stage changes", err, out)
	}

	if out, err := g.executor.Run(g.repoDir, "git", "commit", "-m", message); err != nil {
		return "", gitError("failed to create snapshot", err, out)
	}

	return g.Head()
}

// HasUncommittedChanges reports whether the working tree is dirty, untracked
// files included.
func (g *Git) HasUncommittedChanges() (bool, error) {
	out, err := g.executor.Run(g.repoDir, "git", "status", "--porcelain")
	if err != nil {
		return false, gitError("failed to check status", err, out)
	}
	return strings.TrimSpace(string(out)) != "", nil
}

// Head returns the current commit hash.
func (g *Git) Head() (string, error) {
	out, err := g.executor.Run(g.repoDir, "git", "rev-parse", "HEAD")
	if err != nil {
		return "", gitError("failed to resolve HEAD", err, out)
	}
	return strings.TrimSpace(string(out)), nil
}

// CurrentBranch returns the checked-out branch name.
func (g *Git) CurrentBranch() (string, error) {
	out, err := g.executor.Run(g.repoDir, "git", "branch", "--show-current")
	if err != nil {
		return "", gitError("failed to read current branch", err, out)
	}
	return strings.TrimSpace(string(out)), nil
}

// CreateBranch creates and checks out a new branch from the current head.
func (g *Git) CreateBranch(name string) error {
	if err := g.executor.RunQuiet(g.repoDir, "git", "rev-parse", "--verify", "refs/heads/"+name); err == nil {
		return errors.NewGitError("cannot create branch", errors.ErrBranchExists).WithBranch(name)
	}
	if out, err := g.executor.Run(g.repoDir, "git", "checkout", "-b", name); err != nil {
		return gitError("failed to create branch", err, out).WithBranch(name)
	}
	return nil
}

// DiffStat returns a diffstat of everything changed since the given snapshot,
// uncommitted changes included.
func (g *Git) DiffStat(since string) (string, error) {
	out, err := g.executor.Run(g.repoDir, "git", "diff", "--stat", since)
	if err != nil {
		return "", gitError("failed to compute diffstat", err, out)
	}
	return strings.TrimSpace(string(out)), nil
}

// Verify interface implementations at compile time.
var (
	_ Backend       = (*Git)(nil)
	_ BranchManager = (*Git)(nil)
	_ DiffProvider  = (*Git)(nil)
)
