package cmd

import (
	"fmt"
	"os"

	"ticketflow/internal/config"
	"ticketflow/internal/docsync"
	"ticketflow/internal/logging"
	"ticketflow/internal/runner"
	"ticketflow/internal/ticket"
	"ticketflow/internal/vcs"
	"ticketflow/internal/workflow"
)

// env holds everything a command needs, wired once per invocation.
type env struct {
	cfg      *config.Config
	store    *workflow.Store
	git      *vcs.Git
	logger   *logging.Logger
	repoRoot string
}

// setup loads configuration and builds the shared pieces. The repository
// root is the working directory.
func setup() (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	repoRoot, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get current directory: %w", err)
	}

	stateDir := cfg.Paths.ResolveStateDir(repoRoot)
	store, err := workflow.NewStore(stateDir)
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(stateDir, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}

	return &env{
		cfg:      cfg,
		store:    store,
		git:      vcs.NewGit(repoRoot),
		logger:   logger,
		repoRoot: repoRoot,
	}, nil
}

// machine builds a workflow machine. tickets may be nil for commands that
// never fetch (resume, abandon); those get the offline source.
func (e *env) machine(tickets ticket.Source) *workflow.Machine {
	if tickets == nil {
		tickets = ticket.NewOfflineSource()
	}

	oneShot := runner.NewOneShot(e.cfg.Agent, e.repoRoot)
	docs := docsync.NewSyncer(e.cfg.Docs.Targets, e.cfg.Docs.ShowDiff, oneShot, e.logger)

	return workflow.NewMachine(workflow.Deps{
		Config:   e.cfg,
		Store:    e.store,
		Backend:  e.git,
		Branches: e.git,
		Tickets:  tickets,
		Runner:   runner.NewAgentRunner(e.cfg.Agent, e.repoRoot, e.logger),
		TextGen:  oneShot,
		Docs:     docs,
		Logger:   e.logger,
		RepoRoot: e.repoRoot,
	})
}
