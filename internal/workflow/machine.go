package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"ticketflow/internal/checkpoint"
	"ticketflow/internal/config"
	"ticketflow/internal/docsync"
	"ticketflow/internal/errors"
	"ticketflow/internal/executor"
	"ticketflow/internal/logging"
	"ticketflow/internal/memory"
	"ticketflow/internal/runner"
	"ticketflow/internal/taskdoc"
	"ticketflow/internal/ticket"
	"ticketflow/internal/vcs"
)

// PlanFileName is the plan document written during the plan phase, relative
// to the state directory.
const PlanFileName = "PLAN.md"

// TextGenerator produces free-form text from a single prompt. The plan and
// task-list phases tolerate a nil generator only when their documents
// already exist.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Deps wires the machine's collaborators.
type Deps struct {
	Config   *config.Config
	Store    *Store
	Backend  vcs.Backend
	Branches vcs.BranchManager
	Tickets  ticket.Source
	Runner   runner.TaskRunner
	TextGen  TextGenerator
	Docs     *docsync.Syncer
	Logger   *logging.Logger

	// RepoRoot anchors the task document and all relative paths.
	RepoRoot string
}

// Machine drives one run through its phases, persisting state after every
// transition and checkpoint.
type Machine struct {
	deps Deps

	mu         sync.Mutex
	state      *State
	exec       *executor.Executor
	lastResult *executor.Result
}

// NewMachine creates a workflow machine.
func NewMachine(deps Deps) *Machine {
	return &Machine{deps: deps}
}

// State returns the current run state, nil before Start or Resume.
func (m *Machine) State() *State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// LastResult returns the execute-phase result of this invocation, nil when
// the execute phase has not run.
func (m *Machine) LastResult() *executor.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastResult
}

// Cancel raises the run-scoped cancellation signal. Only the execute phase
// dispatches work, so cancellation outside it is a no-op.
func (m *Machine) Cancel() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exec != nil {
		m.exec.Cancel()
	}
}

// Start begins a fresh run from a ticket reference. Fails when a persisted
// run already exists; use Resume for that.
func (m *Machine) Start(ctx context.Context, ticketRef string) error {
	if m.deps.Store.Exists() {
		return errors.NewWorkflowError("a run is already in progress, resume or abandon it first", nil)
	}

	t, err := m.deps.Tickets.Fetch(ctx, ticketRef)
	if err != nil {
		return errors.NewWorkflowError("failed to fetch ticket", err)
	}

	state := NewState(t.ID, m.deps.Config.Execution.TaskDocument, m.deps.Config.Execution.FailFast)
	state.TicketTitle = t.Title
	state.TicketURL = t.URL
	state.BranchName = m.branchName(t)

	m.mu.Lock()
	m.state = state
	m.mu.Unlock()

	if err := m.deps.Store.Save(state); err != nil {
		return err
	}

	m.deps.Logger.WithRun(state.TicketID).Info("run started",
		"title", state.TicketTitle, "branch", state.BranchName)
	return m.runLoop(ctx)
}

// Resume continues a persisted run at its recorded phase, skipping everything
// already completed.
func (m *Machine) Resume(ctx context.Context) error {
	state, err := m.deps.Store.Load()
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.state = state
	m.mu.Unlock()

	if state.Done() {
		if err := m.deps.Store.Archive(state); err != nil {
			return err
		}
		return errors.NewWorkflowError("nothing to resume", errors.ErrRunDone).WithRunID(state.TicketID)
	}

	m.deps.Logger.WithRun(state.TicketID).Info("run resumed", "phase", state.CurrentPhase.String())
	return m.runLoop(ctx)
}

// Abandon archives the persisted run without finishing it.
func (m *Machine) Abandon() error {
	state, err := m.deps.Store.Load()
	if err != nil {
		return err
	}
	m.deps.Logger.WithRun(state.TicketID).Info("run abandoned", "phase", state.CurrentPhase.String())
	return m.deps.Store.Archive(state)
}

// runLoop advances phase by phase until done, persisting after each
// transition. A phase error leaves the state at that phase so a later
// invocation resumes there.
func (m *Machine) runLoop(ctx context.Context) error {
	for !m.state.Done() {
		log := m.deps.Logger.WithRun(m.state.TicketID).WithPhase(m.state.CurrentPhase.String())

		var err error
		switch m.state.CurrentPhase {
		case PhasePlan:
			err = m.runPlan(ctx, log)
		case PhaseTaskList:
			err = m.runTaskList(ctx, log)
		case PhaseExecute:
			err = m.runExecute(ctx, log)
		case PhaseUpdateDocs:
			err = m.runUpdateDocs(ctx, log)
		default:
			err = errors.NewWorkflowError("unknown phase", errors.ErrInvalidInput).
				WithPhase(m.state.CurrentPhase.String())
		}
		if err != nil {
			// Persist whatever the phase managed to record before failing.
			if saveErr := m.deps.Store.Save(m.state); saveErr != nil {
				log.Warn("state save failed after phase error", "error", saveErr)
			}
			return err
		}

		if err := m.state.Advance(m.state.CurrentPhase.Next()); err != nil {
			return err
		}
		if err := m.deps.Store.Save(m.state); err != nil {
			return err
		}
	}

	m.deps.Logger.WithRun(m.state.TicketID).Info("run complete")
	return m.deps.Store.Archive(m.state)
}

// -----------------------------------------------------------------------------
// Plan phase
// -----------------------------------------------------------------------------

// runPlan creates the run branch, records the baseline snapshot, and writes
// the plan document. Plan text is advisory context for later phases; its
// generation failure is tolerated.
func (m *Machine) runPlan(ctx context.Context, log *logging.Logger) error {
	if err := m.deps.Branches.CreateBranch(m.state.BranchName); err != nil {
		// A resumed plan phase finds its own branch already checked out.
		current, cbErr := m.deps.Branches.CurrentBranch()
		if !errors.Is(err, errors.ErrBranchExists) || cbErr != nil || current != m.state.BranchName {
			return err
		}
		log.Info("run branch already checked out", "branch", m.state.BranchName)
	}

	baseline, err := m.deps.Backend.Head()
	if err != nil {
		return err
	}
	m.state.BaselineReference = baseline
	log.Info("baseline recorded", "reference", baseline)

	if m.deps.TextGen == nil {
		return nil
	}
	plan, err := m.deps.TextGen.GenerateText(ctx, m.buildPlanPrompt())
	if err != nil {
		log.Warn("plan generation failed, continuing without a plan document", "error", err)
		return nil
	}
	planPath := filepath.Join(m.deps.Store.Dir(), PlanFileName)
	if err := os.WriteFile(planPath, []byte(plan), 0o644); err != nil {
		log.Warn("plan document write failed", "error", err)
	}
	return nil
}

func (m *Machine) buildPlanPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Study this repository and write an implementation plan for the following work item.\n\n")
	fmt.Fprintf(&b, "Ticket %s: %s\n", m.state.TicketID, m.state.TicketTitle)
	b.WriteString("\nDescribe the approach, the files involved, and the risks. Markdown, no code changes.\n")
	return b.String()
}

// branchName composes <prefix>/<ticket-id>-<title-slug>.
func (m *Machine) branchName(t *ticket.Ticket) string {
	name := m.deps.Config.Branch.Prefix + "/" + ticket.Slug(t.ID)
	if t.BranchNameHint != "" && t.BranchNameHint != ticket.Slug(t.ID) {
		name += "-" + t.BranchNameHint
	}
	return name
}

// -----------------------------------------------------------------------------
// Task-list phase
// -----------------------------------------------------------------------------

// runTaskList makes sure a task document exists, then blocks until the
// operator approves it (front matter approved: true).
func (m *Machine) runTaskList(ctx context.Context, log *logging.Logger) error {
	docPath := m.taskDocumentPath()

	if _, err := os.Stat(docPath); os.IsNotExist(err) {
		if m.deps.TextGen == nil {
			return errors.NewWorkflowError("task document does not exist and no generator is configured", nil).
				WithPhase(PhaseTaskList.String())
		}
		content, err := m.deps.TextGen.GenerateText(ctx, m.buildTaskListPrompt())
		if err != nil {
			return errors.NewWorkflowError("task list generation failed", err)
		}
		if err := os.WriteFile(docPath, []byte(content), 0o644); err != nil {
			return errors.NewWorkflowError("failed to write task document", err)
		}
		log.Info("task document written, waiting for approval", "doc", m.state.TaskDocument)
	} else {
		log.Info("task document present, waiting for approval", "doc", m.state.TaskDocument)
	}

	return taskdoc.WaitForApproval(ctx, docPath)
}

func (m *Machine) buildTaskListPrompt() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Break the following work item into discrete tasks and write a task document.\n\n")
	fmt.Fprintf(&b, "Ticket %s: %s\n", m.state.TicketID, m.state.TicketTitle)

	if plan, err := os.ReadFile(filepath.Join(m.deps.Store.Dir(), PlanFileName)); err == nil {
		fmt.Fprintf(&b, "\nPlan:\n\n%s\n", string(plan))
	}

	b.WriteString(`
Output format: a markdown checklist. Start with YAML front matter:

---
ticket: ` + m.state.TicketID + `
branch: ` + m.state.BranchName + `
approved: false
---

Each task is "- [ ] <description>" preceded by HTML-comment metadata lines:
<!-- category: fundamental -->   (or independent; fundamental tasks run in order)
<!-- order: 1 -->                (sequence among fundamental tasks)
<!-- files: a.go, b.go -->       (files the task will create or modify)

Independent tasks must not share any file with each other. Reply with the
document content only.
`)
	return b.String()
}

func (m *Machine) taskDocumentPath() string {
	if filepath.IsAbs(m.state.TaskDocument) {
		return m.state.TaskDocument
	}
	return filepath.Join(m.deps.RepoRoot, m.state.TaskDocument)
}

// -----------------------------------------------------------------------------
// Execute phase
// -----------------------------------------------------------------------------

// runExecute parses the approved document and dispatches its tasks. Failed
// tasks are recorded and the run still proceeds to the documentation phase;
// only fail-fast aborts, cancellation, and unresolved collisions halt here,
// leaving the phase resumable.
func (m *Machine) runExecute(ctx context.Context, log *logging.Logger) error {
	docPath := m.taskDocumentPath()

	set, err := taskdoc.ParseFile(docPath)
	if err != nil {
		return errors.NewWorkflowError("failed to parse task document", err).WithPhase(PhaseExecute.String())
	}
	if !set.Meta.Approved {
		return errors.NewWorkflowError("task document is not approved", errors.ErrNotApproved).
			WithPhase(PhaseExecute.String())
	}
	if set.Len() == 0 {
		log.Info("task document holds no tasks, nothing to execute")
		return nil
	}

	// One mutex covers every state mutation and save during execution: the
	// checkpoint sink and the status listener run on different goroutines
	// during the parallel window but share the persisted state.
	var stateMu sync.Mutex
	sink := func(cp checkpoint.Checkpoint) {
		stateMu.Lock()
		defer stateMu.Unlock()
		m.state.AppendCheckpoint(cp)
		if err := m.deps.Store.Save(m.state); err != nil {
			log.Warn("state save failed after checkpoint", "error", err)
		}
	}
	checkpoints := checkpoint.NewManager(m.deps.Backend, m.state.TicketID, sink, log)
	store := memory.NewStore(m.deps.Store.Dir(), log)

	exec := executor.New(executor.Config{
		MaxParallel: m.deps.Config.Execution.MaxParallel,
		FailFast:    m.state.FailFast,
		ExemptPaths: m.deps.Config.Validation.ExemptPaths,
	}, m.deps.Runner, checkpoints, store, log)

	// Status write-back keeps the document the source of truth, so a
	// resumed run re-parses exactly what this run recorded.
	exec.SetStatusListener(func(name string, status taskdoc.Status) {
		stateMu.Lock()
		defer stateMu.Unlock()
		set.SetStatus(name, status)
		if err := taskdoc.UpdateFile(docPath, set); err != nil {
			log.Warn("task document update failed", "task", name, "error", err)
		}
		if status == taskdoc.StatusFailed {
			m.state.RecordFailedTask(name)
		}
	})

	m.mu.Lock()
	m.exec = exec
	m.mu.Unlock()

	result, err := exec.Run(ctx, set, m.executeContextRef())

	m.mu.Lock()
	m.exec = nil
	m.lastResult = result
	m.mu.Unlock()

	if err != nil {
		return err
	}

	switch {
	case result.Canceled:
		return errors.NewWorkflowError("run canceled, resume to continue", errors.ErrRunCanceled).
			WithRunID(m.state.TicketID).WithPhase(PhaseExecute.String())
	case result.Aborted:
		return errors.NewWorkflowError("run aborted by fail-fast policy", errors.ErrFailFast).
			WithRunID(m.state.TicketID).WithPhase(PhaseExecute.String())
	case result.CollisionErr != nil:
		return result.CollisionErr
	}

	if len(result.Failed) > 0 {
		log.Warn("execute phase finished with failures",
			"failed", len(result.Failed), "completed", len(result.Completed))
	} else {
		log.Info("execute phase complete", "tasks", len(result.Completed))
	}
	return nil
}

// executeContextRef is the opaque context handed to the runner with each
// task.
func (m *Machine) executeContextRef() string {
	ref := fmt.Sprintf("ticket %s: %s", m.state.TicketID, m.state.TicketTitle)
	planPath := filepath.Join(m.deps.Store.Dir(), PlanFileName)
	if _, err := os.Stat(planPath); err == nil {
		ref += fmt.Sprintf(" (plan: %s)", planPath)
	}
	return ref
}

// -----------------------------------------------------------------------------
// Update-docs phase
// -----------------------------------------------------------------------------

// runUpdateDocs refreshes the configured documentation targets. Failures are
// tolerated unconditionally; this phase never fails the run.
func (m *Machine) runUpdateDocs(ctx context.Context, log *logging.Logger) error {
	if m.deps.Docs == nil {
		return nil
	}

	contextRef := fmt.Sprintf("ticket %s: %s", m.state.TicketID, m.state.TicketTitle)
	if len(m.state.FailedTasks) > 0 {
		contextRef += fmt.Sprintf(" (%d tasks failed and were left incomplete)", len(m.state.FailedTasks))
	}

	updates := m.deps.Docs.Sync(ctx, contextRef)
	changed := 0
	for _, u := range updates {
		if u.Changed {
			changed++
		}
	}
	log.Info("documentation sync finished", "targets", len(updates), "changed", changed)
	return nil
}
