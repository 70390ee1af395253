// Package workflow owns the four-phase run lifecycle: plan, task list,
// execute, documentation sync. Progress is persisted after every mutating
// step so a later invocation resumes at the last recorded phase instead of
// restarting.
package workflow

import (
	"time"

	"ticketflow/internal/checkpoint"
	"ticketflow/internal/errors"
)

// Phase is one stage of the run lifecycle. Transitions are strictly
// forward-only.
type Phase string

const (
	// PhasePlan sets up the run: ticket fetch, branch, baseline, plan text.
	PhasePlan Phase = "plan"

	// PhaseTaskList produces the task document and waits for its approval.
	PhaseTaskList Phase = "tasklist"

	// PhaseExecute parses the approved document and dispatches its tasks.
	PhaseExecute Phase = "execute"

	// PhaseUpdateDocs refreshes the configured documentation targets.
	PhaseUpdateDocs Phase = "updatedocs"

	// PhaseDone marks a finished run; its state is archived.
	PhaseDone Phase = "done"
)

// phaseOrder fixes the forward-only sequence.
var phaseOrder = []Phase{PhasePlan, PhaseTaskList, PhaseExecute, PhaseUpdateDocs, PhaseDone}

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// Index returns the phase's position in the lifecycle, or -1 for an unknown
// phase.
func (p Phase) Index() int {
	for i, candidate := range phaseOrder {
		if candidate == p {
			return i
		}
	}
	return -1
}

// Valid reports whether the phase is one of the known lifecycle stages.
func (p Phase) Valid() bool {
	return p.Index() >= 0
}

// Next returns the following phase. Calling Next on PhaseDone returns
// PhaseDone.
func (p Phase) Next() Phase {
	i := p.Index()
	if i < 0 || i >= len(phaseOrder)-1 {
		return PhaseDone
	}
	return phaseOrder[i+1]
}

// State is the persisted record of one run. It is mutated only by the
// machine (phase transitions) and, during the execute phase, by the
// checkpoint sink and status tracking.
type State struct {
	// TicketID labels checkpoints, logs, and the archive.
	TicketID string `json:"ticket_id"`

	// TicketTitle is kept for reporting.
	TicketTitle string `json:"ticket_title,omitempty"`

	// TicketURL links back to the tracker, empty for offline tickets.
	TicketURL string `json:"ticket_url,omitempty"`

	// BranchName is the run branch created during the plan phase.
	BranchName string `json:"branch_name"`

	// BaselineReference is the snapshot the run started from, used to
	// compute a diff at any later point.
	BaselineReference string `json:"baseline_reference"`

	// TaskDocument is the path of the task document, relative to the
	// repository root.
	TaskDocument string `json:"task_document"`

	// CurrentPhase is where a resumed run picks up.
	CurrentPhase Phase `json:"current_phase"`

	// FailFast aborts the execute phase on the first fundamental failure.
	FailFast bool `json:"fail_fast"`

	// Checkpoints is the append-only audit trail.
	Checkpoints []checkpoint.Checkpoint `json:"checkpoints"`

	// FailedTasks holds names of tasks that ended failed, retained for
	// reporting even after the run otherwise completes.
	FailedTasks []string `json:"failed_tasks,omitempty"`

	// CreatedAt and UpdatedAt bracket the run's lifetime on disk.
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewState creates the initial state for a fresh run.
func NewState(ticketID, taskDocument string, failFast bool) *State {
	now := time.Now().UTC()
	return &State{
		TicketID:     ticketID,
		TaskDocument: taskDocument,
		CurrentPhase: PhasePlan,
		FailFast:     failFast,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// Advance moves the state to the given phase. Backward transitions are
// rejected; the lifecycle never revisits a phase.
func (s *State) Advance(to Phase) error {
	if !to.Valid() {
		return errors.NewWorkflowError("unknown phase", errors.ErrInvalidInput).WithPhase(to.String())
	}
	if to.Index() <= s.CurrentPhase.Index() {
		return errors.NewWorkflowError("phase transitions are forward-only", errors.ErrInvalidInput).
			WithRunID(s.TicketID).
			WithPhase(s.CurrentPhase.String())
	}
	s.CurrentPhase = to
	s.UpdatedAt = time.Now().UTC()
	return nil
}

// AppendCheckpoint adds one record to the append-only trail.
func (s *State) AppendCheckpoint(cp checkpoint.Checkpoint) {
	s.Checkpoints = append(s.Checkpoints, cp)
	s.UpdatedAt = time.Now().UTC()
}

// RecordFailedTask adds a task name to the failed set, once.
func (s *State) RecordFailedTask(name string) {
	for _, existing := range s.FailedTasks {
		if existing == name {
			return
		}
	}
	s.FailedTasks = append(s.FailedTasks, name)
	s.UpdatedAt = time.Now().UTC()
}

// Done reports whether the run has finished its lifecycle.
func (s *State) Done() bool {
	return s.CurrentPhase == PhaseDone
}
