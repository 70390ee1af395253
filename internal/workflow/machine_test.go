package workflow

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ticketflow/internal/config"
	"ticketflow/internal/errors"
	"ticketflow/internal/logging"
	"ticketflow/internal/taskdoc"
	"ticketflow/internal/ticket"
)

// -----------------------------------------------------------------------------
// Fakes
// -----------------------------------------------------------------------------

type fakeBackend struct {
	mu    sync.Mutex
	snaps int
}

func (f *fakeBackend) Snapshot(string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps++
	return "snap", nil
}
func (f *fakeBackend) HasUncommittedChanges() (bool, error) { return true, nil }
func (f *fakeBackend) Head() (string, error)                { return "baseline-abc", nil }

type fakeBranches struct {
	created []string
	current string
}

func (f *fakeBranches) CreateBranch(name string) error {
	f.created = append(f.created, name)
	f.current = name
	return nil
}
func (f *fakeBranches) CurrentBranch() (string, error) { return f.current, nil }

type fakeTickets struct{}

func (fakeTickets) Fetch(_ context.Context, ref string) (*ticket.Ticket, error) {
	return &ticket.Ticket{ID: ref, Title: "Fix the parser", BranchNameHint: "fix-the-parser"}, nil
}

type fakeTaskRunner struct {
	mu   sync.Mutex
	runs []string
	fail map[string]bool
}

func (f *fakeTaskRunner) Run(_ context.Context, task taskdoc.Task, _ string) (string, error) {
	f.mu.Lock()
	f.runs = append(f.runs, task.Name)
	fail := f.fail[task.Name]
	f.mu.Unlock()
	if fail {
		return "output", errors.NewTaskError("boom", errors.ErrTaskFailed).WithTaskName(task.Name)
	}
	return "output", nil
}

const approvedDoc = `---
ticket: PROJ-7
branch: ticketflow/proj-7
approved: true
---
# Tasks

<!-- category: fundamental -->
<!-- order: 1 -->
<!-- files: a.go -->
- [ ] First task

<!-- category: independent -->
<!-- files: b.go -->
- [ ] Second task
`

func newTestMachine(t *testing.T, tr *fakeTaskRunner) (*Machine, *Store, string) {
	t.Helper()
	repo := t.TempDir()

	store, err := NewStore(filepath.Join(repo, ".ticketflow"))
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Execution.TaskDocument = "TASKS.md"

	m := NewMachine(Deps{
		Config:   cfg,
		Store:    store,
		Backend:  &fakeBackend{},
		Branches: &fakeBranches{},
		Tickets:  fakeTickets{},
		Runner:   tr,
		Logger:   logging.NopLogger(),
		RepoRoot: repo,
	})
	return m, store, repo
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

func TestStart_RunsAllPhasesAndArchives(t *testing.T) {
	tr := &fakeTaskRunner{}
	m, store, repo := newTestMachine(t, tr)

	require.NoError(t, os.WriteFile(filepath.Join(repo, "TASKS.md"), []byte(approvedDoc), 0o644))

	require.NoError(t, m.Start(context.Background(), "PROJ-7"))

	state := m.State()
	assert.Equal(t, PhaseDone, state.CurrentPhase)
	assert.Equal(t, "baseline-abc", state.BaselineReference)
	assert.Equal(t, "ticketflow/proj-7-fix-the-parser", state.BranchName)
	assert.Len(t, state.Checkpoints, 2)
	assert.Empty(t, state.FailedTasks)

	// Both tasks ran, chain first.
	require.Len(t, tr.runs, 2)
	assert.Equal(t, "First task", tr.runs[0])

	// Statuses were written back to the document.
	doc, err := os.ReadFile(filepath.Join(repo, "TASKS.md"))
	require.NoError(t, err)
	assert.Contains(t, string(doc), "- [x] First task")
	assert.Contains(t, string(doc), "- [x] Second task")

	// Finished runs are archived, leaving no active state behind.
	assert.False(t, store.Exists())
	entries, err := os.ReadDir(filepath.Join(store.Dir(), "archive"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestStart_RejectsSecondRun(t *testing.T) {
	tr := &fakeTaskRunner{}
	m, store, _ := newTestMachine(t, tr)

	require.NoError(t, store.Save(NewState("PROJ-1", "TASKS.md", false)))

	err := m.Start(context.Background(), "PROJ-2")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in progress")
}

func TestResume_AtExecuteSkipsEarlierPhases(t *testing.T) {
	tr := &fakeTaskRunner{}
	m, store, repo := newTestMachine(t, tr)
	branches := m.deps.Branches.(*fakeBranches)

	require.NoError(t, os.WriteFile(filepath.Join(repo, "TASKS.md"), []byte(approvedDoc), 0o644))

	state := NewState("PROJ-7", "TASKS.md", false)
	state.BranchName = "ticketflow/proj-7"
	state.BaselineReference = "baseline-abc"
	require.NoError(t, state.Advance(PhaseTaskList))
	require.NoError(t, state.Advance(PhaseExecute))
	require.NoError(t, store.Save(state))

	require.NoError(t, m.Resume(context.Background()))

	// Plan never re-ran: no branch was created.
	assert.Empty(t, branches.created)
	// Execute ran directly off the previously approved document.
	assert.Len(t, tr.runs, 2)
	assert.Equal(t, PhaseDone, m.State().CurrentPhase)
}

func TestResume_SkipsTasksAlreadyCompleteInDocument(t *testing.T) {
	tr := &fakeTaskRunner{}
	m, store, repo := newTestMachine(t, tr)

	// A prior invocation finished the chain task and recorded it in the
	// document before being canceled.
	partialDoc := `---
ticket: PROJ-7
branch: ticketflow/proj-7
approved: true
---
# Tasks

<!-- category: fundamental -->
<!-- order: 1 -->
<!-- files: a.go -->
- [x] First task

<!-- category: independent -->
<!-- files: b.go -->
- [ ] Second task
`
	require.NoError(t, os.WriteFile(filepath.Join(repo, "TASKS.md"), []byte(partialDoc), 0o644))

	state := NewState("PROJ-7", "TASKS.md", false)
	state.BranchName = "ticketflow/proj-7"
	state.BaselineReference = "baseline-abc"
	require.NoError(t, state.Advance(PhaseTaskList))
	require.NoError(t, state.Advance(PhaseExecute))
	require.NoError(t, store.Save(state))

	require.NoError(t, m.Resume(context.Background()))

	// Only the unfinished task reached the runner; no duplicate checkpoint
	// was recorded for the finished one.
	assert.Equal(t, []string{"Second task"}, tr.runs)
	assert.Len(t, m.State().Checkpoints, 1)
	assert.Equal(t, PhaseDone, m.State().CurrentPhase)

	doc, err := os.ReadFile(filepath.Join(repo, "TASKS.md"))
	require.NoError(t, err)
	assert.Contains(t, string(doc), "- [x] First task")
	assert.Contains(t, string(doc), "- [x] Second task")
}

func TestResume_FinishedRunReportsDoneAndArchives(t *testing.T) {
	tr := &fakeTaskRunner{}
	m, store, _ := newTestMachine(t, tr)

	state := NewState("PROJ-7", "TASKS.md", false)
	state.CurrentPhase = PhaseDone
	require.NoError(t, store.Save(state))

	err := m.Resume(context.Background())
	assert.True(t, errors.Is(err, errors.ErrRunDone))
	assert.Empty(t, tr.runs)

	assert.False(t, store.Exists())
	entries, readErr := os.ReadDir(filepath.Join(store.Dir(), "archive"))
	require.NoError(t, readErr)
	assert.Len(t, entries, 1)
}

func TestResume_WithoutStateFails(t *testing.T) {
	tr := &fakeTaskRunner{}
	m, _, _ := newTestMachine(t, tr)

	err := m.Resume(context.Background())
	assert.True(t, errors.Is(err, errors.ErrStateNotFound))
}

func TestExecute_UnapprovedDocumentIsRejected(t *testing.T) {
	tr := &fakeTaskRunner{}
	m, store, repo := newTestMachine(t, tr)

	unapproved := "---\napproved: false\n---\n- [ ] Task one\n"
	require.NoError(t, os.WriteFile(filepath.Join(repo, "TASKS.md"), []byte(unapproved), 0o644))

	state := NewState("PROJ-7", "TASKS.md", false)
	require.NoError(t, state.Advance(PhaseTaskList))
	require.NoError(t, state.Advance(PhaseExecute))
	require.NoError(t, store.Save(state))

	err := m.Resume(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotApproved))
	assert.Empty(t, tr.runs)

	// Phase stays at execute for a later resume.
	reloaded, loadErr := store.Load()
	require.NoError(t, loadErr)
	assert.Equal(t, PhaseExecute, reloaded.CurrentPhase)
}

func TestExecute_FailedTasksAreRecordedAndRunContinues(t *testing.T) {
	tr := &fakeTaskRunner{fail: map[string]bool{"Second task": true}}
	m, store, repo := newTestMachine(t, tr)

	require.NoError(t, os.WriteFile(filepath.Join(repo, "TASKS.md"), []byte(approvedDoc), 0o644))

	require.NoError(t, m.Start(context.Background(), "PROJ-7"))

	state := m.State()
	assert.Equal(t, PhaseDone, state.CurrentPhase)
	assert.Equal(t, []string{"Second task"}, state.FailedTasks)
	assert.Len(t, state.Checkpoints, 2)

	doc, err := os.ReadFile(filepath.Join(repo, "TASKS.md"))
	require.NoError(t, err)
	assert.Contains(t, string(doc), "- [!] Second task")

	assert.False(t, store.Exists())
}

func TestExecute_ConcurrentFailuresKeepStateConsistent(t *testing.T) {
	// Several independent tasks fail at once, driving the checkpoint sink
	// and the status listener from different goroutines against the shared
	// persisted state.
	tr := &fakeTaskRunner{fail: map[string]bool{"Task 1": true, "Task 3": true, "Task 5": true}}
	m, store, repo := newTestMachine(t, tr)
	m.deps.Config.Execution.MaxParallel = 6

	doc := "---\napproved: true\n---\n# Tasks\n\n"
	for i := 0; i < 6; i++ {
		doc += fmt.Sprintf("<!-- category: independent -->\n<!-- files: f%d.go -->\n- [ ] Task %d\n\n", i, i)
	}
	require.NoError(t, os.WriteFile(filepath.Join(repo, "TASKS.md"), []byte(doc), 0o644))

	require.NoError(t, m.Start(context.Background(), "PROJ-7"))

	state := m.State()
	assert.Equal(t, PhaseDone, state.CurrentPhase)
	assert.Len(t, state.Checkpoints, 6)
	assert.ElementsMatch(t, []string{"Task 1", "Task 3", "Task 5"}, state.FailedTasks)

	// The last persisted snapshot parses back cleanly with the full trail.
	assert.False(t, store.Exists())
	entries, err := os.ReadDir(filepath.Join(store.Dir(), "archive"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestExecute_FailFastHaltsAtExecute(t *testing.T) {
	tr := &fakeTaskRunner{fail: map[string]bool{"First task": true}}
	m, store, repo := newTestMachine(t, tr)
	m.deps.Config.Execution.FailFast = true

	require.NoError(t, os.WriteFile(filepath.Join(repo, "TASKS.md"), []byte(approvedDoc), 0o644))

	err := m.Start(context.Background(), "PROJ-7")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrFailFast))

	// The independent task was never dispatched.
	assert.Equal(t, []string{"First task"}, tr.runs)

	reloaded, loadErr := store.Load()
	require.NoError(t, loadErr)
	assert.Equal(t, PhaseExecute, reloaded.CurrentPhase)
	assert.Equal(t, []string{"First task"}, reloaded.FailedTasks)
	assert.Len(t, reloaded.Checkpoints, 1)
}

func TestAbandon_ArchivesState(t *testing.T) {
	tr := &fakeTaskRunner{}
	m, store, _ := newTestMachine(t, tr)

	require.NoError(t, store.Save(NewState("PROJ-9", "TASKS.md", false)))
	require.NoError(t, m.Abandon())

	assert.False(t, store.Exists())
	entries, err := os.ReadDir(filepath.Join(store.Dir(), "archive"))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

// -----------------------------------------------------------------------------
// Phase and state
// -----------------------------------------------------------------------------

func TestPhase_ForwardOnly(t *testing.T) {
	s := NewState("PROJ-1", "TASKS.md", false)
	require.NoError(t, s.Advance(PhaseTaskList))
	require.NoError(t, s.Advance(PhaseExecute))

	err := s.Advance(PhasePlan)
	require.Error(t, err)
	assert.Equal(t, PhaseExecute, s.CurrentPhase)

	err = s.Advance(PhaseExecute)
	require.Error(t, err)

	err = s.Advance(Phase("bogus"))
	require.Error(t, err)
}

func TestPhase_NextSequence(t *testing.T) {
	assert.Equal(t, PhaseTaskList, PhasePlan.Next())
	assert.Equal(t, PhaseExecute, PhaseTaskList.Next())
	assert.Equal(t, PhaseUpdateDocs, PhaseExecute.Next())
	assert.Equal(t, PhaseDone, PhaseUpdateDocs.Next())
	assert.Equal(t, PhaseDone, PhaseDone.Next())
}

func TestState_RecordFailedTaskDeduplicates(t *testing.T) {
	s := NewState("PROJ-1", "TASKS.md", false)
	s.RecordFailedTask("a")
	s.RecordFailedTask("a")
	s.RecordFailedTask("b")
	assert.Equal(t, []string{"a", "b"}, s.FailedTasks)
}

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

func TestStore_RoundTrip(t *testing.T) {
	store, err := NewStore(filepath.Join(t.TempDir(), ".ticketflow"))
	require.NoError(t, err)

	state := NewState("PROJ-3", "TASKS.md", true)
	state.BaselineReference = "abc"
	require.NoError(t, store.Save(state))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "PROJ-3", loaded.TicketID)
	assert.Equal(t, "abc", loaded.BaselineReference)
	assert.True(t, loaded.FailFast)
	assert.Equal(t, PhasePlan, loaded.CurrentPhase)
}

func TestStore_LoadMissing(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.Load()
	assert.True(t, errors.Is(err, errors.ErrStateNotFound))
}

func TestStore_LoadCorrupted(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, StateFileName), []byte("{nope"), 0o644))

	_, err = store.Load()
	assert.True(t, errors.Is(err, errors.ErrStateCorrupted))
}

func TestStore_ArchiveMissingState(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	err = store.Archive(NewState("PROJ-1", "TASKS.md", false))
	assert.True(t, errors.Is(err, errors.ErrStateNotFound))
}
