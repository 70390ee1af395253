package executor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"ticketflow/internal/checkpoint"
	"ticketflow/internal/errors"
	"ticketflow/internal/logging"
	"ticketflow/internal/taskdoc"
)

// fakeRunner records dispatch order and fails configured tasks.
type fakeRunner struct {
	mu            sync.Mutex
	order         []string
	failing       map[string]bool
	onRun         func(name string)
	running       int
	maxConcurrent int
	delay         time.Duration
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{failing: make(map[string]bool)}
}

func (f *fakeRunner) Run(_ context.Context, task taskdoc.Task, _ string) (string, error) {
	f.mu.Lock()
	f.order = append(f.order, task.Name)
	f.running++
	if f.running > f.maxConcurrent {
		f.maxConcurrent = f.running
	}
	hook := f.onRun
	f.mu.Unlock()

	if hook != nil {
		hook(task.Name)
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.running--
	fail := f.failing[task.Name]
	f.mu.Unlock()

	if fail {
		return "task output", errors.NewTaskError("simulated failure", errors.ErrTaskFailed).WithTaskName(task.Name)
	}
	return "task output", nil
}

func (f *fakeRunner) dispatched() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.order))
	copy(out, f.order)
	return out
}

// fakeBackend satisfies vcs.Backend with canned snapshots.
type fakeBackend struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeBackend) Snapshot(string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return fmt.Sprintf("snap-%d", f.calls), nil
}

func (f *fakeBackend) HasUncommittedChanges() (bool, error) { return true, nil }
func (f *fakeBackend) Head() (string, error)                { return "head", nil }

func chainTask(name string, order, pos int) taskdoc.Task {
	return taskdoc.Task{
		Name:           name,
		Status:         taskdoc.StatusPending,
		Category:       taskdoc.CategoryFundamental,
		OrderKey:       order,
		SourcePosition: pos,
	}
}

func poolTask(name string, pos int, files ...string) taskdoc.Task {
	return taskdoc.Task{
		Name:           name,
		Status:         taskdoc.StatusPending,
		Category:       taskdoc.CategoryIndependent,
		TargetFiles:    files,
		SourcePosition: pos,
	}
}

func newExecutor(cfg Config, r *fakeRunner) (*Executor, *checkpoint.Manager) {
	mgr := checkpoint.NewManager(&fakeBackend{}, "PROJ-1", nil, logging.NopLogger())
	return New(cfg, r, mgr, nil, logging.NopLogger()), mgr
}

func TestRun_ChainOrderFollowsOrderKeyThenPosition(t *testing.T) {
	r := newFakeRunner()
	ex, _ := newExecutor(DefaultConfig(), r)

	// Declared out of order; two tasks tie on the order key.
	set := &taskdoc.TaskSet{Tasks: []taskdoc.Task{
		chainTask("third", 5, 10),
		chainTask("first", 1, 20),
		chainTask("second", 5, 5),
	}}

	result, err := ex.Run(context.Background(), set, "")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.Success() {
		t.Fatalf("expected clean run, got %+v", result)
	}

	want := []string{"first", "second", "third"}
	got := r.dispatched()
	if len(got) != len(want) {
		t.Fatalf("dispatch order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("dispatch[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRun_CompletedTasksAreNotRedispatched(t *testing.T) {
	r := newFakeRunner()
	ex, mgr := newExecutor(Config{MaxParallel: 2}, r)

	doneChain := chainTask("chain-done", 1, 1)
	doneChain.Status = taskdoc.StatusComplete
	donePool := poolTask("pool-done", 3, "a.go")
	donePool.Status = taskdoc.StatusComplete

	set := &taskdoc.TaskSet{Tasks: []taskdoc.Task{
		doneChain,
		chainTask("chain-todo", 2, 2),
		donePool,
		poolTask("pool-todo", 4, "b.go"),
	}}

	result, err := ex.Run(context.Background(), set, "")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.Success() {
		t.Fatalf("expected clean run, got %+v", result)
	}

	// Only the unfinished tasks reach the runner.
	for _, name := range r.dispatched() {
		if name == "chain-done" || name == "pool-done" {
			t.Errorf("task %s was already complete and must not be re-dispatched", name)
		}
	}
	if got := len(r.dispatched()); got != 2 {
		t.Errorf("dispatched %d tasks, want 2", got)
	}

	// Finished work still counts as completed, without duplicate checkpoints.
	if len(result.Completed) != 4 {
		t.Errorf("Completed = %v, want all four tasks", result.Completed)
	}
	if mgr.Count() != 2 {
		t.Errorf("checkpoints = %d, want 2", mgr.Count())
	}
}

func TestRun_FailFastAbortsAtSecondOfFour(t *testing.T) {
	r := newFakeRunner()
	r.failing["chain-2"] = true
	ex, mgr := newExecutor(Config{MaxParallel: 2, FailFast: true}, r)

	set := &taskdoc.TaskSet{Tasks: []taskdoc.Task{
		chainTask("chain-1", 1, 1),
		chainTask("chain-2", 2, 2),
		chainTask("chain-3", 3, 3),
		chainTask("chain-4", 4, 4),
		poolTask("pool-1", 5, "a.go"),
	}}

	result, err := ex.Run(context.Background(), set, "")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if !result.Aborted {
		t.Error("expected fail-fast abort")
	}
	if len(result.Completed) != 1 || result.Completed[0] != "chain-1" {
		t.Errorf("Completed = %v, want [chain-1]", result.Completed)
	}
	if len(result.Failed) != 1 || result.Failed[0] != "chain-2" {
		t.Errorf("Failed = %v, want [chain-2]", result.Failed)
	}
	if len(result.NotAttempted) != 3 {
		t.Errorf("NotAttempted = %v, want chain-3, chain-4, pool-1", result.NotAttempted)
	}
	for _, name := range r.dispatched() {
		if name == "pool-1" {
			t.Error("independent task must not be attempted after fail-fast abort")
		}
	}
	if mgr.Count() != 2 {
		t.Errorf("checkpoints = %d, want exactly 2", mgr.Count())
	}
}

func TestRun_WithoutFailFastChainAndPoolContinue(t *testing.T) {
	r := newFakeRunner()
	r.failing["chain-2"] = true
	ex, _ := newExecutor(Config{MaxParallel: 2}, r)

	set := &taskdoc.TaskSet{Tasks: []taskdoc.Task{
		chainTask("chain-1", 1, 1),
		chainTask("chain-2", 2, 2),
		chainTask("chain-3", 3, 3),
		chainTask("chain-4", 4, 4),
		poolTask("pool-1", 5, "a.go"),
		poolTask("pool-2", 6, "b.go"),
	}}

	result, err := ex.Run(context.Background(), set, "")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if result.Aborted || result.Canceled {
		t.Fatalf("run must continue past the failure: %+v", result)
	}
	if len(result.Failed) != 1 {
		t.Errorf("Failed = %v, want [chain-2]", result.Failed)
	}
	if len(result.NotAttempted) != 0 {
		t.Errorf("NotAttempted = %v, want none", result.NotAttempted)
	}

	attempted := make(map[string]bool)
	for _, name := range r.dispatched() {
		attempted[name] = true
	}
	for _, name := range []string{"chain-3", "chain-4", "pool-1", "pool-2"} {
		if !attempted[name] {
			t.Errorf("task %s was not attempted", name)
		}
	}
}

func TestRun_PoolRunsAfterChainUnderWorkerLimit(t *testing.T) {
	r := newFakeRunner()
	r.delay = 20 * time.Millisecond
	ex, mgr := newExecutor(Config{MaxParallel: 4}, r)

	tasks := []taskdoc.Task{chainTask("chain-1", 1, 1)}
	for i := 0; i < 8; i++ {
		tasks = append(tasks, poolTask(fmt.Sprintf("pool-%d", i), 10+i, fmt.Sprintf("f%d.go", i)))
	}
	set := &taskdoc.TaskSet{Tasks: tasks}

	result, err := ex.Run(context.Background(), set, "")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.Success() {
		t.Fatalf("expected clean run, got %+v", result)
	}

	// Chain first, then the pool, never overlapping the two windows.
	if got := r.dispatched()[0]; got != "chain-1" {
		t.Errorf("first dispatch = %q, want chain-1", got)
	}
	if r.maxConcurrent > 4 {
		t.Errorf("max concurrency = %d, exceeds worker limit 4", r.maxConcurrent)
	}

	// One uncorrupted checkpoint per task.
	if mgr.Count() != 9 {
		t.Fatalf("checkpoints = %d, want 9", mgr.Count())
	}
	seen := make(map[string]bool)
	for _, cp := range mgr.All() {
		if cp.TaskName == "" || cp.Outcome != checkpoint.OutcomeSucceeded {
			t.Errorf("corrupted checkpoint record: %+v", cp)
		}
		if seen[cp.TaskName] {
			t.Errorf("duplicate checkpoint for %s", cp.TaskName)
		}
		seen[cp.TaskName] = true
	}
}

func TestRun_CancellationStopsNewDispatch(t *testing.T) {
	r := newFakeRunner()
	ex, _ := newExecutor(Config{MaxParallel: 1}, r)

	// The first dispatched task raises the cancellation signal mid-flight.
	r.onRun = func(string) { ex.Cancel() }

	var tasks []taskdoc.Task
	for i := 1; i <= 5; i++ {
		tasks = append(tasks, poolTask(fmt.Sprintf("pool-%d", i), i, fmt.Sprintf("f%d.go", i)))
	}
	set := &taskdoc.TaskSet{Tasks: tasks}

	result, err := ex.Run(context.Background(), set, "")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if !result.Canceled {
		t.Error("expected canceled result")
	}
	terminal := len(result.Completed) + len(result.Failed)
	if terminal != 1 {
		t.Errorf("terminal tasks = %d, want exactly 1", terminal)
	}
	if len(result.NotAttempted) != 4 {
		t.Errorf("NotAttempted = %v, want 4 tasks", result.NotAttempted)
	}
}

func TestRun_CancellationBeforeChainLeavesEverythingPending(t *testing.T) {
	r := newFakeRunner()
	ex, mgr := newExecutor(DefaultConfig(), r)
	ex.Cancel()

	set := &taskdoc.TaskSet{Tasks: []taskdoc.Task{
		chainTask("chain-1", 1, 1),
		poolTask("pool-1", 2, "a.go"),
	}}

	result, err := ex.Run(context.Background(), set, "")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.Canceled || len(result.NotAttempted) != 2 {
		t.Errorf("expected fully canceled run, got %+v", result)
	}
	if mgr.Count() != 0 {
		t.Errorf("checkpoints = %d, want 0", mgr.Count())
	}
}

func TestRun_CollisionRefusesPoolButChainRuns(t *testing.T) {
	r := newFakeRunner()
	ex, _ := newExecutor(Config{MaxParallel: 2}, r)

	set := &taskdoc.TaskSet{Tasks: []taskdoc.Task{
		chainTask("chain-1", 1, 1),
		poolTask("pool-1", 2, "shared.go"),
		poolTask("pool-2", 3, "shared.go"),
	}}

	result, err := ex.Run(context.Background(), set, "")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if result.CollisionErr == nil {
		t.Fatal("expected collision error on the result")
	}
	if !errors.Is(result.CollisionErr, errors.ErrFileCollision) {
		t.Errorf("CollisionErr = %v, want ErrFileCollision", result.CollisionErr)
	}
	if len(result.Completed) != 1 || result.Completed[0] != "chain-1" {
		t.Errorf("chain must still run: %+v", result)
	}
	if len(result.NotAttempted) != 2 {
		t.Errorf("NotAttempted = %v, want both pool tasks", result.NotAttempted)
	}
}

func TestRun_ExemptPathsAllowSharedLockfiles(t *testing.T) {
	r := newFakeRunner()
	ex, _ := newExecutor(Config{MaxParallel: 2, ExemptPaths: []string{"go.sum"}}, r)

	set := &taskdoc.TaskSet{Tasks: []taskdoc.Task{
		poolTask("pool-1", 1, "a.go", "go.sum"),
		poolTask("pool-2", 2, "b.go", "go.sum"),
	}}

	result, err := ex.Run(context.Background(), set, "")
	if err != nil {
		t.Fatalf("Run returned error: %v", err)
	}
	if !result.Success() {
		t.Fatalf("expected clean run, got %+v", result)
	}
}

func TestRun_StatusListenerSeesTransitions(t *testing.T) {
	r := newFakeRunner()
	r.failing["bad"] = true
	ex, _ := newExecutor(DefaultConfig(), r)

	var mu sync.Mutex
	transitions := make(map[string][]taskdoc.Status)
	ex.SetStatusListener(func(name string, status taskdoc.Status) {
		mu.Lock()
		transitions[name] = append(transitions[name], status)
		mu.Unlock()
	})

	set := &taskdoc.TaskSet{Tasks: []taskdoc.Task{
		chainTask("good", 1, 1),
		chainTask("bad", 2, 2),
	}}

	if _, err := ex.Run(context.Background(), set, ""); err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	wantGood := []taskdoc.Status{taskdoc.StatusRunning, taskdoc.StatusComplete}
	wantBad := []taskdoc.Status{taskdoc.StatusRunning, taskdoc.StatusFailed}
	for i, st := range wantGood {
		if transitions["good"][i] != st {
			t.Errorf("good transition %d = %v, want %v", i, transitions["good"][i], st)
		}
	}
	for i, st := range wantBad {
		if transitions["bad"][i] != st {
			t.Errorf("bad transition %d = %v, want %v", i, transitions["bad"][i], st)
		}
	}
}

func TestRun_SecondRunIsRejected(t *testing.T) {
	r := newFakeRunner()
	ex, _ := newExecutor(DefaultConfig(), r)

	set := &taskdoc.TaskSet{Tasks: []taskdoc.Task{chainTask("only", 1, 1)}}
	if _, err := ex.Run(context.Background(), set, ""); err != nil {
		t.Fatalf("first Run returned error: %v", err)
	}

	if _, err := ex.Run(context.Background(), set, ""); !errors.Is(err, errors.ErrExecutorStarted) {
		t.Errorf("second Run error = %v, want ErrExecutorStarted", err)
	}
}
