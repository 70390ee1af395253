// Package executor schedules and dispatches tasks for the execute phase.
//
// Execution runs in two windows that never overlap: the fundamental chain,
// strictly sequential in ascending order key, then the independent pool,
// dispatched concurrently under a bounded worker limit. The file-collision
// check over the pool runs eagerly before the chain starts; an unresolved
// collision refuses the parallel window but never blocks the chain.
//
// Cancellation only suppresses new dispatch. A task already handed to the
// runner finishes on its own so its target files are never left half-written.
package executor

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"ticketflow/internal/checkpoint"
	"ticketflow/internal/errors"
	"ticketflow/internal/logging"
	"ticketflow/internal/memory"
	"ticketflow/internal/runner"
	"ticketflow/internal/taskdoc"
	"ticketflow/internal/validate"
)

// Config holds the scheduling policy for one run.
type Config struct {
	// MaxParallel is the worker cap for the independent pool.
	MaxParallel int

	// FailFast aborts the entire run on the first fundamental task failure.
	FailFast bool

	// ExemptPaths lists glob patterns excluded from collision checking.
	ExemptPaths []string
}

// DefaultConfig returns the default scheduling policy.
func DefaultConfig() Config {
	return Config{MaxParallel: 3}
}

// StatusListener observes task status transitions as they happen. Called
// from multiple goroutines during the parallel window; implementations
// must be safe for concurrent use.
type StatusListener func(name string, status taskdoc.Status)

// Executor drives one execute phase over a parsed task set.
type Executor struct {
	cfg         Config
	taskRunner  runner.TaskRunner
	checkpoints *checkpoint.Manager
	store       *memory.Store
	logger      *logging.Logger
	onStatus    StatusListener

	mu       sync.Mutex
	statuses map[string]taskdoc.Status
	started  bool

	stopOnce sync.Once
	stopChan chan struct{}
}

// New creates an executor. store may be nil to skip memory artifacts.
func New(cfg Config, taskRunner runner.TaskRunner, checkpoints *checkpoint.Manager, store *memory.Store, logger *logging.Logger) *Executor {
	if cfg.MaxParallel < 1 {
		cfg.MaxParallel = 1
	}
	return &Executor{
		cfg:         cfg,
		taskRunner:  taskRunner,
		checkpoints: checkpoints,
		store:       store,
		logger:      logger,
		statuses:    make(map[string]taskdoc.Status),
		stopChan:    make(chan struct{}),
	}
}

// SetStatusListener registers a status observer. Must be called before Run.
func (e *Executor) SetStatusListener(fn StatusListener) {
	e.onStatus = fn
}

// Cancel raises the run-scoped cancellation signal. New dispatches stop;
// in-flight tasks run to completion. Safe to call more than once and from
// any goroutine.
func (e *Executor) Cancel() {
	e.stopOnce.Do(func() { close(e.stopChan) })
}

// Result reports the terminal state of every task in the set.
type Result struct {
	// Completed lists tasks that finished successfully.
	Completed []string

	// Failed lists tasks that were dispatched and failed.
	Failed []string

	// NotAttempted lists tasks never dispatched (cancellation, fail-fast
	// abort, or a refused parallel window).
	NotAttempted []string

	// Canceled is true when the run stopped on the cancellation signal.
	Canceled bool

	// Aborted is true when a fundamental failure under fail-fast policy
	// stopped the run.
	Aborted bool

	// CollisionErr is non-nil when the independent pool was refused because
	// of unresolved file collisions. The chain still ran.
	CollisionErr error
}

// Incomplete returns every task name that did not reach completion, failed
// and not-attempted alike.
func (r *Result) Incomplete() []string {
	out := make([]string, 0, len(r.Failed)+len(r.NotAttempted))
	out = append(out, r.Failed...)
	out = append(out, r.NotAttempted...)
	return out
}

// Success is true when every task completed.
func (r *Result) Success() bool {
	return len(r.Failed) == 0 && len(r.NotAttempted) == 0 && r.CollisionErr == nil
}

// Run executes the task set and blocks until every dispatched task has
// finished. contextRef is passed through to the runner as opaque planning
// context. Run may be called once per executor.
//
// Tasks the document already marks complete are never re-dispatched: a
// resumed run counts them as completed and picks up the remaining work.
//
// The returned error covers precondition failures only (bad exempt pattern,
// reuse of a finished executor). Task failures are reported through the
// Result, never as an error.
func (e *Executor) Run(ctx context.Context, set *taskdoc.TaskSet, contextRef string) (*Result, error) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil, errors.ErrExecutorStarted
	}
	e.started = true
	for _, t := range set.Tasks {
		if t.Status == taskdoc.StatusComplete {
			e.statuses[t.Name] = taskdoc.StatusComplete
		} else {
			e.statuses[t.Name] = taskdoc.StatusPending
		}
	}
	e.mu.Unlock()

	// Collision analysis over the pool happens eagerly; it depends only on
	// declared file footprints, not on chain outcomes.
	validation, err := validate.Check(set, e.cfg.ExemptPaths)
	if err != nil {
		return nil, err
	}
	for _, warning := range validation.Warnings() {
		e.logger.Warn("validation finding", "detail", warning)
	}

	result := &Result{CollisionErr: validation.CollisionError()}

	chainDone := e.runChain(ctx, set, contextRef, result)

	if chainDone && result.CollisionErr == nil {
		e.runPool(ctx, set, contextRef, result)
	} else if result.CollisionErr != nil {
		e.logger.Warn("parallel window refused, independent tasks not attempted",
			"error", result.CollisionErr)
	}

	e.collect(set, result)
	return result, nil
}

// runChain executes the fundamental chain sequentially. Returns false when
// the run must not proceed to the parallel window (cancellation or
// fail-fast abort).
func (e *Executor) runChain(ctx context.Context, set *taskdoc.TaskSet, contextRef string, result *Result) bool {
	for _, task := range set.Fundamentals() {
		if e.isComplete(task.Name) {
			continue
		}
		if e.isCanceled(ctx) {
			result.Canceled = true
			e.logger.Info("cancellation raised, remaining chain not attempted")
			return false
		}

		if e.dispatch(ctx, task, contextRef) {
			continue
		}
		if e.cfg.FailFast {
			result.Aborted = true
			e.logger.Warn("fundamental task failed under fail-fast, aborting run",
				"task", task.Name)
			return false
		}
		// The chain encodes declared ordering, not a dependency gate:
		// later tasks still run after a failure.
	}
	return true
}

// runPool dispatches the independent pool under the bounded worker limit.
func (e *Executor) runPool(ctx context.Context, set *taskdoc.TaskSet, contextRef string, result *Result) {
	g := new(errgroup.Group)
	g.SetLimit(e.cfg.MaxParallel)

	for _, task := range set.Independents() {
		if e.isComplete(task.Name) {
			continue
		}
		// Checked between dispatches: Go blocks while all workers are busy,
		// so a signal raised mid-window stops the remaining tasks here.
		if e.isCanceled(ctx) {
			result.Canceled = true
			e.logger.Info("cancellation raised, remaining pool not attempted")
			break
		}

		task := task
		g.Go(func() error {
			if e.isCanceled(ctx) {
				return nil
			}
			e.dispatch(ctx, task, contextRef)
			return nil
		})
	}

	_ = g.Wait()
}

// dispatch runs one task to its terminal status and records the checkpoint
// and memory artifact. Returns true on completion.
func (e *Executor) dispatch(ctx context.Context, task taskdoc.Task, contextRef string) bool {
	e.setStatus(task.Name, taskdoc.StatusRunning)
	log := e.logger.WithTask(task.Name)
	log.Info("dispatching task", "category", task.Category.String())

	output, err := e.taskRunner.Run(ctx, task, contextRef)
	if err != nil {
		e.setStatus(task.Name, taskdoc.StatusFailed)
		cp := e.checkpoints.Record(task.Name, checkpoint.OutcomeFailed)
		if e.store != nil {
			e.store.Capture(task.Name, false, cp.SnapshotID, output)
		}
		log.Warn("task failed", "error", err, "retryable", errors.IsRetryable(err))
		return false
	}

	e.setStatus(task.Name, taskdoc.StatusComplete)
	cp := e.checkpoints.Record(task.Name, checkpoint.OutcomeSucceeded)
	if e.store != nil {
		e.store.Capture(task.Name, true, cp.SnapshotID, output)
	}
	log.Info("task complete", "snapshot", cp.SnapshotID)
	return true
}

// collect fills the result lists from the final status table.
func (e *Executor) collect(set *taskdoc.TaskSet, result *Result) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, task := range set.Tasks {
		switch e.statuses[task.Name] {
		case taskdoc.StatusComplete:
			result.Completed = append(result.Completed, task.Name)
		case taskdoc.StatusFailed:
			result.Failed = append(result.Failed, task.Name)
		default:
			result.NotAttempted = append(result.NotAttempted, task.Name)
		}
	}
}

// isComplete reports whether the task finished in a previous run and must
// not be dispatched again.
func (e *Executor) isComplete(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.statuses[name] == taskdoc.StatusComplete
}

func (e *Executor) setStatus(name string, status taskdoc.Status) {
	e.mu.Lock()
	e.statuses[name] = status
	e.mu.Unlock()

	if e.onStatus != nil {
		e.onStatus(name, status)
	}
}

// isCanceled reports whether the stop signal or the caller's context has
// been raised.
func (e *Executor) isCanceled(ctx context.Context) bool {
	select {
	case <-e.stopChan:
		return true
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
