// Package errors provides centralized error definitions and error handling
// utilities for the ticketflow codebase. It defines domain-specific errors,
// sentinel errors, constructors with context wrapping, and classification
// helpers.
//
// # Error Types
//
// Domain-specific errors represent errors from specific subsystems:
//   - WorkflowError: errors related to the workflow state machine
//   - TaskError: errors related to task scheduling and execution
//   - GitError: errors related to version-control operations
//   - ValidationError: task-set validation failures (file collisions)
//
// # Usage
//
// Creating errors:
//
//	err := errors.NewTaskError("agent run failed", baseErr).WithTaskName("split parser")
//
// Checking errors:
//
//	if errors.Is(err, errors.ErrRunCanceled) { ... }
//
//	var taskErr *errors.TaskError
//	if errors.As(err, &taskErr) { ... }
//
//	if errors.IsRetryable(err) { ... }
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Re-export standard library functions for convenience.
// This allows callers to import only this package for all error handling.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	New    = errors.New
	Join   = errors.Join
)

// -----------------------------------------------------------------------------
// Sentinel Errors
// -----------------------------------------------------------------------------

// Workflow-related sentinel errors
var (
	// ErrStateNotFound indicates that no persisted workflow state exists.
	ErrStateNotFound = New("workflow state not found")
	// ErrStateCorrupted indicates that persisted workflow state is unreadable.
	ErrStateCorrupted = New("workflow state corrupted")
	// ErrRunDone indicates that the run has already reached its terminal phase.
	ErrRunDone = New("run already complete")
	// ErrNotApproved indicates the task document has not been approved.
	ErrNotApproved = New("task document not approved")
)

// Task and scheduling sentinel errors
var (
	// ErrTaskFailed indicates that a task execution failed.
	ErrTaskFailed = New("task failed")
	// ErrFileCollision indicates overlapping target files among independent tasks.
	ErrFileCollision = New("file ownership collision")
	// ErrRunCanceled indicates the operator canceled the run.
	ErrRunCanceled = New("run canceled")
	// ErrFailFast indicates the run was aborted by the fail-fast policy.
	ErrFailFast = New("aborted by fail-fast policy")
	// ErrExecutorStarted indicates a second Run call on the same executor.
	ErrExecutorStarted = New("executor already started")
)

// Git-related sentinel errors
var (
	// ErrNotGitRepository indicates that the directory is not a git repository.
	ErrNotGitRepository = New("not a git repository")
	// ErrBranchExists indicates that a branch already exists.
	ErrBranchExists = New("branch already exists")
)

// General sentinel errors
var (
	// ErrTimeout indicates that an operation timed out.
	ErrTimeout = New("operation timed out")
	// ErrInvalidInput indicates that input validation failed.
	ErrInvalidInput = New("invalid input")
)

// -----------------------------------------------------------------------------
// Base Error Implementation
// -----------------------------------------------------------------------------

// baseError provides common functionality for all error types.
type baseError struct {
	message   string
	cause     error
	retryable bool
}

// Error returns the error message.
func (e *baseError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

// Unwrap returns the underlying error.
func (e *baseError) Unwrap() error {
	return e.cause
}

// Is checks if this error matches the target.
func (e *baseError) Is(target error) bool {
	if e.cause != nil {
		return errors.Is(e.cause, target)
	}
	return false
}

// -----------------------------------------------------------------------------
// Domain-Specific Errors
// -----------------------------------------------------------------------------

// WorkflowError represents errors from the workflow state machine.
//
// Example:
//
//	err := errors.NewWorkflowError("failed to load state", errors.ErrStateNotFound).WithRunID("a1b2c3d4")
//	fmt.Println(err) // "workflow error [run=a1b2c3d4]: failed to load state: workflow state not found"
type WorkflowError struct {
	baseError
	RunID string
	Phase string
}

// NewWorkflowError creates a new WorkflowError.
func NewWorkflowError(message string, cause error) *WorkflowError {
	return &WorkflowError{baseError: baseError{message: message, cause: cause}}
}

// WithRunID adds a run ID to the error context.
func (e *WorkflowError) WithRunID(id string) *WorkflowError {
	e.RunID = id
	return e
}

// WithPhase adds the workflow phase to the error context.
func (e *WorkflowError) WithPhase(phase string) *WorkflowError {
	e.Phase = phase
	return e
}

// Error returns the formatted error message.
func (e *WorkflowError) Error() string {
	var parts []string
	if e.RunID != "" {
		parts = append(parts, fmt.Sprintf("run=%s", e.RunID))
	}
	if e.Phase != "" {
		parts = append(parts, fmt.Sprintf("phase=%s", e.Phase))
	}
	return formatPrefixed("workflow error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *WorkflowError) Is(target error) bool {
	if _, ok := target.(*WorkflowError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// TaskError represents errors related to task scheduling and execution.
type TaskError struct {
	baseError
	TaskName string
}

// NewTaskError creates a new TaskError.
func NewTaskError(message string, cause error) *TaskError {
	return &TaskError{baseError: baseError{message: message, cause: cause}}
}

// WithTaskName adds the task name to the error context.
func (e *TaskError) WithTaskName(name string) *TaskError {
	e.TaskName = name
	return e
}

// WithRetryable marks the error as transient (e.g. agent rate limiting).
func (e *TaskError) WithRetryable(r bool) *TaskError {
	e.retryable = r
	return e
}

// Error returns the formatted error message.
func (e *TaskError) Error() string {
	var parts []string
	if e.TaskName != "" {
		parts = append(parts, fmt.Sprintf("task=%q", e.TaskName))
	}
	return formatPrefixed("task error", parts, e.message, e.cause)
}

// Is checks if this error matches the target.
func (e *TaskError) Is(target error) bool {
	if _, ok := target.(*TaskError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// GitError represents errors from version-control operations.
type GitError struct {
	baseError
	Branch string
	Output string
}

// NewGitError creates a new GitError.
func NewGitError(message string, cause error) *GitError {
	return &GitError{baseError: baseError{message: message, cause: cause}}
}

// WithBranch adds the branch name to the error context.
func (e *GitError) WithBranch(branch string) *GitError {
	e.Branch = branch
	return e
}

// WithOutput attaches captured command output to the error.
func (e *GitError) WithOutput(output string) *GitError {
	e.Output = strings.TrimSpace(output)
	return e
}

// Error returns the formatted error message.
func (e *GitError) Error() string {
	var parts []string
	if e.Branch != "" {
		parts = append(parts, fmt.Sprintf("branch=%s", e.Branch))
	}
	msg := formatPrefixed("git error", parts, e.message, e.cause)
	if e.Output != "" {
		msg += fmt.Sprintf("\noutput: %s", e.Output)
	}
	return msg
}

// Is checks if this error matches the target.
func (e *GitError) Is(target error) bool {
	if _, ok := target.(*GitError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// ValidationError represents a task-set validation failure. It carries the
// individual collision warnings so callers can surface them per task.
type ValidationError struct {
	baseError
	Warnings []string
}

// NewValidationError creates a new ValidationError from collision warnings.
func NewValidationError(message string, warnings []string) *ValidationError {
	return &ValidationError{
		baseError: baseError{message: message, cause: ErrFileCollision},
		Warnings:  warnings,
	}
}

// Error returns the formatted error message including each warning.
func (e *ValidationError) Error() string {
	msg := fmt.Sprintf("validation error: %s: %v", e.message, e.cause)
	for _, w := range e.Warnings {
		msg += "\n  - " + w
	}
	return msg
}

// Is checks if this error matches the target.
func (e *ValidationError) Is(target error) bool {
	if _, ok := target.(*ValidationError); ok {
		return true
	}
	return e.baseError.Is(target)
}

// -----------------------------------------------------------------------------
// Classification Helpers
// -----------------------------------------------------------------------------

// retryable is implemented by errors that know whether retrying may help.
type retryable interface {
	IsRetryable() bool
}

// IsRetryable returns whether the error is transient.
func (e *baseError) IsRetryable() bool {
	return e.retryable
}

// IsRetryable reports whether err (or any error in its chain) is transient
// and the operation may succeed on retry.
func IsRetryable(err error) bool {
	for err != nil {
		if r, ok := err.(retryable); ok && r.IsRetryable() {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// IsCanceled reports whether err represents operator cancellation rather
// than a failure.
func IsCanceled(err error) bool {
	return errors.Is(err, ErrRunCanceled)
}

// formatPrefixed builds "<prefix> [k=v, ...]: message: cause".
func formatPrefixed(prefix string, parts []string, message string, cause error) string {
	if len(parts) > 0 {
		prefix = fmt.Sprintf("%s [%s]", prefix, strings.Join(parts, ", "))
	}
	if cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, message, cause)
	}
	return fmt.Sprintf("%s: %s", prefix, message)
}
