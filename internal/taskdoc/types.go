// Package taskdoc parses task documents into ordered task sets and writes
// task status back into the originating document.
//
// A task document is a markdown checklist. Each task line may be preceded by
// HTML-comment metadata lines declaring category, order, group, and files.
// An optional YAML front matter block carries run metadata (ticket, branch,
// approval). Parsing is deterministic: the same document always yields the
// same task set, and a document regenerated after marking tasks complete
// parses back to the same set with only statuses changed.
package taskdoc

import "sort"

// Category determines whether a task runs on the sequential chain or in the
// parallel pool.
type Category string

const (
	// CategoryFundamental tasks form a strictly ordered chain and never run
	// concurrently with anything.
	CategoryFundamental Category = "fundamental"

	// CategoryIndependent tasks may run concurrently with each other once all
	// fundamental tasks have been attempted. Their target files must be
	// disjoint.
	CategoryIndependent Category = "independent"
)

// String returns the string representation of the category.
func (c Category) String() string {
	return string(c)
}

// Status is the lifecycle state of a task. No task transitions back to
// StatusPending.
type Status string

const (
	// StatusPending indicates the task has not started.
	StatusPending Status = "pending"

	// StatusRunning indicates the task is currently executing.
	// Transient: a persisted document with a running marker parses back
	// as pending, since the run that owned it is gone.
	StatusRunning Status = "running"

	// StatusComplete indicates the task finished successfully.
	StatusComplete Status = "complete"

	// StatusFailed indicates the task failed.
	StatusFailed Status = "failed"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// IsTerminal returns true if this status represents a final state.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Task represents a single unit of declared work.
type Task struct {
	// Name is the task's free-text description. Unique within a run and used
	// as the stable identity for status updates.
	Name string `json:"name"`

	// Status is the current lifecycle state.
	Status Status `json:"status"`

	// Category determines scheduling: fundamental (sequential chain) or
	// independent (parallel pool).
	Category Category `json:"category"`

	// OrderKey defines execution sequence among fundamental tasks, ascending.
	// Ties are broken by SourcePosition. Meaningless for independent tasks.
	OrderKey int `json:"order_key"`

	// GroupID is an optional informational label for independent tasks.
	// It is reported but does not affect scheduling.
	GroupID string `json:"group_id,omitempty"`

	// TargetFiles lists paths the task is expected to create or modify.
	// May be empty (unconstrained task).
	TargetFiles []string `json:"target_files,omitempty"`

	// SourcePosition is the zero-based line index of the task line in the
	// originating document, used to write status back without reformatting.
	SourcePosition int `json:"source_position"`
}

// IsFundamental returns true for chain tasks.
func (t *Task) IsFundamental() bool {
	return t.Category == CategoryFundamental
}

// HasFiles returns true if the task declares an expected file footprint.
func (t *Task) HasFiles() bool {
	return len(t.TargetFiles) > 0
}

// FrontMatter holds run metadata from the document's YAML front matter block.
type FrontMatter struct {
	Ticket   string `yaml:"ticket,omitempty"`
	Branch   string `yaml:"branch,omitempty"`
	Approved bool   `yaml:"approved,omitempty"`
}

// TaskSet is the full ordered sequence of tasks parsed from one document,
// in document order.
type TaskSet struct {
	Tasks []Task      `json:"tasks"`
	Meta  FrontMatter `json:"meta"`
}

// Len returns the number of tasks in the set.
func (s *TaskSet) Len() int {
	return len(s.Tasks)
}

// Get returns the task with the given name, or nil if not found.
func (s *TaskSet) Get(name string) *Task {
	for i := range s.Tasks {
		if s.Tasks[i].Name == name {
			return &s.Tasks[i]
		}
	}
	return nil
}

// Fundamentals returns the fundamental chain sorted by ascending OrderKey,
// ties broken by document position. The returned slice holds copies; use
// Get to mutate a task.
func (s *TaskSet) Fundamentals() []Task {
	var chain []Task
	for _, t := range s.Tasks {
		if t.IsFundamental() {
			chain = append(chain, t)
		}
	}
	sort.SliceStable(chain, func(i, j int) bool {
		if chain[i].OrderKey != chain[j].OrderKey {
			return chain[i].OrderKey < chain[j].OrderKey
		}
		return chain[i].SourcePosition < chain[j].SourcePosition
	})
	return chain
}

// Independents returns the parallel pool in document order.
func (s *TaskSet) Independents() []Task {
	var pool []Task
	for _, t := range s.Tasks {
		if !t.IsFundamental() {
			pool = append(pool, t)
		}
	}
	return pool
}

// SetStatus updates the status of the named task. Returns false if the task
// does not exist.
func (s *TaskSet) SetStatus(name string, status Status) bool {
	t := s.Get(name)
	if t == nil {
		return false
	}
	t.Status = status
	return true
}
