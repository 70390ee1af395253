// Package checkpoint records one durable snapshot per completed task attempt.
//
// The manager is the single point of contention between parallel workers: the
// version-control backend operates on one shared working tree, so snapshot
// creation is serialized behind a mutex. Checkpointing is bookkeeping, not
// task correctness; a failed snapshot is logged and the record is kept
// without an identifier, never escalated to the originating task.
package checkpoint

import (
	"fmt"
	"sync"
	"time"

	"ticketflow/internal/logging"
	"ticketflow/internal/vcs"
)

// Outcome is the terminal result of a task attempt.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// Checkpoint is an immutable audit record of one task attempt.
type Checkpoint struct {
	// TaskName identifies the task this checkpoint belongs to.
	TaskName string `json:"task_name"`

	// Outcome is succeeded or failed.
	Outcome Outcome `json:"outcome"`

	// Timestamp is when the checkpoint was recorded.
	Timestamp time.Time `json:"timestamp"`

	// SnapshotID is the version-control snapshot identifier, empty when the
	// task made no file changes or the snapshot attempt failed.
	SnapshotID string `json:"snapshot_id,omitempty"`
}

// Sink receives each checkpoint as it is recorded, inside the manager's
// critical section, so downstream persistence sees records in order.
type Sink func(Checkpoint)

// Manager serializes snapshot creation across concurrent task workers.
type Manager struct {
	mu       sync.Mutex
	backend  vcs.Backend
	ticketID string
	logger   *logging.Logger
	sink     Sink

	records []Checkpoint
}

// NewManager creates a checkpoint manager. ticketID labels snapshot messages;
// sink may be nil.
func NewManager(backend vcs.Backend, ticketID string, sink Sink, logger *logging.Logger) *Manager {
	return &Manager{backend: backend, ticketID: ticketID, sink: sink, logger: logger}
}

// Record creates exactly one snapshot attempt for a finished task and appends
// the audit record. Safe for concurrent use. The returned checkpoint carries
// an empty SnapshotID when the working tree had no changes or the snapshot
// failed; Record itself never returns an error.
func (m *Manager) Record(taskName string, outcome Outcome) Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	message := fmt.Sprintf("ticketflow(%s): %s: %s", m.ticketID, taskName, outcome)

	snapshotID, err := m.backend.Snapshot(message)
	if err != nil {
		m.logger.Warn("checkpoint snapshot failed", "task", taskName, "error", err)
		snapshotID = ""
	}

	cp := Checkpoint{
		TaskName:   taskName,
		Outcome:    outcome,
		Timestamp:  time.Now().UTC(),
		SnapshotID: snapshotID,
	}
	m.records = append(m.records, cp)

	if m.sink != nil {
		m.sink(cp)
	}

	return cp
}

// All returns a copy of every checkpoint recorded so far, in record order.
func (m *Manager) All() []Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Checkpoint, len(m.records))
	copy(out, m.records)
	return out
}

// Count returns the number of checkpoints recorded so far.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
