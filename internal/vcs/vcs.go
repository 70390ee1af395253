// Package vcs abstracts the version-control backend used for checkpointing.
//
// The interfaces here are the seam between the workflow core and git: the
// checkpoint manager only needs snapshots and a dirty check, and tests mock
// either the Backend or the underlying CommandExecutor without touching a
// real repository.
package vcs

// Backend creates durable snapshots of the working tree.
//
// Implementations operate on one shared working state, so callers that may
// run concurrently must serialize their Snapshot calls (the checkpoint
// manager owns that mutex).
type Backend interface {
	// Snapshot stages everything and creates a durable snapshot with the
	// given message. Returns the snapshot identifier, or an empty string
	// when the working tree had no changes to snapshot.
	Snapshot(message string) (string, error)

	// HasUncommittedChanges reports whether the working tree is dirty.
	HasUncommittedChanges() (bool, error)

	// Head returns the identifier of the current snapshot.
	Head() (string, error)
}

// BranchManager handles run branch creation and lookup.
type BranchManager interface {
	// CurrentBranch returns the checked-out branch name.
	CurrentBranch() (string, error)

	// CreateBranch creates and checks out a new branch from the current head.
	CreateBranch(name string) error
}

// DiffProvider computes human-readable change summaries.
type DiffProvider interface {
	// DiffStat returns a diffstat of everything changed since the given
	// snapshot identifier, uncommitted changes included.
	DiffStat(since string) (string, error)
}
