// Package validate checks structural invariants over a parsed task set.
//
// The one hard invariant is file-ownership disjointness among independent
// tasks: because the pool runs without ordering guarantees, two tasks
// declaring the same target file are a write-write race by construction.
// The validator only reports; the scheduler treats an unresolved collision
// as a hard precondition failure before starting the parallel phase.
// Fundamental tasks are never checked against anything, since they never
// run concurrently.
package validate

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gobwas/glob"

	"ticketflow/internal/errors"
	"ticketflow/internal/taskdoc"
)

// Collision reports one file path claimed by more than one independent task.
type Collision struct {
	// Path is the contested file path.
	Path string

	// TaskNames lists every independent task declaring the path, in document
	// order.
	TaskNames []string
}

// Message renders the collision as a human-readable warning naming all
// involved tasks.
func (c Collision) Message() string {
	quoted := make([]string, len(c.TaskNames))
	for i, name := range c.TaskNames {
		quoted[i] = fmt.Sprintf("%q", name)
	}
	return fmt.Sprintf("file %q is claimed by %d independent tasks: %s",
		c.Path, len(c.TaskNames), strings.Join(quoted, ", "))
}

// Result holds everything the validator found. Collisions block the parallel
// phase; advisories never block anything.
type Result struct {
	// Collisions are the hard findings: shared paths among independent tasks.
	Collisions []Collision

	// Advisories are informational warnings (duplicate names, unconstrained
	// independent tasks).
	Advisories []string
}

// HasCollisions returns true if the independent pool cannot safely run.
func (r *Result) HasCollisions() bool {
	return len(r.Collisions) > 0
}

// Warnings returns every finding as a flat list of human-readable strings,
// collisions first.
func (r *Result) Warnings() []string {
	var out []string
	for _, c := range r.Collisions {
		out = append(out, c.Message())
	}
	out = append(out, r.Advisories...)
	return out
}

// CollisionError converts the collisions into a blocking error, or nil when
// the pool is clean.
func (r *Result) CollisionError() error {
	if !r.HasCollisions() {
		return nil
	}
	msgs := make([]string, len(r.Collisions))
	for i, c := range r.Collisions {
		msgs[i] = c.Message()
	}
	return errors.NewValidationError("independent tasks declare overlapping target files", msgs)
}

// Check computes file-collision findings for the independent pool of a task
// set. exemptPatterns lists glob patterns for paths excluded from collision
// checking (lockfiles and generated code that many tasks legitimately touch).
//
// Check never mutates the set and never fails on task content; it only
// returns an error for an invalid exempt pattern, which is a configuration
// mistake.
func Check(set *taskdoc.TaskSet, exemptPatterns []string) (*Result, error) {
	exempt := make([]glob.Glob, 0, len(exemptPatterns))
	for _, pattern := range exemptPatterns {
		g, err := glob.Compile(pattern, '/')
		if err != nil {
			return nil, fmt.Errorf("invalid exempt pattern %q: %w", pattern, err)
		}
		exempt = append(exempt, g)
	}

	result := &Result{}

	pool := set.Independents()

	// Map each declared path to the independent tasks claiming it.
	fileToTasks := make(map[string][]string)
	for _, task := range pool {
		for _, file := range task.TargetFiles {
			if isExempt(file, exempt) {
				continue
			}
			fileToTasks[file] = append(fileToTasks[file], task.Name)
		}
	}

	// Deterministic output: report collisions in path order.
	paths := make([]string, 0, len(fileToTasks))
	for path := range fileToTasks {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	for _, path := range paths {
		names := fileToTasks[path]
		if len(names) > 1 {
			result.Collisions = append(result.Collisions, Collision{Path: path, TaskNames: names})
		}
	}

	result.Advisories = append(result.Advisories, advisories(set, pool)...)

	return result, nil
}

// advisories computes the non-blocking findings.
func advisories(set *taskdoc.TaskSet, pool []taskdoc.Task) []string {
	var out []string

	seen := make(map[string]bool)
	for _, task := range set.Tasks {
		if seen[task.Name] {
			out = append(out, fmt.Sprintf("duplicate task name %q: status updates will be ambiguous", task.Name))
		}
		seen[task.Name] = true
	}

	for _, task := range pool {
		if !task.HasFiles() {
			out = append(out, fmt.Sprintf("independent task %q declares no target files: collisions with it cannot be detected", task.Name))
		}
	}

	return out
}

// isExempt reports whether a path matches any exempt pattern.
func isExempt(path string, exempt []glob.Glob) bool {
	for _, g := range exempt {
		if g.Match(path) {
			return true
		}
	}
	return false
}
