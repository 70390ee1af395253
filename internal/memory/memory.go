// Package memory captures best-effort per-task artifacts: one JSON file per
// finished task under the run directory, holding the outcome and a tail of
// the agent's output. Artifacts exist for post-run inspection only; a failed
// write is logged and never affects the task's status.
package memory

import (
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"ticketflow/internal/logging"
)

// outputTailLimit caps the captured agent output per artifact.
const outputTailLimit = 4096

// Artifact is one task's memory record.
type Artifact struct {
	// TaskName identifies the task.
	TaskName string `json:"task_name"`

	// Succeeded is the task's terminal outcome.
	Succeeded bool `json:"succeeded"`

	// SnapshotID is the checkpoint snapshot, empty when none was created.
	SnapshotID string `json:"snapshot_id,omitempty"`

	// OutputTail is the trailing portion of the captured agent output.
	OutputTail string `json:"output_tail,omitempty"`

	// CapturedAt is when the artifact was written.
	CapturedAt time.Time `json:"captured_at"`
}

// Store writes and reads task artifacts in a single run directory.
type Store struct {
	dir    string
	logger *logging.Logger
}

// NewStore creates a store rooted at the given run directory. Artifacts live
// under <dir>/memory.
func NewStore(dir string, logger *logging.Logger) *Store {
	return &Store{dir: filepath.Join(dir, "memory"), logger: logger}
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9._-]+`)

// artifactPath maps a task name to its file, one file per task.
func (s *Store) artifactPath(taskName string) string {
	name := unsafeNameChars.ReplaceAllString(taskName, "-")
	name = strings.Trim(name, "-")
	if name == "" {
		name = "task"
	}
	if len(name) > 80 {
		name = name[:80]
	}
	return filepath.Join(s.dir, name+".json")
}

// Capture writes one artifact for a finished task. Best-effort: every failure
// path logs and returns, nothing escalates.
func (s *Store) Capture(taskName string, succeeded bool, snapshotID, output string) {
	artifact := Artifact{
		TaskName:   taskName,
		Succeeded:  succeeded,
		SnapshotID: snapshotID,
		OutputTail: tail(output, outputTailLimit),
		CapturedAt: time.Now().UTC(),
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		s.logger.Warn("memory artifact skipped", "task", taskName, "error", err)
		return
	}

	data, err := json.MarshalIndent(artifact, "", "  ")
	if err != nil {
		s.logger.Warn("memory artifact skipped", "task", taskName, "error", err)
		return
	}

	if err := os.WriteFile(s.artifactPath(taskName), data, 0o644); err != nil {
		s.logger.Warn("memory artifact skipped", "task", taskName, "error", err)
	}
}

// List loads every artifact in the store, sorted by capture time. A missing
// directory yields an empty list.
func (s *Store) List() ([]Artifact, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var artifacts []Artifact
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir, entry.Name()))
		if err != nil {
			s.logger.Warn("unreadable memory artifact", "file", entry.Name(), "error", err)
			continue
		}
		var a Artifact
		if err := json.Unmarshal(data, &a); err != nil {
			s.logger.Warn("corrupt memory artifact", "file", entry.Name(), "error", err)
			continue
		}
		artifacts = append(artifacts, a)
	}

	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].CapturedAt.Before(artifacts[j].CapturedAt)
	})
	return artifacts, nil
}

// tail returns the last n bytes of s, on a rune boundary.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := s[len(s)-n:]
	for len(cut) > 0 && !isRuneStart(cut[0]) {
		cut = cut[1:]
	}
	return cut
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}
