package taskdoc

import (
	"fmt"
	"os"
	"strings"
)

// WriteStatuses returns the document text with each task's checkbox marker
// rewritten to match the set's current statuses. Only the marker characters
// change; the rest of the document, front matter and metadata included, is
// left byte-for-byte intact so a re-parse round-trips.
func WriteStatuses(text string, set *TaskSet) (string, error) {
	lines := strings.Split(text, "\n")

	for i := range set.Tasks {
		task := &set.Tasks[i]
		if task.SourcePosition < 0 || task.SourcePosition >= len(lines) {
			return "", fmt.Errorf("task %q: source position %d out of range", task.Name, task.SourcePosition)
		}

		line := lines[task.SourcePosition]
		m := taskLineRe.FindStringSubmatchIndex(line)
		if m == nil {
			return "", fmt.Errorf("task %q: line %d is no longer a task line", task.Name, task.SourcePosition)
		}

		// Submatch 1 is the single marker character inside the brackets.
		start, end := m[2], m[3]
		lines[task.SourcePosition] = line[:start] + markerForStatus(task.Status) + line[end:]
	}

	return strings.Join(lines, "\n"), nil
}

// UpdateFile rewrites the task document at path with the set's statuses.
func UpdateFile(path string, set *TaskSet) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read task document: %w", err)
	}

	updated, err := WriteStatuses(string(data), set)
	if err != nil {
		return err
	}

	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return fmt.Errorf("failed to write task document: %w", err)
	}
	return nil
}
