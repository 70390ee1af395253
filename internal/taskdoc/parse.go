package taskdoc

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// taskLineRe matches a checklist task line: "- [ ] name" with markers
	// ' ' (pending), 'x' (complete), '!' (failed), '~' (running).
	taskLineRe = regexp.MustCompile(`^\s*[-*]\s+\[([ x!~X])\]\s+(.+?)\s*$`)

	// metaLineRe matches an HTML-comment metadata line: "<!-- key: value -->".
	// A single comment may carry several pairs separated by semicolons.
	metaLineRe = regexp.MustCompile(`^\s*<!--\s*(.+?)\s*-->\s*$`)
)

// Parse converts document text into an ordered TaskSet.
//
// Malformed task lines (no recognizable marker) are skipped, never fatal.
// A document with zero tasks yields a valid empty TaskSet. Metadata lines
// apply to the next task line; a blank or unrelated line discards pending
// metadata, since metadata must sit immediately above its task.
func Parse(text string) (*TaskSet, error) {
	set := &TaskSet{}

	body, meta, err := splitFrontMatter(text)
	if err != nil {
		return nil, fmt.Errorf("failed to parse front matter: %w", err)
	}
	set.Meta = meta

	// Line positions are counted over the full document so status write-back
	// targets the original file, front matter included.
	offset := strings.Count(text, "\n") - strings.Count(body, "\n")

	pending := make(map[string]string)
	for i, line := range strings.Split(body, "\n") {
		if m := metaLineRe.FindStringSubmatch(line); m != nil {
			collectMetadata(m[1], pending)
			continue
		}

		m := taskLineRe.FindStringSubmatch(line)
		if m == nil {
			// Anything else breaks the metadata attachment.
			pending = make(map[string]string)
			continue
		}

		task := buildTask(m[1], m[2], pending, offset+i)
		set.Tasks = append(set.Tasks, task)
		pending = make(map[string]string)
	}

	return set, nil
}

// ParseFile reads and parses a task document from disk.
func ParseFile(path string) (*TaskSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read task document: %w", err)
	}
	return Parse(string(data))
}

// splitFrontMatter strips an optional leading YAML front matter block and
// returns the remaining body. The body keeps its position in the original
// text via the caller's offset arithmetic.
func splitFrontMatter(text string) (body string, meta FrontMatter, err error) {
	if !strings.HasPrefix(text, "---\n") && text != "---" {
		return text, FrontMatter{}, nil
	}

	rest := strings.TrimPrefix(text, "---\n")
	end := strings.Index(rest, "\n---")
	if end < 0 {
		// Unterminated front matter: treat the whole document as body.
		return text, FrontMatter{}, nil
	}

	block := rest[:end]
	if err := yaml.Unmarshal([]byte(block), &meta); err != nil {
		return text, FrontMatter{}, err
	}

	body = rest[end+len("\n---"):]
	body = strings.TrimPrefix(body, "\n")
	return body, meta, nil
}

// collectMetadata parses "key: value" pairs out of one metadata comment.
// Fields may appear in any order across any number of comment lines.
// Unknown keys are ignored.
func collectMetadata(content string, into map[string]string) {
	for _, pair := range strings.Split(content, ";") {
		key, value, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		into[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}
}

// buildTask assembles a Task from its marker, name, and accumulated metadata.
// Absent category defaults to fundamental; absent files defaults to empty.
func buildTask(marker, name string, meta map[string]string, position int) Task {
	task := Task{
		Name:           name,
		Status:         statusForMarker(marker),
		Category:       CategoryFundamental,
		SourcePosition: position,
	}

	if c, ok := meta["category"]; ok {
		if strings.EqualFold(c, string(CategoryIndependent)) {
			task.Category = CategoryIndependent
		}
	}
	if o, ok := meta["order"]; ok {
		if n, err := strconv.Atoi(o); err == nil {
			task.OrderKey = n
		}
	}
	if g, ok := meta["group"]; ok {
		task.GroupID = g
	}
	if f, ok := meta["files"]; ok {
		task.TargetFiles = splitFileList(f)
	}

	return task
}

// splitFileList splits a comma-separated path list, trimming surrounding
// whitespace and dropping empty entries.
func splitFileList(list string) []string {
	var files []string
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry != "" {
			files = append(files, entry)
		}
	}
	return files
}

// statusForMarker maps a checkbox marker to a Status. A running marker parses
// back as pending: the run that owned it no longer exists.
func statusForMarker(marker string) Status {
	switch marker {
	case "x", "X":
		return StatusComplete
	case "!":
		return StatusFailed
	default:
		return StatusPending
	}
}

// markerForStatus maps a Status to its checkbox marker.
func markerForStatus(status Status) string {
	switch status {
	case StatusComplete:
		return "x"
	case StatusFailed:
		return "!"
	case StatusRunning:
		return "~"
	default:
		return " "
	}
}
