// Package docsync implements the documentation-update phase. For every
// configured target document it asks the external text-generation collaborator
// for refreshed content, previews the change as a diff, and writes the result.
//
// The whole phase is best-effort by contract: any failure, per document or
// total, is reported in the summary and never fails the run.
package docsync

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"ticketflow/internal/logging"
)

// TextGenerator produces free-form text from a single prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Update summarizes the outcome for one target document.
type Update struct {
	// Path is the target document.
	Path string

	// Changed is true when new content was written.
	Changed bool

	// DiffPreview is a human-readable diff of the change, empty when the
	// document was already current or previews are disabled.
	DiffPreview string

	// Err holds the per-document failure, nil on success. Failures here are
	// informational only.
	Err error
}

// Syncer drives the update-docs phase over a fixed target list.
type Syncer struct {
	targets   []string
	showDiff  bool
	generator TextGenerator
	logger    *logging.Logger
}

// NewSyncer creates a syncer for the given target documents.
func NewSyncer(targets []string, showDiff bool, generator TextGenerator, logger *logging.Logger) *Syncer {
	return &Syncer{targets: targets, showDiff: showDiff, generator: generator, logger: logger}
}

// Sync refreshes every target document. It always returns one Update per
// target and never returns an error: documentation failures are tolerated
// unconditionally.
func (s *Syncer) Sync(ctx context.Context, contextRef string) []Update {
	updates := make([]Update, 0, len(s.targets))
	for _, path := range s.targets {
		update := s.syncOne(ctx, path, contextRef)
		if update.Err != nil {
			s.logger.Warn("documentation update skipped", "doc", path, "error", update.Err)
		} else if update.Changed {
			s.logger.Info("documentation updated", "doc", path)
		}
		updates = append(updates, update)
	}
	return updates
}

func (s *Syncer) syncOne(ctx context.Context, path, contextRef string) Update {
	update := Update{Path: path}

	current, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		update.Err = err
		return update
	}

	raw, err := s.generator.GenerateText(ctx, buildDocPrompt(path, string(current), contextRef))
	if err != nil {
		update.Err = err
		return update
	}

	refreshed := stripCodeFence(raw)
	if refreshed == "" || refreshed == string(current) {
		return update
	}

	if s.showDiff {
		update.DiffPreview = Preview(string(current), refreshed)
	}

	if err := os.WriteFile(path, []byte(refreshed), 0o644); err != nil {
		update.Err = err
		return update
	}

	update.Changed = true
	return update
}

// buildDocPrompt frames the refresh request for one document.
func buildDocPrompt(path, current, contextRef string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Update the documentation file %s to reflect recent changes.\n", path)
	if contextRef != "" {
		fmt.Fprintf(&b, "\nWork performed: %s\n", contextRef)
	}
	if current != "" {
		fmt.Fprintf(&b, "\nCurrent content:\n\n%s\n", current)
	} else {
		b.WriteString("\nThe file does not exist yet; write it from scratch.\n")
	}
	b.WriteString("\nReply with the complete updated file content and nothing else. ")
	b.WriteString("Reply with an empty message if no update is needed.\n")
	return b.String()
}

// stripCodeFence removes a wrapping markdown code fence if the agent added
// one around the document.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	if strings.TrimSpace(lines[len(lines)-1]) == "```" {
		return strings.Join(lines[1:len(lines)-1], "\n")
	}
	return s
}

// Preview renders a semantic-cleaned diff between two document versions.
func Preview(before, after string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, true)
	diffs = dmp.DiffCleanupSemantic(diffs)
	return strings.TrimSpace(dmp.DiffPrettyText(diffs))
}
