package taskdoc

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WaitForApproval blocks until the task document at path carries
// `approved: true` in its front matter, the context is cancelled, or the
// watcher fails. The document is checked once up front, then re-checked on
// every write.
//
// This is the headless replacement for an interactive "approve this plan"
// prompt: the operator edits the document in their own editor and flips the
// approval flag when satisfied.
func WaitForApproval(ctx context.Context, path string) error {
	if approved, err := isApproved(path); err == nil && approved {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory, not the file: editors that write via
	// rename-and-replace would otherwise drop the watch.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(path), err)
	}

	target := filepath.Clean(path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			approved, err := isApproved(path)
			if err != nil {
				// The file may be mid-write; wait for the next event.
				continue
			}
			if approved {
				return nil
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("watcher closed")
			}
			return fmt.Errorf("watcher error: %w", err)
		}
	}
}

// isApproved parses the document and reports its approval flag.
func isApproved(path string) (bool, error) {
	set, err := ParseFile(path)
	if err != nil {
		return false, err
	}
	return set.Meta.Approved, nil
}
