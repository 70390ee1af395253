package workflow

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"ticketflow/internal/errors"
)

// StateFileName is the persisted run state inside the state directory.
const StateFileName = "state.json"

// archiveDirName holds finished and abandoned runs.
const archiveDirName = "archive"

// Store persists one run's state as JSON in the state directory. Writes are
// atomic (temp file plus rename) so a crash never leaves a half-written
// state behind.
type Store struct {
	dir string
	mu  sync.Mutex
}

// NewStore creates a store rooted at the given state directory, creating it
// if needed.
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the state directory.
func (s *Store) Dir() string {
	return s.dir
}

func (s *Store) statePath() string {
	return filepath.Join(s.dir, StateFileName)
}

// Save persists the state. Called after every phase transition and after
// every checkpoint.
func (s *Store) Save(state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}
	return atomicWriteFile(s.statePath(), data, 0o644)
}

// Load reads the persisted state. Returns ErrStateNotFound when no run is in
// progress and ErrStateCorrupted when the file exists but cannot be decoded.
func (s *Store) Load() (*State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.statePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to read state: %w", err)
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", errors.ErrStateCorrupted, err)
	}
	if !state.CurrentPhase.Valid() {
		return nil, fmt.Errorf("%w: unknown phase %q", errors.ErrStateCorrupted, state.CurrentPhase)
	}
	return &state, nil
}

// Exists reports whether a persisted run is present.
func (s *Store) Exists() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := os.Stat(s.statePath())
	return err == nil
}

// Archive moves the current state file into the archive directory, labeled
// with the ticket id and a timestamp. Used when a run reaches done or is
// abandoned.
func (s *Store) Archive(state *State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	archiveDir := filepath.Join(s.dir, archiveDirName)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return fmt.Errorf("failed to create archive directory: %w", err)
	}

	name := fmt.Sprintf("%s-%s.json", sanitizeForPath(state.TicketID), time.Now().UTC().Format("20060102-150405"))
	if err := os.Rename(s.statePath(), filepath.Join(archiveDir, name)); err != nil {
		if os.IsNotExist(err) {
			return errors.ErrStateNotFound
		}
		return fmt.Errorf("failed to archive state: %w", err)
	}
	return nil
}

func sanitizeForPath(id string) string {
	out := []rune(id)
	for i, r := range out {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
		default:
			out[i] = '-'
		}
	}
	if len(out) == 0 {
		return "run"
	}
	return string(out)
}

// atomicWriteFile writes via a temp file in the same directory followed by a
// rename, so the target is never observed half-written.
func atomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Chmod(tmpPath, perm); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}
