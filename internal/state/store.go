package state

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store owns the in-memory snapshot and its durable persistence. All
// mutations are serialized by an internal mutex (single-writer contract);
// every mutation is written atomically before Set returns, so a step never
// advances ahead of its persisted state.
type Store struct {
	mu       sync.Mutex
	filePath string
	current  AutopilotState
}

// CreateFresh returns a minimal valid state for a project without touching
// disk. Phase zero means project-init has not run yet.
func CreateFresh(projectDir string) AutopilotState {
	now := time.Now().UTC()
	return AutopilotState{
		Status:           StatusIdle,
		CurrentPhase:     0,
		CurrentStep:      StepIdle,
		Phases:           []Phase{},
		PendingQuestions: []Question{},
		ErrorHistory:     []ErrorRecord{},
		StartedAt:        now,
		LastUpdatedAt:    now,
		Branches:         map[string]BranchLease{},
		ProjectDir:       projectDir,
	}
}

// NewStore creates a Store that persists to filePath, seeded with initial.
// The seed is not written until the first Set or Flush call.
func NewStore(filePath string, initial AutopilotState) *Store {
	return &Store{filePath: filePath, current: initial}
}

// Restore loads a previously persisted snapshot and returns a Store bound
// to the same path. A missing or malformed file is an error; callers decide
// whether to fall back to CreateFresh.
func Restore(filePath string) (*Store, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("restoring state from %q: %w", filePath, err)
	}
	var st AutopilotState
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("restoring state from %q: %w", filePath, err)
	}
	if st.Branches == nil {
		st.Branches = map[string]BranchLease{}
	}
	return &Store{filePath: filePath, current: st}, nil
}

// Path returns the snapshot file path.
func (s *Store) Path() string { return s.filePath }

// Get returns a defensive copy of the current state.
func (s *Store) Get() AutopilotState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current.Clone()
}

// Set applies the mutator to the current state under the store lock, stamps
// LastUpdatedAt, and persists atomically. It returns only after the write
// completed (persist-before-advance).
func (s *Store) Set(mutate func(*AutopilotState)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	mutate(&s.current)
	s.current.LastUpdatedAt = time.Now().UTC()
	return s.writeLocked()
}

// Flush persists the current state without mutating it.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked()
}

// writeLocked marshals the current state and writes it via temp file +
// rename in the snapshot's own directory, so readers see either the old or
// the new snapshot, never a partial one. Callers must hold s.mu.
func (s *Store) writeLocked() error {
	data, err := json.MarshalIndent(&s.current, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	return WriteFileAtomic(s.filePath, append(data, '\n'))
}

// WriteFileAtomic writes data to path by writing a temp file in the same
// directory and renaming it over the target. Parent directories are created
// as needed. Permissions are 0644.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %q: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file in %q: %w", dir, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()        //nolint:errcheck
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("writing temp file %q: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("closing temp file %q: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		return fmt.Errorf("renaming temp file to %q: %w", path, err)
	}
	return nil
}
