package jsonfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"localloop/adapters/memory"
	"localloop/engine"
)

// Store persists the whole ledger to a single JSON file.
// Suitable for demos and small single-process deployments.
type Store struct {
	*memory.Store
	path string
}

// New loads path if it exists and returns a store that rewrites the file on
// every committed write.
func New(path string) (*Store, error) {
	snap, err := load(path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	s := &Store{path: path}
	s.Store = memory.New(memory.WithSnapshot(snap), memory.WithPersister(s.write))
	return s, nil
}

func load(path string) (memory.Snapshot, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return memory.Snapshot{}, err
	}
	var snap memory.Snapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return memory.Snapshot{}, err
	}
	return snap, nil
}

// write replaces the file atomically via a temp file and rename.
func (s *Store) write(snap memory.Snapshot) error {
	b, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) Path() string { return s.path }

var _ engine.Storage = (*Store)(nil)
