package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/juju/utils/v4"
)

// JSONStore keeps the ledger in one JSON document, rewritten through a
// temp file and atomic rename on every Put.
type JSONStore struct {
	path string

	writeMu sync.Mutex

	mu      sync.RWMutex
	entries map[string]Entry
}

// OpenJSON loads the ledger file at path. A missing file is an empty ledger.
func OpenJSON(path string) (*JSONStore, error) {
	s := &JSONStore{path: path, entries: make(map[string]Entry)}
	if path == "" {
		return s, nil
	}
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		return nil, fmt.Errorf("parsing ledger %s: %w", path, err)
	}
	return s, nil
}

func (s *JSONStore) Get(_ context.Context, sourceID string) (Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[sourceID]
	return e, ok, nil
}

func (s *JSONStore) All(_ context.Context) (map[string]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Entry, len(s.entries))
	for k, v := range s.entries {
		out[k] = v
	}
	return out, nil
}

func (s *JSONStore) Put(_ context.Context, sourceID string, e Entry) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	next := make(map[string]Entry, len(s.entries)+1)
	for k, v := range s.entries {
		next[k] = v
	}
	s.mu.RUnlock()
	next[sourceID] = e

	if err := s.write(next); err != nil {
		return fmt.Errorf("%s: %v: %w", sourceID, err, ErrLedgerWrite)
	}
	s.mu.Lock()
	s.entries = next
	s.mu.Unlock()
	return nil
}

func (s *JSONStore) Flush(_ context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.mu.RLock()
	snapshot := s.entries
	s.mu.RUnlock()
	if err := s.write(snapshot); err != nil {
		return fmt.Errorf("flush: %v: %w", err, ErrLedgerWrite)
	}
	return nil
}

func (s *JSONStore) Close() error { return nil }

func (s *JSONStore) write(entries map[string]Entry) error {
	if s.path == "" {
		return nil
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return utils.AtomicWriteFile(s.path, data, 0o644)
}
