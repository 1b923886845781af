// Package counter tracks page visits in a small JSON state file, the same
// way other state lives under the state dir.
package counter

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Store counts hits per page path. Persisted as JSON; flushed on a short
// debounce and on Close so a crash loses at most a few hits.
type Store struct {
	path string

	mu     sync.Mutex
	counts map[string]int64
	dirty  bool
}

// New loads (or initializes) the counter state under the state dir.
func New(stateDir string) (*Store, error) {
	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir state: %w", err)
	}
	s := &Store{
		path:   filepath.Join(stateDir, "visits.json"),
		counts: map[string]int64{},
	}
	b, err := os.ReadFile(s.path)
	if err == nil {
		// A corrupt file starts the counter over; not worth failing boot.
		_ = json.Unmarshal(b, &s.counts)
	}
	return s, nil
}

// Hit records one visit and returns the new total for the path.
func (s *Store) Hit(page string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.counts[page]++
	s.dirty = true
	return s.counts[page]
}

// Count returns the current total for the path.
func (s *Store) Count(page string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[page]
}

// Total returns the sum over all pages.
func (s *Store) Total() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, v := range s.counts {
		n += v
	}
	return n
}

// Flush writes the state if it changed since the last flush.
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}
	b, err := json.MarshalIndent(s.counts, "", "  ")
	if err != nil {
		return err
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return err
	}
	s.dirty = false
	return nil
}

// FlushEvery writes dirty state periodically until stop is closed.
func (s *Store) FlushEvery(d time.Duration, stop <-chan struct{}) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			_ = s.Flush()
		case <-stop:
			_ = s.Flush()
			return
		}
	}
}
