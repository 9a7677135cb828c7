package availability

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"
)

// Store is the file-backed slot table. Reads are served from an in-memory
// copy that is refreshed whenever the file's modification time moves.
// Store does no cross-process locking of its own; Engine wraps mutations
// in a lock.Locker.
type Store struct {
	path string
	loc  *time.Location

	mu      sync.RWMutex
	slots   []Slot
	modTime time.Time
	loaded  bool
}

func NewStore(path string, loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{path: path, loc: loc}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Location() *time.Location {
	return s.loc
}

// Snapshot returns the current table, reloading it only if the file changed
// since the last load.
func (s *Store) Snapshot(ctx context.Context) ([]Slot, error) {
	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("stat schedule: %w", err)
	}

	s.mu.RLock()
	fresh := s.loaded && info.ModTime().Equal(s.modTime)
	var cached []Slot
	if fresh {
		cached = cloneSlots(s.slots)
	}
	s.mu.RUnlock()

	if fresh {
		return cached, nil
	}
	return s.Reload(ctx)
}

// Reload parses the file unconditionally.
func (s *Store) Reload(ctx context.Context) ([]Slot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(s.path)
	if err != nil {
		return nil, fmt.Errorf("stat schedule: %w", err)
	}

	slots, err := ReadTable(s.path, s.loc)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.slots = slots
	s.modTime = info.ModTime()
	s.loaded = true
	s.mu.Unlock()

	return cloneSlots(slots), nil
}

// Save persists the whole table and refreshes the cache.
func (s *Store) Save(ctx context.Context, slots []Slot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := WriteTable(s.path, slots, s.loc); err != nil {
		return err
	}

	info, err := os.Stat(s.path)
	if err != nil {
		return fmt.Errorf("stat schedule after save: %w", err)
	}

	s.mu.Lock()
	s.slots = cloneSlots(slots)
	s.modTime = info.ModTime()
	s.loaded = true
	s.mu.Unlock()

	return nil
}

func cloneSlots(in []Slot) []Slot {
	if in == nil {
		return nil
	}
	out := make([]Slot, len(in))
	copy(out, in)
	return out
}
