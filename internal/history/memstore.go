package history

import (
	"context"
	"strings"
	"sync"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
// Recordings are held newest-first in a slice; eviction pops the tail.
type MemStore struct {
	mu         sync.RWMutex
	recordings []Recording
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{}
}

// Append implements [Store.Append].
func (s *MemStore) Append(_ context.Context, rec Recording) error {
	if rec.SearchText == "" {
		rec.SearchText = BuildSearchText(rec)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.recordings = append([]Recording{rec}, s.recordings...)
	if len(s.recordings) > Capacity {
		s.recordings = s.recordings[:Capacity]
	}
	return nil
}

// List implements [Store.List].
func (s *MemStore) List(_ context.Context) ([]Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Recording, len(s.recordings))
	copy(out, s.recordings)
	return out, nil
}

// Get implements [Store.Get].
func (s *MemStore) Get(_ context.Context, id string) (Recording, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, r := range s.recordings {
		if r.ID == id {
			return r, nil
		}
	}
	return Recording{}, ErrNotFound
}

// UpdateTitle implements [Store.UpdateTitle].
func (s *MemStore) UpdateTitle(_ context.Context, id, title string) (Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.recordings {
		if r.ID == id {
			r.Title = title
			r.SearchText = BuildSearchText(r)
			s.recordings[i] = r
			return r, nil
		}
	}
	return Recording{}, ErrNotFound
}

// Delete implements [Store.Delete].
func (s *MemStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, r := range s.recordings {
		if r.ID == id {
			s.recordings = append(s.recordings[:i], s.recordings[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

// Clear implements [Store.Clear].
func (s *MemStore) Clear(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordings = nil
	return nil
}

// Search implements [Store.Search].
func (s *MemStore) Search(_ context.Context, query string) ([]Recording, error) {
	needle := strings.ToLower(query)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Recording
	for _, r := range s.recordings {
		if needle == "" || strings.Contains(r.SearchText, needle) {
			out = append(out, r)
		}
	}
	return out, nil
}
