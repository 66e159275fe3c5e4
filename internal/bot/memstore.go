package bot

import (
	"context"
	"sort"
	"sync"
)

// Compile-time assertion that MemStore satisfies the Store interface.
var _ Store = (*MemStore)(nil)

// MemStore is a thread-safe, in-memory implementation of [Store].
type MemStore struct {
	mu         sync.RWMutex
	cfg        Config
	cfgSaved   bool
	schedules  map[string]ScheduledMeeting
	activities []Activity
}

// NewMemStore returns an initialised [MemStore].
func NewMemStore() *MemStore {
	return &MemStore{schedules: make(map[string]ScheduledMeeting)}
}

// Config implements [Store.Config].
func (s *MemStore) Config(_ context.Context) (Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.cfgSaved {
		return DefaultConfig(), nil
	}
	return s.cfg, nil
}

// SaveConfig implements [Store.SaveConfig].
func (s *MemStore) SaveConfig(_ context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg = cfg
	s.cfgSaved = true
	return nil
}

// AddSchedule implements [Store.AddSchedule].
func (s *MemStore) AddSchedule(_ context.Context, m ScheduledMeeting) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schedules[m.ID] = m
	return nil
}

// RemoveSchedule implements [Store.RemoveSchedule].
func (s *MemStore) RemoveSchedule(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return ErrNotFound
	}
	delete(s.schedules, id)
	return nil
}

// Schedules implements [Store.Schedules].
func (s *MemStore) Schedules(_ context.Context) ([]ScheduledMeeting, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]ScheduledMeeting, 0, len(s.schedules))
	for _, m := range s.schedules {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out, nil
}

// AppendActivity implements [Store.AppendActivity].
func (s *MemStore) AppendActivity(_ context.Context, a Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.activities = append([]Activity{a}, s.activities...)
	if len(s.activities) > ActivityCapacity {
		s.activities = s.activities[:ActivityCapacity]
	}
	return nil
}

// Activities implements [Store.Activities].
func (s *MemStore) Activities(_ context.Context) ([]Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Activity, len(s.activities))
	copy(out, s.activities)
	return out, nil
}
