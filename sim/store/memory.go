package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-process SnapshotStore.
type MemoryStore struct {
	mu      sync.RWMutex
	frames  []Frame // newest last
	history int
}

// NewMemoryStore keeps up to history frames; history <= 0 means DefaultHistory.
func NewMemoryStore(history int) *MemoryStore {
	if history <= 0 {
		history = DefaultHistory
	}
	return &MemoryStore{history: history}
}

func (s *MemoryStore) Save(_ context.Context, frame Frame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, frame)
	if extra := len(s.frames) - s.history; extra > 0 {
		s.frames = append([]Frame(nil), s.frames[extra:]...)
	}
	return nil
}

func (s *MemoryStore) Latest(_ context.Context) (*Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.frames) == 0 {
		return nil, ErrNotFound
	}
	f := s.frames[len(s.frames)-1]
	return &f, nil
}

func (s *MemoryStore) History(_ context.Context, n int) ([]Frame, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n > len(s.frames) {
		n = len(s.frames)
	}
	out := make([]Frame, 0, n)
	for i := len(s.frames) - 1; i >= len(s.frames)-n; i-- {
		out = append(out, s.frames[i])
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
