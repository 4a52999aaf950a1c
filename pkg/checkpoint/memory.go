package checkpoint

import (
	"context"
	"sync"

	"github.com/mohae/deepcopy"
)

// MemoryStore keeps checkpoints in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]map[string]any
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]map[string]any)}
}

// Get implements Store.
func (s *MemoryStore) Get(_ context.Context, key string) (map[string]any, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	content, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	return deepcopy.Copy(content).(map[string]any), true, nil
}

// Update implements Store.
func (s *MemoryStore) Update(_ context.Context, key string, content map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[key] = deepcopy.Copy(content).(map[string]any)
	return nil
}

// Delete implements Store.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.data, key)
	return nil
}

// Keys returns the stored keys.
func (s *MemoryStore) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := make([]string, 0, len(s.data))
	for k := range s.data {
		keys = append(keys, k)
	}
	return keys
}
