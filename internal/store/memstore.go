package store

import (
	"context"
	"encoding/json"
	"sync"
)

// MemKV is an in-memory KV used by the "memory" storage driver and by tests.
// Values round-trip through JSON so it behaves like the Badger store.
type MemKV struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemKV() *MemKV {
	return &MemKV{data: map[string][]byte{}}
}

func (s *MemKV) Get(_ context.Context, key string, out any) error {
	s.mu.RLock()
	b, ok := s.data[key]
	s.mu.RUnlock()
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal(b, out)
}

func (s *MemKV) Set(_ context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.data[key] = b
	s.mu.Unlock()
	return nil
}

func (s *MemKV) Close() error { return nil }
