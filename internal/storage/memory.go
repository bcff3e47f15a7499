package storage

import (
	"context"
	"encoding/json"
	"sync"
)

// Memory is a process-local Store.
type Memory struct {
	mu   sync.Mutex
	docs map[string][]byte

	failPut error
}

// NewMemory returns a process-local store.
func NewMemory() *Memory {
	return &Memory{docs: map[string][]byte{}}
}

// SetFailPut makes every following Put return err (nil restores normal behavior).
func (s *Memory) SetFailPut(err error) {
	s.mu.Lock()
	s.failPut = err
	s.mu.Unlock()
}

func (s *Memory) Get(ctx context.Context, name string, out any) (bool, error) {
	_ = ctx
	s.mu.Lock()
	b, ok := s.docs[name]
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(b, out)
}

func (s *Memory) Put(ctx context.Context, name string, v any) error {
	_ = ctx
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut != nil {
		return s.failPut
	}
	s.docs[name] = b
	return nil
}

func (s *Memory) Close() error { return nil }
