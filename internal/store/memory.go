package store

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/Adithya-Monish-Kumar-K/docsearch/pkg/errors"
)

// MemoryStore is a map-backed Store. Get counts are recorded per object so
// tests can assert how often a shard was fetched.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	gets    map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string][]byte),
		gets:    make(map[string]int),
	}
}

func (s *MemoryStore) Get(ctx context.Context, name string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gets[name]++
	data, ok := s.objects[name]
	if !ok {
		return nil, fmt.Errorf("memory object %s: %w", name, apperrors.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Put(ctx context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[name] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStore) PutAll(ctx context.Context, objects map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for name, data := range objects {
		s.objects[name] = append([]byte(nil), data...)
	}
	return nil
}

// Gets returns how many times name was requested.
func (s *MemoryStore) Gets(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gets[name]
}

// Names returns the stored object names.
func (s *MemoryStore) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.objects))
	for name := range s.objects {
		names = append(names, name)
	}
	return names
}

func (s *MemoryStore) Close() error {
	return nil
}
