package blobs

import (
	"context"
	"sort"
	"sync"
)

var _ Store = &InMemoryStore{}

type InMemoryStore struct {
	lock  sync.RWMutex
	blobs map[string][]byte
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		blobs: make(map[string][]byte),
	}
}

func (s *InMemoryStore) Put(ctx context.Context, path string, data []byte) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.blobs[path] = append([]byte(nil), data...)
	return nil
}

func (s *InMemoryStore) Get(ctx context.Context, path string) ([]byte, error) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	data, ok := s.blobs[path]
	if !ok {
		return nil, &ErrNotFound{Path: path}
	}
	return append([]byte(nil), data...), nil
}

func (s *InMemoryStore) Delete(ctx context.Context, path string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, ok := s.blobs[path]; !ok {
		return &ErrNotFound{Path: path}
	}
	delete(s.blobs, path)
	return nil
}

// Paths returns every stored path in lexical order.
func (s *InMemoryStore) Paths() []string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	paths := make([]string, 0, len(s.blobs))
	for path := range s.blobs {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
