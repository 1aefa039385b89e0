package blobstore

import (
	"context"
	"sync"

	"github.com/dmitrijs2005/medvault/internal/common"
)

type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Put(_ context.Context, data []byte) (string, error) {
	c, err := ComputeCID(data)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.blobs[c] = append([]byte(nil), data...)
	s.mu.Unlock()
	return c, nil
}

func (s *MemoryStore) Get(_ context.Context, c string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blobs[c]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return append([]byte(nil), b...), nil
}

func (s *MemoryStore) Has(_ context.Context, c string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blobs[c]
	return ok, nil
}
