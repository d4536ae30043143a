package storage

import (
	"context"
	"sync"
)

// PageStore caches fetched chapter markup keyed by URL.
type PageStore interface {
	Get(ctx context.Context, url string) (string, bool, error)
	Put(ctx context.Context, url, body string) error
	Close() error
}

// MemoryStore keeps pages for the lifetime of the process.
type MemoryStore struct {
	pages map[string]string
	mu    sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pages: make(map[string]string),
	}
}

func (s *MemoryStore) Get(_ context.Context, url string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	body, exists := s.pages[url]
	return body, exists, nil
}

func (s *MemoryStore) Put(_ context.Context, url, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages[url] = body
	return nil
}

// Len returns the number of cached pages.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pages)
}

func (s *MemoryStore) Close() error {
	return nil
}
