// Package memory stores blob content in-memory for development and tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// BlobStore stores artifacts in-memory and returns pseudo URIs.
type BlobStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBlobStore creates a new in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{data: make(map[string][]byte)}
}

// PutObject persists the content and returns a memory:// URI.
func (s *BlobStore) PutObject(_ context.Context, path string, _ string, data []byte) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	uri := "memory://" + path
	s.data[uri] = append([]byte(nil), data...)
	return uri, nil
}

// GetObject returns the content stored under the URI.
func (s *BlobStore) GetObject(_ context.Context, uri string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[uri]
	if !ok {
		return nil, fmt.Errorf("no object at %s", uri)
	}
	return append([]byte(nil), data...), nil
}
