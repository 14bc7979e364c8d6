package memory

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
)

// Object is one stored blob.
type Object struct {
	ContentType string
	Data        []byte
}

// BlobStore keeps mirrored images in memory and returns memory:// URIs.
type BlobStore struct {
	mu      sync.RWMutex
	objects map[string]Object
}

// NewBlobStore creates an empty in-memory blob store.
func NewBlobStore() *BlobStore {
	return &BlobStore{objects: make(map[string]Object)}
}

// PutObject implements catalog.BlobStore.
func (s *BlobStore) PutObject(_ context.Context, path string, contentType string, data io.Reader) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return "", fmt.Errorf("read object data: %w", err)
	}
	s.mu.Lock()
	s.objects[path] = Object{ContentType: contentType, Data: body}
	s.mu.Unlock()
	return "memory://" + path, nil
}

// Object returns a stored blob.
func (s *BlobStore) Object(path string) (Object, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[path]
	if !ok {
		return Object{}, false
	}
	return Object{ContentType: obj.ContentType, Data: append([]byte(nil), obj.Data...)}, true
}
