package memory

import (
	"context"
	"fmt"
	"sync"
)

type object struct {
	contentType string
	data        []byte
}

// ArtifactStore keeps generated artifacts in memory.
type ArtifactStore struct {
	mu      sync.RWMutex
	objects map[string]object
}

// NewArtifactStore constructs an ArtifactStore.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{objects: make(map[string]object)}
}

// PutObject stores data under name and returns a mem:// URI.
func (s *ArtifactStore) PutObject(_ context.Context, name, contentType string, data []byte) (string, error) {
	if name == "" {
		return "", fmt.Errorf("object name is empty")
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	s.mu.Lock()
	s.objects[name] = object{contentType: contentType, data: cp}
	s.mu.Unlock()
	return "mem://" + name, nil
}

// GetObject returns a copy of the stored data.
func (s *ArtifactStore) GetObject(_ context.Context, name string) ([]byte, error) {
	s.mu.RLock()
	obj, ok := s.objects[name]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("object %q not found", name)
	}
	cp := make([]byte, len(obj.data))
	copy(cp, obj.data)
	return cp, nil
}
