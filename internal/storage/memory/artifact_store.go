package memory

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonidaniel/jobsai/internal/job"
)

// ArtifactStore keeps artifacts in memory and hands out pseudo URLs.
type ArtifactStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewArtifactStore creates an empty store.
func NewArtifactStore() *ArtifactStore {
	return &ArtifactStore{data: make(map[string][]byte)}
}

// Put stores a copy of data and returns the key.
func (s *ArtifactStore) Put(_ context.Context, key, _ string, data []byte) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), data...)
	return key, nil
}

// Get returns a copy of the stored artifact.
func (s *ArtifactStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("artifact %q: %w", key, job.ErrNotFound)
	}
	return append([]byte(nil), data...), nil
}

// Presign returns a memory:// URL for an existing key. The ttl is not enforced.
func (s *ArtifactStore) Presign(_ context.Context, key string, _ time.Duration) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.data[key]; !ok {
		return "", fmt.Errorf("artifact %q: %w", key, job.ErrNotFound)
	}
	return "memory://" + key, nil
}
