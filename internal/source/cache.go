// SPDX-License-Identifier: Apache-2.0

package source

import (
	"context"
	"sync"
)

// Cache stores raw documents by file uuid.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, data []byte) error
}

// MemoryCache is an in-process Cache, normally scoped to one experiment.
type MemoryCache struct {
	mu   sync.RWMutex
	docs map[string][]byte
}

// NewMemoryCache creates an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{docs: make(map[string][]byte)}
}

func (m *MemoryCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.docs[key]
	return data, ok, nil
}

func (m *MemoryCache) Put(_ context.Context, key string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[key] = data
	return nil
}

// Len returns the number of cached documents.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.docs)
}

type noCache struct{}

func (noCache) Get(context.Context, string) ([]byte, bool, error) { return nil, false, nil }
func (noCache) Put(context.Context, string, []byte) error         { return nil }

// NoCache returns a Cache that stores nothing.
func NoCache() Cache {
	return noCache{}
}
