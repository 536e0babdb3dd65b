package qlc

import "sync"

// ClassificationCache remembers entity classifications across reconnects so
// a refresh only queries entities it has not classified before.
//
// Ids are assumed stable for the life of a controller project; a changed
// object behind an unchanged id keeps its cached classification.
type ClassificationCache interface {
	Get(kind EntityKind, id string) (string, bool)
	Put(kind EntityKind, id, classification string)
}

type cacheKey struct {
	kind EntityKind
	id   string
}

// MemoryCache is the default in-process ClassificationCache.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[cacheKey]string
}

// Ensure MemoryCache implements ClassificationCache.
var _ ClassificationCache = (*MemoryCache)(nil)

// NewMemoryCache creates an empty cache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[cacheKey]string)}
}

// Get returns the cached classification.
func (m *MemoryCache) Get(kind EntityKind, id string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[cacheKey{kind, id}]
	return v, ok
}

// Put stores a classification. Empty values are ignored.
func (m *MemoryCache) Put(kind EntityKind, id, classification string) {
	if classification == "" {
		return
	}
	m.mu.Lock()
	m.entries[cacheKey{kind, id}] = classification
	m.mu.Unlock()
}

// Len returns the number of cached classifications.
func (m *MemoryCache) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}
