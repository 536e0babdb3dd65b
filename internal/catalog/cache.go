package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/qlc-bridge/internal/bridges/qlc"
)

// saveTimeout bounds one write-through to SQLite.
const saveTimeout = 2 * time.Second

// Logger is the logging surface PersistentCache needs.
type Logger interface {
	Warn(msg string, args ...any)
}

type cacheKey struct {
	kind qlc.EntityKind
	id   string
}

// PersistentCache is a qlc.ClassificationCache backed by SQLite.
//
// Reads are served from memory. Writes go to memory first and then through
// to the repository; a failed write is logged and the value stays cached
// in memory for this process.
//
// Thread Safety: All methods are safe for concurrent use.
type PersistentCache struct {
	repo   *ClassificationRepository
	logger Logger

	mu      sync.RWMutex
	entries map[cacheKey]string
}

// Ensure PersistentCache implements qlc.ClassificationCache.
var _ qlc.ClassificationCache = (*PersistentCache)(nil)

// NewPersistentCache loads every stored classification into memory.
//
// Parameters:
//   - ctx: Bounds the initial load
//   - repo: Repository to read from and write through to
//   - logger: Receives write-through failures (may be nil)
//
// Returns:
//   - *PersistentCache: Warm cache ready for qlc.WithClassificationCache
//   - error: If the initial load fails
func NewPersistentCache(ctx context.Context, repo *ClassificationRepository, logger Logger) (*PersistentCache, error) {
	stored, err := repo.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading classifications: %w", err)
	}
	c := &PersistentCache{
		repo:    repo,
		logger:  logger,
		entries: make(map[cacheKey]string, len(stored)),
	}
	for _, s := range stored {
		c.entries[cacheKey{s.Kind, s.EntityID}] = s.Classification
	}
	return c, nil
}

// Get returns the cached classification.
func (c *PersistentCache) Get(kind qlc.EntityKind, id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.entries[cacheKey{kind, id}]
	return v, ok
}

// Put caches a classification and persists it when it changed.
// Empty values are ignored.
func (c *PersistentCache) Put(kind qlc.EntityKind, id, classification string) {
	if classification == "" {
		return
	}

	key := cacheKey{kind, id}
	c.mu.Lock()
	unchanged := c.entries[key] == classification
	c.entries[key] = classification
	c.mu.Unlock()
	if unchanged {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()
	if err := c.repo.Save(ctx, kind, id, classification); err != nil && c.logger != nil {
		c.logger.Warn("failed to persist classification",
			"kind", kind, "id", id, "error", err)
	}
}

// Len returns the number of cached classifications.
func (c *PersistentCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Reset forgets every classification in memory and in the database.
// The next refresh re-queries the controller for each entity type.
func (c *PersistentCache) Reset(ctx context.Context) (int64, error) {
	c.mu.Lock()
	c.entries = make(map[cacheKey]string)
	c.mu.Unlock()
	return c.repo.Forget(ctx)
}
