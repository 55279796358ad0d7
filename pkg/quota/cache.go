package quota

import (
	"context"
	"sync"

	"github.com/hpcops/allocsync/pkg/engine"
)

// Cache memoizes quota snapshots by filesystem for the lifetime of one run.
// Entries are filled on first access and never invalidated; failures are cached too.
// Create a new Cache for every run.
type Cache struct {
	source engine.QuotaSource

	mu      sync.Mutex
	entries map[string]cacheEntry
}

type cacheEntry struct {
	snapshot *engine.QuotaSnapshot
	err      error
}

var _ engine.QuotaSource = (*Cache)(nil)

// NewCache creates an empty cache in front of source.
func NewCache(source engine.QuotaSource) *Cache {
	return &Cache{
		source:  source,
		entries: make(map[string]cacheEntry),
	}
}

// Snapshot returns the cached snapshot of filesystem, querying the source once.
func (c *Cache) Snapshot(ctx context.Context, filesystem string) (*engine.QuotaSnapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[filesystem]; ok {
		return e.snapshot, e.err
	}
	snapshot, err := c.source.Snapshot(ctx, filesystem)
	c.entries[filesystem] = cacheEntry{snapshot: snapshot, err: err}
	return snapshot, err
}

// Len returns the number of cached filesystems.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
