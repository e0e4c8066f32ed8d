package state

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"
)

// snapshot is a committed tree with its version. Trees held here are never
// mutated; readers clone before handing them out.
type snapshot struct {
	tree    Tree
	version Version
}

// readThroughCache mirrors the store per session id.
//
// The store stays authoritative: entries are replaced on local commits,
// evicted on failed compare-and-set and on remote invalidation, and a load
// that raced with either is discarded rather than cached.
type readThroughCache struct {
	mu      sync.RWMutex
	entries map[string]snapshot
	gens    map[string]uint64
	loads   singleflight.Group
}

func newReadThroughCache() *readThroughCache {
	return &readThroughCache{
		entries: make(map[string]snapshot),
		gens:    make(map[string]uint64),
	}
}

// get returns the cached snapshot, loading it once for concurrent callers on
// a miss.
func (c *readThroughCache) get(ctx context.Context, sessionID string, load func(context.Context) (snapshot, error)) (snapshot, error) {
	c.mu.RLock()
	entry, ok := c.entries[sessionID]
	gen := c.gens[sessionID]
	c.mu.RUnlock()
	if ok {
		return entry, nil
	}

	result, err, _ := c.loads.Do(sessionID, func() (any, error) {
		loaded, err := load(ctx)
		if err != nil {
			return snapshot{}, err
		}
		c.mu.Lock()
		if c.gens[sessionID] == gen {
			c.entries[sessionID] = loaded
		}
		c.mu.Unlock()
		return loaded, nil
	})
	if err != nil {
		return snapshot{}, err
	}
	return result.(snapshot), nil
}

func (c *readThroughCache) put(sessionID string, entry snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[sessionID]++
	c.entries[sessionID] = entry
}

func (c *readThroughCache) evict(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gens[sessionID]++
	delete(c.entries, sessionID)
}

// evictUnless drops the entry when its version differs from version.
func (c *readThroughCache) evictUnless(sessionID string, version Version) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[sessionID]
	if !ok || entry.version == version {
		return false
	}
	c.gens[sessionID]++
	delete(c.entries, sessionID)
	return true
}

func (c *readThroughCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id := range c.entries {
		c.gens[id]++
	}
	c.entries = make(map[string]snapshot)
}
