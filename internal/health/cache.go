package health

import (
	"sync"

	"github.com/leozw/health-guardian/internal/core"
)

// ResultCache holds the latest result per module. Last write wins.
type ResultCache struct {
	mu      sync.RWMutex
	results map[string]core.ModuleResult
}

func NewResultCache() *ResultCache {
	return &ResultCache{results: make(map[string]core.ModuleResult)}
}

func (c *ResultCache) Put(module string, r core.ModuleResult) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results[module] = r
}

func (c *ResultCache) Get(module string) (core.ModuleResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.results[module]
	return r, ok
}

// Snapshot returns the cached results for ids in order, skipping missing
// modules. complete reports whether every id was present.
func (c *ResultCache) Snapshot(ids []string) (results []core.ModuleResult, complete bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	results = make([]core.ModuleResult, 0, len(ids))
	complete = true
	for _, id := range ids {
		r, ok := c.results[id]
		if !ok {
			complete = false
			continue
		}
		results = append(results, r)
	}
	return results, complete
}

func (c *ResultCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.results)
}
