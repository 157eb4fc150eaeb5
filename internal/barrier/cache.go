package barrier

import (
	"sort"
	"sync"

	"golang.org/x/exp/maps"
)

// Cache is the local set of named blockers, such as assets still loading.
// It is never replicated.
type Cache struct {
	mu       sync.Mutex
	blockers map[string]struct{}
}

func NewCache() *Cache {
	return &Cache{blockers: make(map[string]struct{})}
}

func (c *Cache) Block(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockers[name] = struct{}{}
}

func (c *Cache) Unblock(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.blockers, name)
}

func (c *Cache) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.blockers) == 0
}

func (c *Cache) Pending() []string {
	c.mu.Lock()
	names := maps.Keys(c.blockers)
	c.mu.Unlock()
	sort.Strings(names)
	return names
}
