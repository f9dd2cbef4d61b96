package hue

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// DefaultCacheTTL is used when no TTL is configured.
const DefaultCacheTTL = 5 * time.Minute

type cachedMembers struct {
	Lights    []string
	FetchedAt time.Time
}

// GroupCache remembers group membership so repeated flashes of the same
// room do not hit the bridge for every expansion. It does not fetch.
type GroupCache struct {
	mu     sync.RWMutex
	groups map[int]*cachedMembers
	ttl    time.Duration
	now    func() time.Time
}

// NewGroupCache creates a cache. A zero ttl selects DefaultCacheTTL.
func NewGroupCache(ttl time.Duration) *GroupCache {
	if ttl == 0 {
		ttl = DefaultCacheTTL
	}

	log.Debug().Dur("ttl", ttl).Msg("Hue group cache initialized")

	return &GroupCache{
		groups: make(map[int]*cachedMembers),
		ttl:    ttl,
		now:    time.Now,
	}
}

// Get returns the cached light ids of a group, or false when absent or stale.
func (c *GroupCache) Get(id int) ([]string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cached, ok := c.groups[id]
	if !ok || c.now().Sub(cached.FetchedAt) > c.ttl {
		return nil, false
	}
	return append([]string(nil), cached.Lights...), true
}

// Set stores the light ids of a group.
func (c *GroupCache) Set(id int, lights []string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.groups[id] = &cachedMembers{
		Lights:    append([]string(nil), lights...),
		FetchedAt: c.now(),
	}
}

// Invalidate drops one group.
func (c *GroupCache) Invalidate(id int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.groups, id)
}

// Clear drops everything.
func (c *GroupCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.groups = make(map[int]*cachedMembers)
}
