package agent

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/caseloop/caseloop/internal/models"
)

// Key identifies one memoized agent instance
type Key struct {
	AgentType  string
	OrgID      uuid.UUID
	UserID     uuid.UUID
	EntityType string
	EntityID   uuid.UUID
}

// KeyFor derives a cache key from a caller's context
func KeyFor(agentType string, actx *models.ActionContext) Key {
	return Key{
		AgentType:  agentType,
		OrgID:      actx.OrganizationID,
		UserID:     actx.UserID,
		EntityType: actx.EntityType,
		EntityID:   actx.EntityID,
	}
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%s:%s:%s", k.AgentType, k.OrgID, k.UserID, k.EntityType, k.EntityID)
}

// Cache memoizes agent instances per key to amortize construction cost.
// Construction is single-flight per key: concurrent GetOrCreate calls for
// the same key build once. Cached agents are immutable, so concurrent reuse
// of one instance is safe.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Agent
	group   singleflight.Group
}

// NewCache creates an empty agent cache
func NewCache() *Cache {
	return &Cache{entries: make(map[string]*Agent)}
}

// GetOrCreate returns the cached agent for key, building it with build on
// first use
func (c *Cache) GetOrCreate(key Key, build func() (*Agent, error)) (*Agent, error) {
	id := key.String()

	c.mu.RLock()
	agent, ok := c.entries[id]
	c.mu.RUnlock()
	if ok {
		return agent, nil
	}

	v, err, _ := c.group.Do(id, func() (interface{}, error) {
		c.mu.RLock()
		agent, ok := c.entries[id]
		c.mu.RUnlock()
		if ok {
			return agent, nil
		}

		built, err := build()
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		c.entries[id] = built
		c.mu.Unlock()
		return built, nil
	})
	if err != nil {
		return nil, err
	}

	return v.(*Agent), nil
}

// Invalidate drops the cached agent for key
func (c *Cache) Invalidate(key Key) {
	c.mu.Lock()
	delete(c.entries, key.String())
	c.mu.Unlock()
}

// Len returns the number of cached agents
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
