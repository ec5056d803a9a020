// Package state caches the last document state each agent reported.
package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/remote-agent-hub/backend/internal/model"
)

// Cache holds one DocumentState per agent. It is keyed by the same agent IDs
// as the registry but is queried independently of it: state outlives the
// connection that reported it.
type Cache struct {
	mu     sync.RWMutex
	states map[string]model.DocumentState
	now    func() time.Time
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{
		states: make(map[string]model.DocumentState),
		now:    time.Now,
	}
}

// Update overwrites the agent's state wholesale and stamps it with the current time.
func (c *Cache) Update(agentID string, url, content *string) model.DocumentState {
	st := model.DocumentState{
		AgentID:   agentID,
		URL:       url,
		Content:   content,
		UpdatedAt: c.now(),
	}

	c.mu.Lock()
	c.states[agentID] = st
	c.mu.Unlock()
	return st
}

// Get returns the agent's last reported state.
func (c *Cache) Get(agentID string) (model.DocumentState, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	st, ok := c.states[agentID]
	if !ok {
		return model.DocumentState{}, fmt.Errorf("%w: %s", model.ErrAgentStateNotFound, agentID)
	}
	return st, nil
}

// Has reports whether the agent has ever reported state.
func (c *Cache) Has(agentID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.states[agentID]
	return ok
}

// Len returns the number of agents with cached state.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.states)
}
