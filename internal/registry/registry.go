// Package registry keeps the identity and group bookkeeping for live agent connections.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/remote-agent-hub/backend/internal/model"
)

// Handle is the live connection held for one agent.
type Handle interface {
	Send(data []byte) error
	Close()
}

// Entry is a point-in-time view of one registered agent.
type Entry struct {
	ID          string
	Handle      Handle
	ConnectedAt time.Time
}

type set map[string]struct{}

// Registry maps agent IDs to their connection handle and group names to
// member sets. Both tables share one lock so a disconnect removes an agent
// from the registry and from every group atomically.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Entry
	groups map[string]set

	newID func() string
	now   func() time.Time
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		agents: make(map[string]*Entry),
		groups: make(map[string]set),
		newID:  func() string { return uuid.New().String() },
		now:    time.Now,
	}
}

// Connect registers handle under id, or under a freshly generated ID when id
// is empty. If id was already registered, the previous handle is replaced and
// returned so the caller can close it; group memberships are kept.
func (r *Registry) Connect(id string, handle Handle) (string, Handle) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id == "" {
		id = r.newID()
		for r.agents[id] != nil {
			id = r.newID()
		}
	}

	var replaced Handle
	if prev, ok := r.agents[id]; ok {
		replaced = prev.Handle
	}
	r.agents[id] = &Entry{ID: id, Handle: handle, ConnectedAt: r.now()}
	return id, replaced
}

// Disconnect removes the agent and purges it from every group.
// It reports whether the agent was registered.
func (r *Registry) Disconnect(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[id]; !ok {
		return false
	}
	r.removeLocked(id)
	return true
}

// Release disconnects id only while it is still bound to handle. A
// connection that was superseded by a newer one under the same identity
// therefore cannot tear down its successor.
func (r *Registry) Release(id string, handle Handle) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.agents[id]
	if !ok || entry.Handle != handle {
		return false
	}
	r.removeLocked(id)
	return true
}

func (r *Registry) removeLocked(id string) {
	delete(r.agents, id)
	for _, members := range r.groups {
		delete(members, id)
	}
}

// Lookup returns the handle registered for id.
func (r *Registry) Lookup(id string) (Handle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.agents[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrAgentNotFound, id)
	}
	return entry.Handle, nil
}

// Get returns a copy of the entry registered for id.
func (r *Registry) Get(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.agents[id]
	if !ok {
		return Entry{}, false
	}
	return *entry, true
}

// SnapshotActive returns a copy of every registered entry, ordered by ID.
// The result stays valid while the registry keeps changing.
func (r *Registry) SnapshotActive() []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.agents))
	for _, entry := range r.agents {
		entries = append(entries, *entry)
	}
	r.mu.RUnlock()

	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries
}

// ActiveIDs returns the IDs of every registered agent, sorted.
func (r *Registry) ActiveIDs() []string {
	return lo.Map(r.SnapshotActive(), func(e Entry, _ int) string { return e.ID })
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// AddToGroup adds a registered agent to group, creating the group on first use.
// Only registered agents can join a group.
func (r *Registry) AddToGroup(group, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.agents[id]; !ok {
		return fmt.Errorf("%w: %s", model.ErrAgentNotFound, id)
	}
	members, ok := r.groups[group]
	if !ok {
		members = make(set)
		r.groups[group] = members
	}
	members[id] = struct{}{}
	return nil
}

// RemoveFromGroup removes id from group. Absent groups and members are ignored.
// The group itself survives even when it becomes empty.
func (r *Registry) RemoveFromGroup(group, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if members, ok := r.groups[group]; ok {
		delete(members, id)
	}
}

// GroupMembers returns the sorted member IDs of group.
func (r *Registry) GroupMembers(group string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.groups[group]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrGroupNotFound, group)
	}
	ids := lo.Keys(members)
	sort.Strings(ids)
	return ids, nil
}

// GroupEntries returns a snapshot of the entries of every member of group.
func (r *Registry) GroupEntries(group string) ([]Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members, ok := r.groups[group]
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrGroupNotFound, group)
	}
	entries := make([]Entry, 0, len(members))
	for id := range members {
		if entry, ok := r.agents[id]; ok {
			entries = append(entries, *entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
	return entries, nil
}

// GroupsOf returns the sorted names of the groups id belongs to.
func (r *Registry) GroupsOf(id string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for name, members := range r.groups {
		if _, ok := members[id]; ok {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Groups returns the sorted names of every group ever created.
func (r *Registry) Groups() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := lo.Keys(r.groups)
	sort.Strings(names)
	return names
}
