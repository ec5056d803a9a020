package registry

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/remote-agent-hub/backend/internal/model"
)

type fakeHandle struct {
	name string
}

func (h *fakeHandle) Send([]byte) error { return nil }
func (h *fakeHandle) Close()            {}

func TestConnectAndLookup(t *testing.T) {
	r := New()
	h := &fakeHandle{name: "a"}

	id, replaced := r.Connect("tab-1", h)
	assert.Equal(t, "tab-1", id)
	assert.Nil(t, replaced)

	got, err := r.Lookup("tab-1")
	require.NoError(t, err)
	assert.Same(t, h, got)
	assert.Equal(t, 1, r.Len())
}

func TestConnectGeneratesID(t *testing.T) {
	r := New()
	ids := []string{"dup", "dup", "fresh"}
	r.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	first, _ := r.Connect("", &fakeHandle{})
	second, _ := r.Connect("", &fakeHandle{})
	assert.Equal(t, "dup", first)
	assert.Equal(t, "fresh", second, "generated IDs must not collide with registered agents")
}

func TestReconnectReplacesHandleAndKeepsGroups(t *testing.T) {
	r := New()
	oldHandle, newHandle := &fakeHandle{name: "old"}, &fakeHandle{name: "new"}

	r.Connect("tab-1", oldHandle)
	require.NoError(t, r.AddToGroup("g", "tab-1"))

	_, replaced := r.Connect("tab-1", newHandle)
	assert.Same(t, oldHandle, replaced)

	got, err := r.Lookup("tab-1")
	require.NoError(t, err)
	assert.Same(t, newHandle, got)

	members, err := r.GroupMembers("g")
	require.NoError(t, err)
	assert.Equal(t, []string{"tab-1"}, members)
}

func TestReleaseIgnoresStaleHandle(t *testing.T) {
	r := New()
	oldHandle, newHandle := &fakeHandle{}, &fakeHandle{}
	r.Connect("tab-1", oldHandle)
	r.Connect("tab-1", newHandle)

	assert.False(t, r.Release("tab-1", oldHandle))
	_, err := r.Lookup("tab-1")
	assert.NoError(t, err)

	assert.True(t, r.Release("tab-1", newHandle))
	_, err = r.Lookup("tab-1")
	assert.ErrorIs(t, err, model.ErrAgentNotFound)
}

func TestDisconnectPurgesGroups(t *testing.T) {
	r := New()
	r.Connect("a", &fakeHandle{})
	r.Connect("b", &fakeHandle{})
	require.NoError(t, r.AddToGroup("g1", "a"))
	require.NoError(t, r.AddToGroup("g2", "a"))
	require.NoError(t, r.AddToGroup("g2", "b"))

	assert.True(t, r.Disconnect("a"))
	assert.False(t, r.Disconnect("a"))

	g1, err := r.GroupMembers("g1")
	require.NoError(t, err)
	assert.Empty(t, g1, "empty groups persist")

	g2, err := r.GroupMembers("g2")
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, g2)
	assert.Empty(t, r.GroupsOf("a"))
}

func TestGroups(t *testing.T) {
	r := New()
	r.Connect("a", &fakeHandle{})

	err := r.AddToGroup("g", "ghost")
	assert.ErrorIs(t, err, model.ErrAgentNotFound)

	_, err = r.GroupMembers("never")
	assert.ErrorIs(t, err, model.ErrGroupNotFound)
	_, err = r.GroupEntries("never")
	assert.ErrorIs(t, err, model.ErrGroupNotFound)

	require.NoError(t, r.AddToGroup("g", "a"))
	require.NoError(t, r.AddToGroup("g", "a"))
	members, _ := r.GroupMembers("g")
	assert.Equal(t, []string{"a"}, members)

	r.RemoveFromGroup("g", "a")
	r.RemoveFromGroup("g", "a")
	r.RemoveFromGroup("missing", "a")
	members, err = r.GroupMembers("g")
	require.NoError(t, err)
	assert.Empty(t, members)
	assert.Equal(t, []string{"g"}, r.Groups())
}

func TestSnapshotIsIndependentOfLaterChanges(t *testing.T) {
	r := New()
	r.Connect("b", &fakeHandle{})
	r.Connect("a", &fakeHandle{})

	snap := r.SnapshotActive()
	r.Disconnect("a")

	require.Len(t, snap, 2)
	assert.Equal(t, "a", snap[0].ID)
	assert.Equal(t, "b", snap[1].ID)
	assert.Equal(t, []string{"b"}, r.ActiveIDs())
}

// Connecting and disconnecting from many goroutines leaves the registry
// consistent: no agent survives, and no group keeps a disconnected member.
func TestConcurrentConnectDisconnect(t *testing.T) {
	r := New()
	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("agent-%d", i)
			h := &fakeHandle{}
			r.Connect(id, h)
			if err := r.AddToGroup(fmt.Sprintf("g%d", i%5), id); err != nil {
				t.Errorf("AddToGroup: %v", err)
			}
			r.SnapshotActive()
			r.Release(id, h)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, r.Len())
	for _, g := range r.Groups() {
		members, err := r.GroupMembers(g)
		require.NoError(t, err)
		assert.Empty(t, members, "group %s", g)
	}
}

// Property: after any sequence of connects, joins and disconnects, every
// group member is a registered agent.
func TestGroupMembersAreAlwaysRegisteredProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	type op struct {
		Kind  int
		Agent int
		Group int
	}
	genOp := gopter.CombineGens(
		gen.IntRange(0, 2),
		gen.IntRange(0, 7),
		gen.IntRange(0, 2),
	).Map(func(vals []interface{}) op {
		return op{Kind: vals[0].(int), Agent: vals[1].(int), Group: vals[2].(int)}
	})

	properties.Property("group members are registered agents", prop.ForAll(
		func(ops []op) bool {
			r := New()
			for _, o := range ops {
				id := fmt.Sprintf("a%d", o.Agent)
				group := fmt.Sprintf("g%d", o.Group)
				switch o.Kind {
				case 0:
					r.Connect(id, &fakeHandle{})
				case 1:
					err := r.AddToGroup(group, id)
					_, registered := r.Get(id)
					if registered != (err == nil) {
						return false
					}
					if err != nil && !errors.Is(err, model.ErrAgentNotFound) {
						return false
					}
				case 2:
					r.Disconnect(id)
				}
			}
			for _, g := range r.Groups() {
				members, err := r.GroupMembers(g)
				if err != nil {
					return false
				}
				for _, m := range members {
					if _, ok := r.Get(m); !ok {
						return false
					}
				}
			}
			return true
		},
		gen.SliceOf(genOp),
	))

	properties.TestingRun(t)
}
