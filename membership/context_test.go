package membership

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedEvent struct {
	typ     EventType
	id      ID
	members []ID
}

// recordingListener remembers every event along with the member list the context
// had at the moment the listener was called.
type recordingListener struct {
	mut    sync.Mutex
	ctx    *Context
	events []recordedEvent
}

func (l *recordingListener) record(e Event) {
	ids := make([]ID, 0)
	for _, m := range l.ctx.Members() {
		ids = append(ids, m.ID)
	}

	l.mut.Lock()
	l.events = append(l.events, recordedEvent{typ: e.Type(), id: e.Member().ID, members: ids})
	l.mut.Unlock()
}

func (l *recordingListener) MemberAdded(e Event)   { l.record(e) }
func (l *recordingListener) MemberRemoved(e Event) { l.record(e) }

func (l *recordingListener) getEvents() []recordedEvent {
	l.mut.Lock()
	defer l.mut.Unlock()

	return l.events
}

func TestContext_AddMember_NotifiesBeforeAppend(t *testing.T) {
	ctx := NewContext(log.NewNopLogger())
	listener := &recordingListener{ctx: ctx}
	ctx.AddListener(listener)

	require.True(t, ctx.AddMember(Member{ID: "node1"}))
	require.True(t, ctx.AddMember(Member{ID: "node2"}))

	events := listener.getEvents()
	require.Len(t, events, 2)

	assert.Equal(t, EventMemberAdded, events[0].typ)
	assert.Equal(t, ID("node1"), events[0].id)
	assert.Empty(t, events[0].members)

	assert.Equal(t, ID("node2"), events[1].id)
	assert.Equal(t, []ID{"node1"}, events[1].members)

	members := ctx.Members()
	require.Len(t, members, 2)
	assert.Equal(t, ID("node1"), members[0].ID)
	assert.Equal(t, ID("node2"), members[1].ID)
}

func TestContext_AddMember_AlreadyKnown(t *testing.T) {
	ctx := NewContext(nil)
	listener := &recordingListener{ctx: ctx}
	ctx.AddListener(listener)

	require.True(t, ctx.AddMember(Member{ID: "node1", HostName: "10.0.0.1"}))
	require.False(t, ctx.AddMember(Member{ID: "node1", HostName: "10.0.0.2"}))

	assert.Len(t, listener.getEvents(), 1)
	assert.Len(t, ctx.Members(), 1)
}

func TestContext_JoinThenLeave_ListenerOrdering(t *testing.T) {
	ctx := NewContext(nil)
	listener := &recordingListener{ctx: ctx}
	ctx.AddListener(listener)

	ctx.AddMember(Member{ID: "node1"})
	require.True(t, ctx.RemoveMember(Member{ID: "node1"}))

	events := listener.getEvents()
	require.Len(t, events, 2)

	assert.Equal(t, EventMemberAdded, events[0].typ)
	assert.Empty(t, events[0].members)

	// The removal callback must still see the member in the list.
	assert.Equal(t, EventMemberRemoved, events[1].typ)
	assert.Equal(t, []ID{"node1"}, events[1].members)

	assert.Empty(t, ctx.Members())
}

func TestContext_RemoveMember_Unknown(t *testing.T) {
	ctx := NewContext(nil)
	listener := &recordingListener{ctx: ctx}
	ctx.AddListener(listener)

	assert.False(t, ctx.RemoveMember(Member{ID: "node1"}))
	assert.Empty(t, listener.getEvents())
}

func TestContext_RemoveListener(t *testing.T) {
	ctx := NewContext(nil)
	first := &recordingListener{ctx: ctx}
	second := &recordingListener{ctx: ctx}

	ctx.AddListener(first)
	ctx.AddListener(second)
	ctx.RemoveListener(first)

	ctx.AddMember(Member{ID: "node1"})

	assert.Empty(t, first.getEvents())
	assert.Len(t, second.getEvents(), 1)
}

func TestContext_Members_Snapshot(t *testing.T) {
	ctx := NewContext(nil)
	ctx.AddMember(Member{ID: "node1", Properties: map[string]string{"subDomain": "worker"}})

	members := ctx.Members()
	members[0].HostName = "changed"
	members[0].Properties["subDomain"] = "mgt"

	m, ok := ctx.Member("node1")
	require.True(t, ok)
	assert.Empty(t, m.HostName)
	assert.Equal(t, "worker", m.Properties["subDomain"])
}

func TestContext_ConcurrentEvents(t *testing.T) {
	ctx := NewContext(nil)
	listener := &recordingListener{ctx: ctx}
	ctx.AddListener(listener)

	wg := sync.WaitGroup{}
	for i := 0; i < 50; i++ {
		wg.Add(1)

		go func(id ID) {
			defer wg.Done()
			ctx.AddMember(Member{ID: id})
		}(ID(fmt.Sprintf("node%d", i)))
	}

	wg.Wait()

	events := listener.getEvents()
	require.Len(t, events, 50)

	// Every listener call sees exactly the members added by the previous calls.
	for i, e := range events {
		assert.Len(t, e.members, i)
	}
}

func TestContext_UpdateMember(t *testing.T) {
	ctx := NewContext(nil)
	listener := &recordingListener{ctx: ctx}
	ctx.AddListener(listener)

	ctx.AddMember(Member{ID: "node1", Port: 4000})
	ctx.AddMember(Member{ID: "node2", Port: 4000})

	until := time.Now().Add(time.Minute)
	require.NoError(t, ctx.Suspend("node1", until))
	require.NoError(t, ctx.UpdateMember(Member{ID: "node1", Port: 5000}))

	members := ctx.Members()
	assert.Equal(t, ID("node1"), members[0].ID)
	assert.Equal(t, 5000, members[0].Port)
	assert.True(t, members[0].IsSuspended(time.Now()))
	assert.Len(t, listener.getEvents(), 2)

	err := ctx.UpdateMember(Member{ID: "node3"})
	assert.ErrorIs(t, err, ErrMemberNotFound)
}

func TestContext_Suspend_NotFound(t *testing.T) {
	ctx := NewContext(nil)
	err := ctx.Suspend("node1", time.Now())
	assert.ErrorIs(t, err, ErrMemberNotFound)
}
