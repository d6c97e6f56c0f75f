package membership

import (
	"errors"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"golang.org/x/exp/slices"
)

var (
	ErrMemberNotFound = errors.New("member not found")
)

// Context holds the local view of the cluster: the list of known primary members
// in discovery order and the listeners interested in its changes. The local node
// itself is not part of the list.
type Context struct {
	// eventMut serializes membership changes, so that listeners observe them in
	// the order they were reported. It is held while the listeners are running.
	eventMut sync.Mutex

	mut       sync.RWMutex
	members   []Member
	listeners []Listener
	logger    log.Logger
}

func NewContext(logger log.Logger) *Context {
	if logger == nil {
		logger = log.NewNopLogger()
	}

	return &Context{
		logger: logger,
	}
}

// Members returns a snapshot of the known cluster members.
func (c *Context) Members() []Member {
	c.mut.RLock()
	defer c.mut.RUnlock()

	members := make([]Member, len(c.members))
	for i := range c.members {
		members[i] = c.members[i].Clone()
	}

	return members
}

// Member returns the member with the given id.
func (c *Context) Member(id ID) (Member, bool) {
	c.mut.RLock()
	defer c.mut.RUnlock()

	if i := c.indexOf(id); i >= 0 {
		return c.members[i].Clone(), true
	}

	return Member{}, false
}

// HasMember returns true if the member with the given id is known.
func (c *Context) HasMember(id ID) bool {
	c.mut.RLock()
	defer c.mut.RUnlock()

	return c.indexOf(id) >= 0
}

func (c *Context) indexOf(id ID) int {
	return slices.IndexFunc(c.members, func(m Member) bool {
		return m.ID == id
	})
}

// AddListener registers a listener for membership events.
func (c *Context) AddListener(l Listener) {
	c.mut.Lock()
	defer c.mut.Unlock()

	c.listeners = append(c.listeners, l)
}

// RemoveListener unregisters the listener. Unknown listeners are ignored.
func (c *Context) RemoveListener(l Listener) {
	c.mut.Lock()
	defer c.mut.Unlock()

	if i := slices.Index(c.listeners, l); i >= 0 {
		c.listeners = slices.Delete(slices.Clone(c.listeners), i, i+1)
	}
}

func (c *Context) getListeners() []Listener {
	c.mut.RLock()
	defer c.mut.RUnlock()

	return c.listeners
}

// AddMember notifies the listeners about a new member and then appends it to the
// member list. The listeners can still see the previous list while running.
// Adding an already known member does nothing.
func (c *Context) AddMember(m Member) bool {
	c.eventMut.Lock()
	defer c.eventMut.Unlock()

	if c.HasMember(m.ID) {
		level.Debug(c.logger).Log("msg", "member is already known", "member_id", m.ID)
		return false
	}

	event := NewEvent(m, EventMemberAdded)
	for _, l := range c.getListeners() {
		l.MemberAdded(event)
	}

	c.mut.Lock()
	c.members = append(c.members, m.Clone())
	c.mut.Unlock()

	level.Info(c.logger).Log("msg", "member added", "member_id", m.ID, "host", m.HostName, "port", m.Port)

	return true
}

// RemoveMember notifies the listeners that the member is leaving and removes it
// from the member list once all of them have returned. Removing an unknown member
// does nothing.
func (c *Context) RemoveMember(m Member) bool {
	c.eventMut.Lock()
	defer c.eventMut.Unlock()

	current, ok := c.Member(m.ID)
	if !ok {
		level.Debug(c.logger).Log("msg", "member is not known", "member_id", m.ID)
		return false
	}

	event := NewEvent(current, EventMemberRemoved)
	for _, l := range c.getListeners() {
		l.MemberRemoved(event)
	}

	c.mut.Lock()
	if i := c.indexOf(m.ID); i >= 0 {
		c.members = slices.Delete(c.members, i, i+1)
	}
	c.mut.Unlock()

	level.Info(c.logger).Log("msg", "member removed", "member_id", m.ID)

	return true
}

// UpdateMember replaces the descriptor of a known member, keeping its position in
// the list and its suspension mark. No listeners are notified.
func (c *Context) UpdateMember(m Member) error {
	c.eventMut.Lock()
	defer c.eventMut.Unlock()

	c.mut.Lock()
	defer c.mut.Unlock()

	i := c.indexOf(m.ID)
	if i < 0 {
		return ErrMemberNotFound
	}

	updated := m.Clone()
	if updated.SuspendedUntil == nil {
		updated.SuspendedUntil = c.members[i].SuspendedUntil
	}

	c.members[i] = updated

	return nil
}

// Suspend marks the member as suspended until the given time.
func (c *Context) Suspend(id ID, until time.Time) error {
	c.mut.Lock()
	defer c.mut.Unlock()

	i := c.indexOf(id)
	if i < 0 {
		return ErrMemberNotFound
	}

	c.members[i].Suspend(until)

	level.Info(c.logger).Log("msg", "member suspended", "member_id", id, "until", until)

	return nil
}
