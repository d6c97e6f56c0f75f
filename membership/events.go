package membership

// EventType tells whether a member has joined or left the cluster.
type EventType int

const (
	EventMemberAdded EventType = iota + 1
	EventMemberRemoved
)

func (t EventType) String() string {
	switch t {
	case EventMemberAdded:
		return "added"
	case EventMemberRemoved:
		return "removed"
	default:
		return ""
	}
}

// Event is an immutable notification about a membership change.
type Event struct {
	member Member
	typ    EventType
}

// NewEvent creates a new membership event for the given member.
func NewEvent(m Member, typ EventType) Event {
	return Event{member: m.Clone(), typ: typ}
}

// Member returns a copy of the affected member.
func (e Event) Member() Member {
	return e.member.Clone()
}

// Type returns the kind of the change.
func (e Event) Type() EventType {
	return e.typ
}

// Listener is notified about membership changes. The methods are never called
// concurrently for the same Context. Implementations must be comparable (e.g.
// pointers), so that they can be unregistered later.
type Listener interface {
	MemberAdded(Event)
	MemberRemoved(Event)
}
