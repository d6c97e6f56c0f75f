package membership

import (
	"time"

	"golang.org/x/exp/maps"
)

// ID is an opaque member identifier assigned by the group substrate. It is
// stable for the lifetime of the node's session.
type ID string

func (id ID) String() string {
	return string(id)
}

// Member describes a single cluster node. Two members with the same ID are the
// same node, no matter what the rest of the fields say.
type Member struct {
	// ID is the unique identifier of a cluster node.
	ID ID
	// HostName is the address the node is reachable at.
	HostName string
	// Port is the group communication port.
	Port int
	// HTTPPort and HTTPSPort are the service ports advertised by the node.
	HTTPPort  int
	HTTPSPort int
	// Domain is the name of the cluster domain the node belongs to.
	Domain string
	// Active is false when the node has announced that it does not accept work.
	Active bool
	// Properties are free-form attributes, such as the sub-domain.
	Properties map[string]string
	// SuspendedUntil is set when the node is temporarily excluded from work.
	SuspendedUntil *time.Time
}

// Key returns the value members are hashed by.
func (m *Member) Key() ID {
	return m.ID
}

// Equal reports whether both descriptors refer to the same node.
func (m *Member) Equal(other *Member) bool {
	return other != nil && m.ID == other.ID
}

// Suspend excludes the member from work until the given time.
func (m *Member) Suspend(until time.Time) {
	m.SuspendedUntil = &until
}

// Resume clears the suspension mark.
func (m *Member) Resume() {
	m.SuspendedUntil = nil
}

// IsSuspended returns true if the member is suspended at the given moment.
func (m *Member) IsSuspended(now time.Time) bool {
	return m.SuspendedUntil != nil && now.Before(*m.SuspendedUntil)
}

// IsAvailable returns true if the member is active and not suspended.
func (m *Member) IsAvailable(now time.Time) bool {
	return m.Active && !m.IsSuspended(now)
}

// Property returns the value of a free-form property.
func (m *Member) Property(key string) (string, bool) {
	v, ok := m.Properties[key]
	return v, ok
}

// Clone returns a deep copy of the member, so that the caller can not modify
// the state shared with other goroutines.
func (m Member) Clone() Member {
	if m.Properties != nil {
		m.Properties = maps.Clone(m.Properties)
	}

	if m.SuspendedUntil != nil {
		until := *m.SuspendedUntil
		m.SuspendedUntil = &until
	}

	return m
}
