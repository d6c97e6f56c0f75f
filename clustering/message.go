package clustering

import (
	"time"

	"github.com/google/uuid"

	"github.com/maxpoletaev/clusteragent/membership"
)

// Message is a unit of cluster-wide work. It is broadcast to all group members
// and executed on each of them. Implementations embed Header and are registered
// in the Registry under the name returned by Kind.
type Message interface {
	// ID returns the unique identifier assigned at construction. Messages are
	// deduplicated by it.
	ID() uuid.UUID

	// Timestamp returns the creation time. It is used for eviction only and
	// says nothing about the delivery order.
	Timestamp() time.Time

	// Sender returns the id of the member the message was received from. It is
	// empty for the messages created locally.
	Sender() membership.ID

	// Kind returns the name the message type is registered with.
	Kind() string

	// Execute runs the message on the receiving node. It is called at most once
	// per message id within the retention window, but is not required to be
	// idempotent beyond that.
	Execute() error

	header() *Header
}

// Header carries the identity of a message. It must be embedded into every
// Message implementation and initialized with NewHeader.
type Header struct {
	id        uuid.UUID
	createdAt time.Time
	sender    membership.ID
}

// NewHeader creates a header with a random id and the current time.
func NewHeader() Header {
	return Header{
		id:        uuid.New(),
		createdAt: time.Now(),
	}
}

func (h *Header) ID() uuid.UUID {
	return h.id
}

func (h *Header) Timestamp() time.Time {
	return h.createdAt
}

func (h *Header) Sender() membership.ID {
	return h.sender
}

func (h *Header) header() *Header {
	return h
}
