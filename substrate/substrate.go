// Package substrate defines the group communication layer the clustering agent
// is built upon: node discovery, a broadcast topic and a point-to-point topic per
// member. The agent only depends on these interfaces.
package substrate

import (
	"context"
	"errors"
)

var (
	ErrUnknownMember = errors.New("unknown member")
	ErrNotJoined     = errors.New("not joined to the group")
	ErrClosed        = errors.New("substrate is closed")
)

// Standard keys of the Peer.Meta map.
const (
	MetaDomain    = "domain"
	MetaHTTPPort  = "http_port"
	MetaHTTPSPort = "https_port"
	MetaActive    = "active"
)

// Peer describes a node as seen by the substrate.
type Peer struct {
	ID   string
	Host string
	Port int
	Meta map[string]string
}

// Addr returns the host:port address the peer can be joined at.
func (p Peer) Addr() string {
	return joinHostPort(p.Host, p.Port)
}

// PeerEventType is the kind of a membership change reported by the substrate.
type PeerEventType int

const (
	PeerJoined PeerEventType = iota + 1
	PeerLeft
	PeerUpdated
)

func (t PeerEventType) String() string {
	switch t {
	case PeerJoined:
		return "joined"
	case PeerLeft:
		return "left"
	case PeerUpdated:
		return "updated"
	default:
		return ""
	}
}

// PeerEvent is a membership change notification.
type PeerEvent struct {
	Type PeerEventType
	Peer Peer
}

// MembershipHandler receives membership changes. Substrates call it from a
// single goroutine, in the order the changes were observed.
type MembershipHandler func(PeerEvent)

// Topic is a publish/subscribe channel. Delivery is at-most-once per publish,
// duplicates and reordering are possible.
type Topic interface {
	// Publish sends the message to the topic subscribers. It does not wait for
	// the message to be processed.
	Publish(data []byte) error

	// Subscribe registers a callback for the messages published to the topic.
	// Callbacks may be invoked concurrently.
	Subscribe(func(data []byte))
}

// Substrate is the group communication layer.
type Substrate interface {
	// Join registers the local node in the group, contacting the given seeds.
	// With no seeds the node forms a group on its own. It blocks until the node
	// is registered and returns the id assigned to the local node.
	Join(ctx context.Context, seeds []string) (string, error)

	// LocalPeer returns the descriptor of the local node.
	LocalPeer() Peer

	// Broadcast returns the topic delivering messages to all group members
	// except the sender.
	Broadcast() Topic

	// PointToPoint returns the topic addressed to a single member.
	PointToPoint(memberID string) Topic

	// SetMembershipHandler sets the callback for membership changes. It must be
	// called before Join.
	SetMembershipHandler(MembershipHandler)

	// Leave notifies the group that the node is leaving and releases the resources.
	Leave(ctx context.Context) error
}
