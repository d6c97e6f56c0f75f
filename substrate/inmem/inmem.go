// Package inmem implements an in-process group substrate. All nodes created from
// the same Hub form one group. Messages are delivered synchronously on the
// publisher's goroutine. It is used to run several agents in a single process,
// mostly in tests.
package inmem

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/exp/maps"

	"github.com/maxpoletaev/clusteragent/substrate"
)

// Hub connects the nodes of one group.
type Hub struct {
	mut   sync.RWMutex
	nodes map[string]*Node
}

func NewHub() *Hub {
	return &Hub{
		nodes: make(map[string]*Node),
	}
}

// NewNode creates a node that is not joined yet. The peer id must be unique
// within the hub.
func (h *Hub) NewNode(peer substrate.Peer) *Node {
	if peer.Meta == nil {
		peer.Meta = make(map[string]string)
	}

	return &Node{
		hub:     h,
		peer:    peer,
		direct:  make(map[string][]func([]byte)),
		handler: func(substrate.PeerEvent) {},
	}
}

func (h *Hub) joinedNodes() []*Node {
	h.mut.RLock()
	defer h.mut.RUnlock()

	return maps.Values(h.nodes)
}

func (h *Hub) node(id string) (*Node, bool) {
	h.mut.RLock()
	defer h.mut.RUnlock()

	n, ok := h.nodes[id]

	return n, ok
}

// Node is a group member connected to a Hub. It implements substrate.Substrate.
type Node struct {
	hub *Hub

	mut        sync.RWMutex
	peer       substrate.Peer
	joined     bool
	publishErr error
	broadcast  []func([]byte)
	direct     map[string][]func([]byte)

	eventMut sync.Mutex
	handler  substrate.MembershipHandler
}

var _ substrate.Substrate = (*Node)(nil)

// SetPublishError makes all subsequent publishes from this node fail with the
// given error. Passing nil restores normal delivery.
func (n *Node) SetPublishError(err error) {
	n.mut.Lock()
	defer n.mut.Unlock()

	n.publishErr = err
}

// SetMeta replaces the node metadata and notifies the group about the update.
func (n *Node) SetMeta(meta map[string]string) {
	n.mut.Lock()
	n.peer.Meta = maps.Clone(meta)
	peer := n.peer
	joined := n.joined
	n.mut.Unlock()

	if !joined {
		return
	}

	for _, other := range n.hub.joinedNodes() {
		if other != n {
			other.notify(substrate.PeerUpdated, peer)
		}
	}
}

func (n *Node) SetMembershipHandler(h substrate.MembershipHandler) {
	n.eventMut.Lock()
	defer n.eventMut.Unlock()

	n.handler = h
}

func (n *Node) notify(typ substrate.PeerEventType, peer substrate.Peer) {
	n.eventMut.Lock()
	defer n.eventMut.Unlock()

	peer.Meta = maps.Clone(peer.Meta)
	n.handler(substrate.PeerEvent{Type: typ, Peer: peer})
}

func (n *Node) LocalPeer() substrate.Peer {
	n.mut.RLock()
	defer n.mut.RUnlock()

	peer := n.peer
	peer.Meta = maps.Clone(peer.Meta)

	return peer
}

func (n *Node) isJoined() bool {
	n.mut.RLock()
	defer n.mut.RUnlock()

	return n.joined
}

// Join adds the node to the hub. When seeds are given, at least one of them
// must be the address of an already joined node.
func (n *Node) Join(ctx context.Context, seeds []string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	peer := n.LocalPeer()

	n.hub.mut.Lock()

	if _, ok := n.hub.nodes[peer.ID]; ok {
		n.hub.mut.Unlock()
		return peer.ID, nil
	}

	if len(seeds) > 0 && !n.hub.hasSeed(seeds) {
		n.hub.mut.Unlock()
		return "", fmt.Errorf("none of the seeds is reachable: %v", seeds)
	}

	existing := maps.Values(n.hub.nodes)
	n.hub.nodes[peer.ID] = n
	n.hub.mut.Unlock()

	n.mut.Lock()
	n.joined = true
	n.mut.Unlock()

	for _, other := range existing {
		other.notify(substrate.PeerJoined, peer)
		n.notify(substrate.PeerJoined, other.LocalPeer())
	}

	return peer.ID, nil
}

// hasSeed must be called with the hub lock held.
func (h *Hub) hasSeed(seeds []string) bool {
	for _, node := range h.nodes {
		addr := node.LocalPeer().Addr()

		for _, seed := range seeds {
			if seed == addr {
				return true
			}
		}
	}

	return false
}

// Leave removes the node from the hub and notifies the remaining nodes.
func (n *Node) Leave(ctx context.Context) error {
	peer := n.LocalPeer()

	n.hub.mut.Lock()
	delete(n.hub.nodes, peer.ID)
	remaining := maps.Values(n.hub.nodes)
	n.hub.mut.Unlock()

	n.mut.Lock()
	n.joined = false
	n.mut.Unlock()

	for _, other := range remaining {
		other.notify(substrate.PeerLeft, peer)
	}

	return nil
}

func (n *Node) checkPublish() error {
	n.mut.RLock()
	defer n.mut.RUnlock()

	if n.publishErr != nil {
		return n.publishErr
	}

	if !n.joined {
		return substrate.ErrNotJoined
	}

	return nil
}

func (n *Node) Broadcast() substrate.Topic {
	return &broadcastTopic{node: n}
}

func (n *Node) PointToPoint(memberID string) substrate.Topic {
	return &directTopic{node: n, memberID: memberID}
}

func (n *Node) deliverBroadcast(data []byte) {
	n.mut.RLock()
	subs := n.broadcast
	n.mut.RUnlock()

	for _, cb := range subs {
		cb(clone(data))
	}
}

func (n *Node) deliverDirect(data []byte) {
	n.mut.RLock()
	subs := n.direct[n.peer.ID]
	n.mut.RUnlock()

	for _, cb := range subs {
		cb(clone(data))
	}
}

func clone(data []byte) []byte {
	return append([]byte(nil), data...)
}

type broadcastTopic struct {
	node *Node
}

func (t *broadcastTopic) Publish(data []byte) error {
	if err := t.node.checkPublish(); err != nil {
		return err
	}

	for _, other := range t.node.hub.joinedNodes() {
		if other != t.node {
			other.deliverBroadcast(data)
		}
	}

	return nil
}

func (t *broadcastTopic) Subscribe(cb func([]byte)) {
	t.node.mut.Lock()
	defer t.node.mut.Unlock()

	t.node.broadcast = append(t.node.broadcast, cb)
}

type directTopic struct {
	node     *Node
	memberID string
}

func (t *directTopic) Publish(data []byte) error {
	if err := t.node.checkPublish(); err != nil {
		return err
	}

	target, ok := t.node.hub.node(t.memberID)
	if !ok {
		return fmt.Errorf("%w: %s", substrate.ErrUnknownMember, t.memberID)
	}

	target.deliverDirect(data)

	return nil
}

func (t *directTopic) Subscribe(cb func([]byte)) {
	t.node.mut.Lock()
	defer t.node.mut.Unlock()

	t.node.direct[t.memberID] = append(t.node.direct[t.memberID], cb)
}
