package gossip

import (
	"fmt"

	"github.com/go-kit/log/level"
	"github.com/hashicorp/memberlist"

	"github.com/maxpoletaev/clusteragent/substrate"
)

// delegate hooks the transport into memberlist. User messages are dispatched to
// the topic subscribers, membership changes are queued for the handler loop.
type delegate struct {
	t *Transport
}

var (
	_ memberlist.Delegate      = (*delegate)(nil)
	_ memberlist.EventDelegate = (*delegate)(nil)
	_ memberlist.AliveDelegate = (*delegate)(nil)
)

func (d *delegate) NodeMeta(limit int) []byte {
	meta := d.t.getMeta()
	if len(meta) > limit {
		level.Error(d.t.logger).Log("msg", "node meta exceeds the limit", "size", len(meta), "limit", limit)
		return nil
	}

	return meta
}

func (d *delegate) NotifyMsg(b []byte) {
	// The buffer is reused by memberlist once the call returns.
	data := make([]byte, len(b))
	copy(data, b)

	kind, target, payload, err := decodeFrame(data)
	if err != nil {
		level.Warn(d.t.logger).Log("msg", "dropping malformed message", "err", err)
		return
	}

	switch kind {
	case frameBroadcast:
		d.t.dispatch(d.t.broadcast.getSubscribers(), payload)
	case frameDirect:
		if target != d.t.name {
			level.Warn(d.t.logger).Log("msg", "dropping message addressed to another node", "target", target)
			return
		}

		d.t.dispatch(d.t.direct.getSubscribers(), payload)
	}
}

func (d *delegate) GetBroadcasts(overhead, limit int) [][]byte {
	return nil
}

func (d *delegate) LocalState(join bool) []byte {
	return nil
}

func (d *delegate) MergeRemoteState(buf []byte, join bool) {}

func (d *delegate) NotifyJoin(node *memberlist.Node) {
	d.t.enqueue(substrate.PeerJoined, node)
}

func (d *delegate) NotifyLeave(node *memberlist.Node) {
	d.t.enqueue(substrate.PeerLeft, node)
}

func (d *delegate) NotifyUpdate(node *memberlist.Node) {
	d.t.enqueue(substrate.PeerUpdated, node)
}

// NotifyAlive refuses the nodes that belong to another domain.
func (d *delegate) NotifyAlive(node *memberlist.Node) error {
	meta, err := decodeMeta(node.Meta)
	if err != nil {
		return fmt.Errorf("failed to decode node meta: %w", err)
	}

	if domain := meta[substrate.MetaDomain]; domain != d.t.domain {
		return fmt.Errorf("node %s belongs to domain %q", node.Name, domain)
	}

	return nil
}
