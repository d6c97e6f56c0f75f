package clustering

import (
	"fmt"

	"github.com/maxpoletaev/clusteragent/membership"
)

// Cluster is the API the rest of the application uses to send cluster-wide
// messages and observe the membership. All failures are reported as
// ErrDeliveryFailed.
type Cluster struct {
	agent *Agent
}

// SendMessage broadcasts the message to all members of the group.
func (c *Cluster) SendMessage(msg Message) error {
	if err := c.agent.SendMessage(msg); err != nil {
		return fmt.Errorf("%w: %s", ErrDeliveryFailed, err)
	}

	return nil
}

// SendMessageTo sends the message to the given members.
func (c *Cluster) SendMessageTo(msg Message, members []membership.Member) error {
	if err := c.agent.SendMessageTo(msg, members); err != nil {
		return fmt.Errorf("%w: %s", ErrDeliveryFailed, err)
	}

	return nil
}

// Members returns a snapshot of the remote members in the order they were
// discovered.
func (c *Cluster) Members() []membership.Member {
	return c.agent.members.Members()
}

// ActiveMembers returns the members that are active and not suspended.
func (c *Cluster) ActiveMembers() []membership.Member {
	now := c.agent.conf.Now()
	active := make([]membership.Member, 0)

	for _, m := range c.Members() {
		if m.IsAvailable(now) {
			active = append(active, m)
		}
	}

	return active
}

// LocalMember returns the descriptor of the local node.
func (c *Cluster) LocalMember() membership.Member {
	return c.agent.LocalMember()
}

// AddMembershipListener registers a listener for the membership changes.
func (c *Cluster) AddMembershipListener(l membership.Listener) {
	c.agent.members.AddListener(l)
}

// RemoveMembershipListener unregisters a listener added earlier.
func (c *Cluster) RemoveMembershipListener(l membership.Listener) {
	c.agent.members.RemoveListener(l)
}
