package clustering

//go:generate mockgen -source=scheme.go -destination=scheme_mock_test.go -package=clustering

import (
	"context"

	"github.com/maxpoletaev/clusteragent/membership"
)

// MembershipScheme discovers the peers of the local node and registers the
// node in the group. It takes no part in message delivery.
type MembershipScheme interface {
	// Init validates the configuration. Errors returned by it are fatal.
	Init() error

	// JoinGroup blocks until the local node is registered in the group.
	JoinGroup(ctx context.Context) error

	// SetLocalMember provides the descriptor of the local node.
	SetLocalMember(m *membership.Member)

	// SetCluster provides the cluster the scheme is working for.
	SetCluster(c *Cluster)
}
