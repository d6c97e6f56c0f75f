package scheme

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/maxpoletaev/clusteragent/clustering"
	"github.com/maxpoletaev/clusteragent/internal/retry"
	"github.com/maxpoletaev/clusteragent/internal/retry/backoff"
	"github.com/maxpoletaev/clusteragent/membership"
	"github.com/maxpoletaev/clusteragent/substrate"
)

const deregisterTimeout = 5 * time.Second

// PeerProvider lists the addresses of the candidate peers, such as the instances
// returned by a cloud API or a service registry.
type PeerProvider interface {
	Peers(ctx context.Context) ([]string, error)
}

// Registrar publishes the local node to the discovery service, so that the
// nodes started later can find it.
type Registrar interface {
	Register(ctx context.Context, id, addr string) error
	Deregister(ctx context.Context, id string) error
}

// CloudDiscovery joins the peers listed by a PeerProvider. It is used where
// multicast is not available. The provider is polled in the background to
// join the peers that appear later.
type CloudDiscovery struct {
	sub       substrate.Substrate
	logger    log.Logger
	provider  PeerProvider
	registrar Registrar
	attempts  uint
	backoff   backoff.Strategy
	refresh   time.Duration
	local     *membership.Member
	cluster   *clustering.Cluster

	registered bool
	stop       chan struct{}
	closeOnce  sync.Once
	wg         sync.WaitGroup
}

var _ clustering.MembershipScheme = (*CloudDiscovery)(nil)

func NewCloudDiscovery(opts Options) *CloudDiscovery {
	return &CloudDiscovery{
		sub:       opts.Substrate,
		logger:    opts.Logger,
		provider:  opts.Provider,
		registrar: opts.Registrar,
		attempts:  opts.JoinAttempts,
		backoff:   opts.JoinBackoff,
		refresh:   opts.RefreshInterval,
		stop:      make(chan struct{}),
	}
}

func (s *CloudDiscovery) SetLocalMember(m *membership.Member) {
	s.local = m
}

func (s *CloudDiscovery) SetCluster(c *clustering.Cluster) {
	s.cluster = c
}

func (s *CloudDiscovery) Init() error {
	if s.provider == nil {
		return fmt.Errorf("%w: peer provider is required", ErrInvalidConfig)
	}

	if s.attempts == 0 {
		s.attempts = 1
	}

	return nil
}

func (s *CloudDiscovery) localAddr() string {
	return s.sub.LocalPeer().Addr()
}

// remotePeers asks the provider for the peers, excluding the local node and the
// members already known.
func (s *CloudDiscovery) remotePeers(ctx context.Context) ([]string, error) {
	peers, err := s.provider.Peers(ctx)
	if err != nil {
		return nil, err
	}

	exclude := knownAddrs(s.cluster)
	exclude[s.localAddr()] = true

	if s.local != nil {
		exclude[memberAddr(s.local)] = true
	}

	return excludeAddrs(peers, exclude), nil
}

// JoinGroup registers the node, lists the peers and joins them. Both the listing
// and the join are retried with backoff. When the provider returns no peers, the
// node starts a new group.
func (s *CloudDiscovery) JoinGroup(ctx context.Context) error {
	var peers []string

	attempts, err := retry.Retry(ctx, func(ctx context.Context) error {
		var err error

		peers, err = s.remotePeers(ctx)
		if err != nil {
			return fmt.Errorf("failed to list peers: %w", err)
		}

		if _, err = s.sub.Join(ctx, peers); err != nil {
			return err
		}

		return nil
	}, s.backoff, retry.Limit(s.attempts), retry.Notify(func(attempts uint, err error) {
		level.Warn(s.logger).Log("msg", "failed to join the group", "attempt", attempts, "err", err)
	}))

	if err != nil {
		return fmt.Errorf("failed to join the group after %d attempts: %w", attempts, err)
	}

	level.Info(s.logger).Log("msg", "joined the group", "peers", len(peers), "attempts", attempts)

	if s.registrar != nil {
		peer := s.sub.LocalPeer()

		if err := s.registrar.Register(ctx, peer.ID, peer.Addr()); err != nil {
			return fmt.Errorf("failed to register the node: %w", err)
		}

		s.registered = true
	}

	if s.refresh > 0 {
		s.wg.Add(1)
		go s.refreshLoop()
	}

	return nil
}

func (s *CloudDiscovery) refreshLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.joinNewPeers()
		case <-s.stop:
			return
		}
	}
}

func (s *CloudDiscovery) joinNewPeers() {
	ctx, cancel := context.WithTimeout(context.Background(), s.refresh)
	defer cancel()

	peers, err := s.remotePeers(ctx)
	if err != nil {
		level.Warn(s.logger).Log("msg", "failed to list peers", "err", err)
		return
	}

	if len(peers) == 0 {
		return
	}

	if _, err := s.sub.Join(ctx, peers); err != nil {
		level.Warn(s.logger).Log("msg", "failed to join new peers", "peers", len(peers), "err", err)
		return
	}

	level.Debug(s.logger).Log("msg", "joined new peers", "peers", len(peers))
}

// Close stops the refresh and removes the node from the discovery service.
func (s *CloudDiscovery) Close() error {
	var err error

	s.closeOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()

		if s.registered {
			ctx, cancel := context.WithTimeout(context.Background(), deregisterTimeout)
			defer cancel()

			err = s.registrar.Deregister(ctx, s.sub.LocalPeer().ID)
		}
	})

	return err
}
