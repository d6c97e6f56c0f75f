package scheme

import (
	"context"
	"fmt"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/maxpoletaev/clusteragent/clustering"
	"github.com/maxpoletaev/clusteragent/internal/retry"
	"github.com/maxpoletaev/clusteragent/internal/retry/backoff"
	"github.com/maxpoletaev/clusteragent/membership"
	"github.com/maxpoletaev/clusteragent/substrate"
)

// WellKnownAddress joins the group through a static list of seed members.
// The rest of the group is learned from the seeds by the substrate.
type WellKnownAddress struct {
	sub      substrate.Substrate
	logger   log.Logger
	seeds    []string
	attempts uint
	backoff  backoff.Strategy
	local    *membership.Member
	cluster  *clustering.Cluster
}

var _ clustering.MembershipScheme = (*WellKnownAddress)(nil)

func NewWellKnownAddress(opts Options) *WellKnownAddress {
	return &WellKnownAddress{
		sub:      opts.Substrate,
		logger:   opts.Logger,
		seeds:    opts.Seeds,
		attempts: opts.JoinAttempts,
		backoff:  opts.JoinBackoff,
	}
}

func (s *WellKnownAddress) SetLocalMember(m *membership.Member) {
	s.local = m
}

func (s *WellKnownAddress) SetCluster(c *clustering.Cluster) {
	s.cluster = c
}

// Init checks that the seed list is not empty and every seed is a valid
// host:port pair.
func (s *WellKnownAddress) Init() error {
	if len(s.seeds) == 0 {
		return fmt.Errorf("%w: empty seed list", ErrInvalidConfig)
	}

	for _, seed := range s.seeds {
		if err := validateAddr(seed); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidConfig, err)
		}
	}

	if s.attempts == 0 {
		s.attempts = 1
	}

	return nil
}

// JoinGroup contacts the seeds, retrying with backoff until one of them
// responds or the attempts are exhausted. A node whose only seed is itself
// starts a new group.
func (s *WellKnownAddress) JoinGroup(ctx context.Context) error {
	exclude := make(map[string]bool)
	if s.local != nil {
		exclude[memberAddr(s.local)] = true
	}

	exclude[s.sub.LocalPeer().Addr()] = true

	seeds := excludeAddrs(s.seeds, exclude)
	if len(seeds) == 0 {
		level.Info(s.logger).Log("msg", "no remote seeds, starting a new group")

		_, err := s.sub.Join(ctx, nil)

		return err
	}

	attempts, err := retry.Retry(ctx, func(ctx context.Context) error {
		_, err := s.sub.Join(ctx, seeds)
		return err
	}, s.backoff, retry.Limit(s.attempts), retry.Notify(func(attempts uint, err error) {
		level.Warn(s.logger).Log("msg", "failed to join the group", "attempt", attempts, "err", err)
	}))

	if err != nil {
		return fmt.Errorf("failed to join the group after %d attempts: %w", attempts, err)
	}

	level.Info(s.logger).Log("msg", "joined the group", "seeds", len(seeds), "attempts", attempts)

	return nil
}
