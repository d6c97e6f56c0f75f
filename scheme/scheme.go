// Package scheme implements the strategies a node uses to find its peers and
// join the group: a static list of well-known addresses, multicast
// announcements and a discovery service.
package scheme

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/go-kit/log"

	"github.com/maxpoletaev/clusteragent/clustering"
	"github.com/maxpoletaev/clusteragent/internal/retry/backoff"
	"github.com/maxpoletaev/clusteragent/membership"
	"github.com/maxpoletaev/clusteragent/substrate"
)

const (
	KindWellKnownAddress = "well-known-address"
	KindMulticast        = "multicast"
	KindCloudDiscovery   = "cloud-discovery"
)

var (
	ErrUnknownKind   = errors.New("unknown membership scheme")
	ErrInvalidConfig = errors.New("invalid membership scheme configuration")
)

type Options struct {
	// Substrate is the group the schemes register the node in. Required.
	Substrate substrate.Substrate

	// Logger is a go-kit logger. Silent if not set.
	Logger log.Logger

	// JoinAttempts and JoinBackoff control how many times and how often the
	// node tries to contact its peers before giving up.
	JoinAttempts uint
	JoinBackoff  backoff.Strategy

	// Seeds is the list of host:port addresses of the well-known members.
	Seeds []string

	// MulticastGroup and MulticastPort is where the nodes announce themselves.
	MulticastGroup string
	MulticastPort  int

	// MulticastInterface is the name of the network interface to use. The
	// system default is used if empty.
	MulticastInterface string

	// MulticastTTL limits the number of hops the announcements can pass.
	MulticastTTL int

	// DiscoveryWindow is how long the node listens to the announcements before
	// joining the group.
	DiscoveryWindow time.Duration

	// AnnounceInterval is how often the node repeats its announcement.
	AnnounceInterval time.Duration

	// Provider lists the candidate peers for the cloud discovery scheme.
	Provider PeerProvider

	// Registrar, if set, publishes the local node to the discovery service.
	Registrar Registrar

	// RefreshInterval is how often the provider is asked for new peers after
	// the node has joined. Zero disables the refresh.
	RefreshInterval time.Duration
}

// DefaultOptions returns the options with reasonable default values. The
// substrate and the scheme specific parts still need to be filled in.
func DefaultOptions() Options {
	return Options{
		Logger:           log.NewNopLogger(),
		JoinAttempts:     10,
		JoinBackoff:      backoff.WithJitter(backoff.Capped(backoff.Exponential(500*time.Millisecond, 2), 10*time.Second), 0.1),
		MulticastGroup:   "228.0.0.4",
		MulticastPort:    45564,
		MulticastTTL:     1,
		DiscoveryWindow:  3 * time.Second,
		AnnounceInterval: 5 * time.Second,
		RefreshInterval:  30 * time.Second,
	}
}

// New creates the membership scheme of the given kind.
func New(kind string, opts Options) (clustering.MembershipScheme, error) {
	if opts.Substrate == nil {
		return nil, fmt.Errorf("%w: substrate is required", ErrInvalidConfig)
	}

	if opts.Logger == nil {
		opts.Logger = log.NewNopLogger()
	}

	switch kind {
	case KindWellKnownAddress:
		return NewWellKnownAddress(opts), nil
	case KindMulticast:
		return NewMulticast(opts), nil
	case KindCloudDiscovery:
		return NewCloudDiscovery(opts), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
}

func memberAddr(m *membership.Member) string {
	return net.JoinHostPort(m.HostName, strconv.Itoa(m.Port))
}

// knownAddrs returns the addresses of the members the cluster already knows.
func knownAddrs(c *clustering.Cluster) map[string]bool {
	addrs := make(map[string]bool)
	if c == nil {
		return addrs
	}

	for _, m := range c.Members() {
		m := m
		addrs[memberAddr(&m)] = true
	}

	return addrs
}

// excludeAddrs returns the addresses not present in the exclude set, without
// duplicates.
func excludeAddrs(addrs []string, exclude map[string]bool) []string {
	seen := make(map[string]bool, len(addrs))
	res := make([]string, 0, len(addrs))

	for _, addr := range addrs {
		if exclude[addr] || seen[addr] {
			continue
		}

		seen[addr] = true
		res = append(res, addr)
	}

	return res
}

func validateAddr(addr string) error {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}

	if host == "" {
		return fmt.Errorf("missing host in %q", addr)
	}

	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid port in %q", addr)
	}

	return nil
}
