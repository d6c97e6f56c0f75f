package scheme

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/hashicorp/go-msgpack/codec"
	"golang.org/x/exp/maps"
	"golang.org/x/net/ipv4"

	"github.com/maxpoletaev/clusteragent/clustering"
	"github.com/maxpoletaev/clusteragent/membership"
	"github.com/maxpoletaev/clusteragent/substrate"
)

const maxAnnouncementSize = 1024

// announcement is the datagram a node periodically sends to the multicast group.
type announcement struct {
	Domain string
	ID     string
	Addr   string
}

func encodeAnnouncement(a *announcement) ([]byte, error) {
	var buf bytes.Buffer

	if err := codec.NewEncoder(&buf, &codec.MsgpackHandle{}).Encode(a); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func decodeAnnouncement(b []byte) (*announcement, error) {
	a := &announcement{}

	if err := codec.NewDecoderBytes(b, &codec.MsgpackHandle{}).Decode(a); err != nil {
		return nil, err
	}

	return a, nil
}

// Multicast discovers the peers through the announcements sent to a multicast
// group. It is meant for trusted networks where multicast is available. The node
// keeps announcing itself and joining the newly discovered peers until closed.
type Multicast struct {
	sub       substrate.Substrate
	logger    log.Logger
	groupAddr string
	port      int
	ifaceName string
	ttl       int
	window    time.Duration
	interval  time.Duration
	local     *membership.Member
	cluster   *clustering.Cluster

	group *net.UDPAddr
	iface *net.Interface
	conn  *ipv4.PacketConn

	mut        sync.Mutex
	joined     bool
	discovered map[string]string // id -> addr

	stop      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

var _ clustering.MembershipScheme = (*Multicast)(nil)

func NewMulticast(opts Options) *Multicast {
	return &Multicast{
		sub:        opts.Substrate,
		logger:     opts.Logger,
		groupAddr:  opts.MulticastGroup,
		port:       opts.MulticastPort,
		ifaceName:  opts.MulticastInterface,
		ttl:        opts.MulticastTTL,
		window:     opts.DiscoveryWindow,
		interval:   opts.AnnounceInterval,
		discovered: make(map[string]string),
		stop:       make(chan struct{}),
	}
}

func (s *Multicast) SetLocalMember(m *membership.Member) {
	s.local = m
}

func (s *Multicast) SetCluster(c *clustering.Cluster) {
	s.cluster = c
}

// Init validates the group address, the port and the interface.
func (s *Multicast) Init() error {
	ip := net.ParseIP(s.groupAddr)
	if ip == nil || ip.To4() == nil || !ip.IsMulticast() {
		return fmt.Errorf("%w: %q is not an IPv4 multicast address", ErrInvalidConfig, s.groupAddr)
	}

	if s.port < 1 || s.port > 65535 {
		return fmt.Errorf("%w: invalid multicast port %d", ErrInvalidConfig, s.port)
	}

	if s.window <= 0 || s.interval <= 0 {
		return fmt.Errorf("%w: discovery window and announce interval must be positive", ErrInvalidConfig)
	}

	if s.ifaceName != "" {
		iface, err := net.InterfaceByName(s.ifaceName)
		if err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidConfig, err)
		}

		s.iface = iface
	}

	if s.ttl < 1 {
		s.ttl = 1
	}

	s.group = &net.UDPAddr{IP: ip, Port: s.port}

	return nil
}

func (s *Multicast) localAnnouncement() *announcement {
	peer := s.sub.LocalPeer()

	return &announcement{
		Domain: peer.Meta[substrate.MetaDomain],
		ID:     peer.ID,
		Addr:   peer.Addr(),
	}
}

// JoinGroup starts announcing the local node, listens to the announcements
// during the discovery window and joins the peers found. With no peers found
// the node starts a new group.
func (s *Multicast) JoinGroup(ctx context.Context) error {
	udpConn, err := net.ListenMulticastUDP("udp4", s.iface, s.group)
	if err != nil {
		return fmt.Errorf("failed to listen on multicast group %s: %w", s.group, err)
	}

	s.conn = ipv4.NewPacketConn(udpConn)

	if err := s.conn.SetMulticastLoopback(true); err != nil {
		level.Warn(s.logger).Log("msg", "failed to enable multicast loopback", "err", err)
	}

	if err := s.conn.SetMulticastTTL(s.ttl); err != nil {
		level.Warn(s.logger).Log("msg", "failed to set multicast ttl", "err", err)
	}

	if s.iface != nil {
		if err := s.conn.SetMulticastInterface(s.iface); err != nil {
			s.conn.Close()
			return fmt.Errorf("failed to set multicast interface: %w", err)
		}
	}

	s.wg.Add(2)
	go s.listen()
	go s.announce()

	select {
	case <-time.After(s.window):
	case <-ctx.Done():
		s.Close()
		return ctx.Err()
	}

	s.mut.Lock()
	peers := maps.Values(s.discovered)
	s.joined = true
	s.mut.Unlock()

	if len(peers) == 0 {
		level.Info(s.logger).Log("msg", "no peers discovered, starting a new group")
	}

	if _, err := s.sub.Join(ctx, peers); err != nil {
		s.Close()
		return fmt.Errorf("failed to join the discovered peers: %w", err)
	}

	level.Info(s.logger).Log("msg", "joined the group", "discovered", len(peers))

	return nil
}

func (s *Multicast) announce() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		data, err := encodeAnnouncement(s.localAnnouncement())
		if err != nil {
			level.Error(s.logger).Log("msg", "failed to encode announcement", "err", err)
			return
		}

		if _, err := s.conn.WriteTo(data, nil, s.group); err != nil {
			level.Warn(s.logger).Log("msg", "failed to send announcement", "err", err)
		}

		select {
		case <-ticker.C:
		case <-s.stop:
			return
		}
	}
}

func (s *Multicast) listen() {
	defer s.wg.Done()

	buf := make([]byte, maxAnnouncementSize)

	for {
		n, _, src, err := s.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-s.stop:
				return
			default:
			}

			if errors.Is(err, net.ErrClosed) {
				return
			}

			level.Warn(s.logger).Log("msg", "failed to read announcement", "err", err)

			continue
		}

		a, err := decodeAnnouncement(buf[:n])
		if err != nil {
			level.Debug(s.logger).Log("msg", "ignoring malformed announcement", "from", src, "err", err)
			continue
		}

		s.handleAnnouncement(a)
	}
}

// handleAnnouncement records the peer of the same domain. Once the node is in
// the group, the peers not known to the cluster yet are joined right away.
func (s *Multicast) handleAnnouncement(a *announcement) {
	local := s.localAnnouncement()
	if a.ID == local.ID || a.Domain != local.Domain {
		return
	}

	s.mut.Lock()
	_, seen := s.discovered[a.ID]
	s.discovered[a.ID] = a.Addr
	joined := s.joined
	s.mut.Unlock()

	if !seen {
		level.Debug(s.logger).Log("msg", "peer discovered", "peer", a.ID, "addr", a.Addr)
	}

	if !joined || knownAddrs(s.cluster)[a.Addr] {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	if _, err := s.sub.Join(ctx, []string{a.Addr}); err != nil {
		level.Warn(s.logger).Log("msg", "failed to join the discovered peer", "peer", a.ID, "err", err)
	}
}

// Discovered returns the addresses of the peers seen so far.
func (s *Multicast) Discovered() []string {
	s.mut.Lock()
	defer s.mut.Unlock()

	return maps.Values(s.discovered)
}

// Close stops announcing and listening.
func (s *Multicast) Close() error {
	var err error

	s.closeOnce.Do(func() {
		close(s.stop)

		if s.conn != nil {
			err = s.conn.Close()
		}

		s.wg.Wait()
	})

	return err
}
