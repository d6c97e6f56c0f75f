// Package gossip implements the group substrate on top of hashicorp/memberlist.
// Membership is maintained by the SWIM protocol, messages are sent over the
// reliable (TCP) channel to every live member.
package gossip

import (
	"context"
	"errors"
	"fmt"
	stdlog "log"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/google/uuid"
	"github.com/hashicorp/memberlist"
	"golang.org/x/exp/maps"

	"github.com/maxpoletaev/clusteragent/internal/multierror"
	"github.com/maxpoletaev/clusteragent/substrate"
)

const defaultLeaveTimeout = 5 * time.Second

type subscribers struct {
	mut  sync.RWMutex
	list []func([]byte)
}

func (s *subscribers) add(fn func([]byte)) {
	s.mut.Lock()
	defer s.mut.Unlock()

	s.list = append(s.list, fn)
}

func (s *subscribers) getSubscribers() []func([]byte) {
	s.mut.RLock()
	defer s.mut.RUnlock()

	return s.list
}

// Transport is a substrate.Substrate backed by memberlist.
type Transport struct {
	name   string
	domain string
	logger log.Logger
	list   *memberlist.Memberlist

	metaMut sync.RWMutex
	meta    map[string]string
	rawMeta []byte

	broadcast subscribers
	direct    subscribers

	handlerMut sync.RWMutex
	handler    substrate.MembershipHandler

	events    chan substrate.PeerEvent
	loopOnce  sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	wg        sync.WaitGroup
}

var _ substrate.Substrate = (*Transport)(nil)

// New creates the memberlist instance and starts listening for the gossip
// traffic. The node does not belong to any group until Join is called.
func New(conf *Config) (*Transport, error) {
	logger := conf.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	name := conf.Name
	if name == "" {
		name = generateName()
	}

	eventBuffer := conf.EventBuffer
	if eventBuffer <= 0 {
		eventBuffer = DefaultConfig().EventBuffer
	}

	t := &Transport{
		name:    name,
		domain:  conf.Domain,
		logger:  log.With(logger, "node", name),
		events:  make(chan substrate.PeerEvent, eventBuffer),
		stop:    make(chan struct{}),
		handler: func(substrate.PeerEvent) {},
	}

	meta := maps.Clone(conf.Meta)
	if meta == nil {
		meta = make(map[string]string)
	}

	meta[substrate.MetaDomain] = conf.Domain

	if err := t.setMeta(meta); err != nil {
		return nil, err
	}

	mlConf, err := t.memberlistConfig(conf)
	if err != nil {
		return nil, err
	}

	list, err := memberlist.Create(mlConf)
	if err != nil {
		return nil, fmt.Errorf("failed to create memberlist: %w", err)
	}

	t.list = list

	return t, nil
}

func (t *Transport) memberlistConfig(conf *Config) (*memberlist.Config, error) {
	var mlConf *memberlist.Config

	switch conf.Profile {
	case ProfileLAN, "":
		mlConf = memberlist.DefaultLANConfig()
	case ProfileWAN:
		mlConf = memberlist.DefaultWANConfig()
	case ProfileLocal:
		mlConf = memberlist.DefaultLocalConfig()
	default:
		return nil, fmt.Errorf("unknown network profile: %s", conf.Profile)
	}

	d := &delegate{t: t}

	mlConf.Name = t.name
	mlConf.BindAddr = conf.BindAddr
	mlConf.BindPort = conf.BindPort
	mlConf.AdvertiseAddr = conf.AdvertiseAddr
	mlConf.AdvertisePort = conf.AdvertisePort
	mlConf.Delegate = d
	mlConf.Events = d
	mlConf.Alive = d
	mlConf.LogOutput = nil
	mlConf.Logger = stdlog.New(log.NewStdlibAdapter(level.Debug(t.logger)), "", 0)

	if mlConf.AdvertisePort == 0 {
		mlConf.AdvertisePort = conf.BindPort
	}

	if len(conf.SecretKey) > 0 {
		mlConf.SecretKey = conf.SecretKey
	}

	return mlConf, nil
}

func generateName() string {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "node"
	}

	return hostname + "-" + uuid.NewString()[:8]
}

func (t *Transport) getMeta() []byte {
	t.metaMut.RLock()
	defer t.metaMut.RUnlock()

	return t.rawMeta
}

func (t *Transport) setMeta(meta map[string]string) error {
	raw, err := encodeMeta(meta)
	if err != nil {
		return fmt.Errorf("failed to encode node meta: %w", err)
	}

	if len(raw) > memberlist.MetaMaxSize {
		return fmt.Errorf("node meta is too large: %d bytes", len(raw))
	}

	t.metaMut.Lock()
	defer t.metaMut.Unlock()

	t.meta = meta
	t.rawMeta = raw

	return nil
}

// UpdateMeta replaces the node metadata and propagates it to the group. The
// domain key can not be changed.
func (t *Transport) UpdateMeta(ctx context.Context, meta map[string]string) error {
	meta = maps.Clone(meta)
	if meta == nil {
		meta = make(map[string]string)
	}

	meta[substrate.MetaDomain] = t.domain

	if err := t.setMeta(meta); err != nil {
		return err
	}

	return t.list.UpdateNode(timeoutFromContext(ctx))
}

// SetActive announces whether the node accepts work. Other nodes receive it
// as a member update.
func (t *Transport) SetActive(ctx context.Context, active bool) error {
	t.metaMut.RLock()
	meta := maps.Clone(t.meta)
	t.metaMut.RUnlock()

	if meta == nil {
		meta = make(map[string]string)
	}

	meta[substrate.MetaActive] = strconv.FormatBool(active)

	return t.UpdateMeta(ctx, meta)
}

func (t *Transport) SetMembershipHandler(h substrate.MembershipHandler) {
	t.handlerMut.Lock()
	defer t.handlerMut.Unlock()

	t.handler = h
}

func (t *Transport) getHandler() substrate.MembershipHandler {
	t.handlerMut.RLock()
	defer t.handlerMut.RUnlock()

	return t.handler
}

func (t *Transport) enqueue(typ substrate.PeerEventType, node *memberlist.Node) {
	if node.Name == t.name {
		return
	}

	event := substrate.PeerEvent{
		Type: typ,
		Peer: t.toPeer(node),
	}

	select {
	case t.events <- event:
	case <-t.stop:
	}
}

// handleEvents runs the membership handler for the queued events one by one,
// so that memberlist is never blocked by a slow handler.
func (t *Transport) handleEvents() {
	defer t.wg.Done()

	for {
		select {
		case event := <-t.events:
			level.Debug(t.logger).Log("msg", "membership event", "type", event.Type, "peer", event.Peer.ID)
			t.getHandler()(event)
		case <-t.stop:
			return
		}
	}
}

func (t *Transport) dispatch(subs []func([]byte), payload []byte) {
	for _, fn := range subs {
		fn(payload)
	}
}

func (t *Transport) toPeer(node *memberlist.Node) substrate.Peer {
	meta, err := decodeMeta(node.Meta)
	if err != nil {
		level.Warn(t.logger).Log("msg", "failed to decode node meta", "peer", node.Name, "err", err)
	}

	return substrate.Peer{
		ID:   node.Name,
		Host: node.Addr.String(),
		Port: int(node.Port),
		Meta: meta,
	}
}

// Join contacts the seeds and waits until at least one of them responds. With
// no seeds the node forms a new group.
func (t *Transport) Join(ctx context.Context, seeds []string) (string, error) {
	t.loopOnce.Do(func() {
		t.wg.Add(1)
		go t.handleEvents()
	})

	if len(seeds) == 0 {
		return t.name, nil
	}

	type result struct {
		n   int
		err error
	}

	done := make(chan result, 1)

	go func() {
		n, err := t.list.Join(seeds)
		done <- result{n: n, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && res.n == 0 {
			return "", fmt.Errorf("failed to join the group: %w", res.err)
		}

		level.Info(t.logger).Log("msg", "joined the group", "contacted", res.n)

		return t.name, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (t *Transport) LocalPeer() substrate.Peer {
	return t.toPeer(t.list.LocalNode())
}

func (t *Transport) Broadcast() substrate.Topic {
	return &broadcastTopic{t: t}
}

func (t *Transport) PointToPoint(memberID string) substrate.Topic {
	return &directTopic{t: t, target: memberID}
}

func (t *Transport) findNode(name string) (*memberlist.Node, bool) {
	for _, node := range t.list.Members() {
		if node.Name == name {
			return node, true
		}
	}

	return nil, false
}

// Leave broadcasts the leave intent and stops the memberlist instance.
func (t *Transport) Leave(ctx context.Context) error {
	var err error

	t.closeOnce.Do(func() {
		if leaveErr := t.list.Leave(timeoutFromContext(ctx)); leaveErr != nil {
			err = fmt.Errorf("failed to leave the group: %w", leaveErr)
		}

		if shutdownErr := t.list.Shutdown(); shutdownErr != nil {
			err = errors.Join(err, shutdownErr)
		}

		close(t.stop)
		t.wg.Wait()
	})

	return err
}

func timeoutFromContext(ctx context.Context) time.Duration {
	if deadline, ok := ctx.Deadline(); ok {
		return time.Until(deadline)
	}

	return defaultLeaveTimeout
}

type broadcastTopic struct {
	t *Transport
}

// Publish sends the message to every live member except the local node. An
// error is returned if any of the sends has failed.
func (b *broadcastTopic) Publish(data []byte) error {
	select {
	case <-b.t.stop:
		return substrate.ErrClosed
	default:
	}

	frame, err := encodeFrame(frameBroadcast, "", data)
	if err != nil {
		return err
	}

	errs := multierror.New[string]()

	for _, node := range b.t.list.Members() {
		if node.Name == b.t.name {
			continue
		}

		if err := b.t.list.SendReliable(node, frame); err != nil {
			errs.Add(node.Name, err)
		}
	}

	return errs.Combined()
}

func (b *broadcastTopic) Subscribe(fn func([]byte)) {
	b.t.broadcast.add(fn)
}

type directTopic struct {
	t      *Transport
	target string
}

func (d *directTopic) Publish(data []byte) error {
	select {
	case <-d.t.stop:
		return substrate.ErrClosed
	default:
	}

	node, ok := d.t.findNode(d.target)
	if !ok {
		return fmt.Errorf("%w: %s", substrate.ErrUnknownMember, d.target)
	}

	frame, err := encodeFrame(frameDirect, d.target, data)
	if err != nil {
		return err
	}

	return d.t.list.SendReliable(node, frame)
}

// Subscribe registers a callback for the messages addressed to the local node.
// Subscriptions for other members are never invoked.
func (d *directTopic) Subscribe(fn func([]byte)) {
	if d.target != d.t.name {
		level.Warn(d.t.logger).Log("msg", "subscribing to a topic of another member", "target", d.target)
		return
	}

	d.t.direct.add(fn)
}
