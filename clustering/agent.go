package clustering

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/robfig/cron/v3"

	"github.com/maxpoletaev/clusteragent/internal/multierror"
	"github.com/maxpoletaev/clusteragent/membership"
	"github.com/maxpoletaev/clusteragent/substrate"
)

type agentState int

const (
	stateNew agentState = iota
	stateStarted
	stateStopped
)

// Stats is a point-in-time view of the agent buffers.
type Stats struct {
	Members    int
	SentBuffer int
	DedupTable int
}

// Agent coordinates the cluster: it forwards the substrate membership changes to
// the Context, broadcasts messages keeping a copy for the late joiners, replays
// the copies to the new members and suppresses duplicate deliveries.
type Agent struct {
	conf      *Config
	logger    log.Logger
	substrate substrate.Substrate
	scheme    MembershipScheme
	registry  *Registry
	members   *membership.Context
	cluster   *Cluster
	replay    *replayListener
	sent      *sentBuffer
	dedup     *dedupTable
	scheduler *cron.Cron

	mut     sync.RWMutex
	state   agentState
	localID membership.ID
	local   membership.Member

	wg   sync.WaitGroup
	stop chan struct{}
}

// NewAgent creates an agent. Nothing happens until Start is called. A nil
// config means DefaultConfig.
func NewAgent(sub substrate.Substrate, scheme MembershipScheme, registry *Registry, conf *Config) *Agent {
	if conf == nil {
		conf = DefaultConfig()
	}

	conf = conf.withDefaults()

	a := &Agent{
		conf:      conf,
		logger:    conf.Logger,
		substrate: sub,
		scheme:    scheme,
		registry:  registry,
		members:   membership.NewContext(conf.Logger),
		sent:      newSentBuffer(),
		dedup:     newDedupTable(conf.DedupShards),
		stop:      make(chan struct{}),
	}

	a.cluster = &Cluster{agent: a}
	a.replay = &replayListener{agent: a}
	a.scheduler = a.newScheduler()

	return a
}

// Cluster returns the facade exposed to the application code.
func (a *Agent) Cluster() *Cluster {
	return a.cluster
}

// Context returns the local view of the cluster membership.
func (a *Agent) Context() *membership.Context {
	return a.members
}

// LocalMember returns the descriptor of the local node.
func (a *Agent) LocalMember() membership.Member {
	a.mut.RLock()
	defer a.mut.RUnlock()

	return a.local.Clone()
}

func (a *Agent) getLocalID() membership.ID {
	a.mut.RLock()
	defer a.mut.RUnlock()

	return a.localID
}

// Start subscribes to the substrate topics, initializes the membership scheme
// and blocks until the node has joined the group. Any failure is reported as
// ErrInitialization and is not retried.
func (a *Agent) Start(ctx context.Context) error {
	a.mut.Lock()

	if a.state != stateNew {
		a.mut.Unlock()
		return ErrAlreadyStarted
	}

	local := memberFromPeer(a.substrate.LocalPeer())
	a.localID = local.ID
	a.local = local
	a.state = stateStarted

	a.mut.Unlock()

	a.members.AddListener(a.replay)
	a.substrate.SetMembershipHandler(a.handlePeerEvent)
	a.substrate.Broadcast().Subscribe(a.receive)
	a.substrate.PointToPoint(string(local.ID)).Subscribe(a.receive)

	a.scheme.SetLocalMember(&local)
	a.scheme.SetCluster(a.cluster)

	if err := a.scheme.Init(); err != nil {
		a.abortStart()
		return fmt.Errorf("%w: %w", ErrInitialization, err)
	}

	if err := a.scheme.JoinGroup(ctx); err != nil {
		a.abortStart()
		return fmt.Errorf("%w: %w", ErrInitialization, err)
	}

	a.scheduler.Start()

	level.Info(a.logger).Log("msg", "joined the cluster", "member_id", local.ID, "domain", local.Domain)

	return nil
}

// abortStart puts the agent into the stopped state after a failed start. The
// substrate topics have no way to unsubscribe, so the callbacks check the state.
func (a *Agent) abortStart() {
	a.mut.Lock()
	a.state = stateStopped
	a.mut.Unlock()

	a.members.RemoveListener(a.replay)
}

func (a *Agent) isStarted() bool {
	a.mut.RLock()
	defer a.mut.RUnlock()

	return a.state == stateStarted
}

// handlePeerEvent forwards the substrate membership changes to the Context.
func (a *Agent) handlePeerEvent(e substrate.PeerEvent) {
	if !a.isStarted() {
		return
	}

	m := memberFromPeer(e.Peer)
	if m.ID == a.getLocalID() {
		return
	}

	switch e.Type {
	case substrate.PeerJoined:
		a.members.AddMember(m)
	case substrate.PeerLeft:
		a.members.RemoveMember(m)
	case substrate.PeerUpdated:
		if err := a.members.UpdateMember(m); err != nil {
			level.Warn(a.logger).Log("msg", "failed to update member", "member_id", m.ID, "err", err)
		}
	}
}

// SendMessage broadcasts the message to all group members. The message is kept
// for replay even if the substrate has refused it.
func (a *Agent) SendMessage(msg Message) error {
	data, err := a.registry.Encode(msg, a.getLocalID())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	if a.sent.Add(msg.ID(), msg.Timestamp(), data) {
		a.dedup.MarkSeen(msg.ID(), a.conf.Now())
	}

	if err := a.substrate.Broadcast().Publish(data); err != nil {
		incrCounter(metricPublishFailed, 1)
		level.Warn(a.logger).Log("msg", "broadcast failed", "msg_id", msg.ID(), "err", err)

		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	incrCounter(metricSent, 1)
	level.Debug(a.logger).Log("msg", "message broadcast", "msg_id", msg.ID(), "kind", msg.Kind())

	return nil
}

// SendMessageTo sends the message to the given members only. The message is not
// kept for replay. Errors are reported per member.
func (a *Agent) SendMessageTo(msg Message, members []membership.Member) error {
	data, err := a.registry.Encode(msg, a.getLocalID())
	if err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	errs := multierror.New[membership.ID]()

	for _, m := range members {
		if err := a.substrate.PointToPoint(string(m.ID)).Publish(data); err != nil {
			incrCounter(metricPublishFailed, 1)
			errs.Add(m.ID, err)

			continue
		}

		incrCounter(metricSent, 1)
	}

	if err := errs.Combined(); err != nil {
		return fmt.Errorf("%w: %w", ErrSendFailed, err)
	}

	return nil
}

// receive handles the messages from both the broadcast and the point-to-point
// topic. The message id is recorded before the message is executed, so a
// failing message is never executed twice.
func (a *Agent) receive(data []byte) {
	if !a.isStarted() {
		return
	}

	msg, err := a.registry.Decode(data)
	if err != nil {
		level.Warn(a.logger).Log("msg", "failed to decode message", "err", err)
		return
	}

	incrCounter(metricReceived, 1)

	if a.sent.Has(msg.ID()) {
		level.Debug(a.logger).Log("msg", "ignoring own message", "msg_id", msg.ID())
		return
	}

	if !a.dedup.MarkSeen(msg.ID(), a.conf.Now()) {
		incrCounter(metricDuplicate, 1)
		level.Debug(a.logger).Log("msg", "duplicate message suppressed", "msg_id", msg.ID(), "sender", msg.Sender())

		return
	}

	a.execute(msg)
}

func (a *Agent) execute(msg Message) {
	logger := log.With(a.logger, "msg_id", msg.ID(), "kind", msg.Kind(), "sender", msg.Sender())

	defer func() {
		if r := recover(); r != nil {
			incrCounter(metricExecuteFailed, 1)
			level.Error(logger).Log("msg", "message execution panicked", "panic", r)
		}
	}()

	if err := msg.Execute(); err != nil {
		incrCounter(metricExecuteFailed, 1)
		level.Error(logger).Log("msg", "message execution failed", "err", err)

		return
	}

	incrCounter(metricExecuted, 1)
	level.Debug(logger).Log("msg", "message executed")
}

// replayTo republishes the buffered messages to the member in the order they
// were sent. It runs in the background since membership callbacks may be
// invoked while the substrate holds its own locks.
func (a *Agent) replayTo(id membership.ID) {
	entries := a.sent.Snapshot()
	if len(entries) == 0 {
		return
	}

	a.mut.RLock()
	defer a.mut.RUnlock()

	if a.state != stateStarted {
		return
	}

	a.wg.Add(1)

	go func() {
		defer a.wg.Done()

		topic := a.substrate.PointToPoint(string(id))
		replayed := 0

		for _, entry := range entries {
			select {
			case <-a.stop:
				return
			default:
			}

			if err := topic.Publish(entry.data); err != nil {
				level.Warn(a.logger).Log("msg", "replay failed", "member_id", id, "msg_id", entry.id, "err", err)
				continue
			}

			replayed++
		}

		incrCounter(metricReplayed, replayed)
		level.Debug(a.logger).Log("msg", "messages replayed", "member_id", id, "count", replayed)
	}()
}

// Wait blocks until the ongoing replays are finished.
func (a *Agent) Wait() {
	a.wg.Wait()
}

// Stats returns the current sizes of the member list and the buffers.
func (a *Agent) Stats() Stats {
	return Stats{
		Members:    len(a.members.Members()),
		SentBuffer: a.sent.Len(),
		DedupTable: a.dedup.Len(),
	}
}

// Shutdown stops the cleanup task and the replays, closes the membership
// scheme and leaves the group.
func (a *Agent) Shutdown(ctx context.Context) error {
	a.mut.Lock()

	if a.state != stateStarted {
		a.mut.Unlock()
		return ErrNotStarted
	}

	a.state = stateStopped
	close(a.stop)

	a.mut.Unlock()

	select {
	case <-a.scheduler.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	a.wg.Wait()
	a.members.RemoveListener(a.replay)

	var err error

	if closer, ok := a.scheme.(io.Closer); ok {
		if closeErr := closer.Close(); closeErr != nil {
			err = fmt.Errorf("failed to close membership scheme: %w", closeErr)
		}
	}

	if leaveErr := a.substrate.Leave(ctx); leaveErr != nil {
		err = errors.Join(err, leaveErr)
	}

	level.Info(a.logger).Log("msg", "left the cluster")

	return err
}

// replayListener replays the sent messages to every new member.
type replayListener struct {
	agent *Agent
}

func (l *replayListener) MemberAdded(e membership.Event) {
	l.agent.replayTo(e.Member().ID)
}

func (l *replayListener) MemberRemoved(membership.Event) {}
