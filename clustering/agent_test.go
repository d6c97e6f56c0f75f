package clustering

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maxpoletaev/clusteragent/internal/multierror"
	"github.com/maxpoletaev/clusteragent/membership"
	"github.com/maxpoletaev/clusteragent/substrate"
	"github.com/maxpoletaev/clusteragent/substrate/inmem"
)

func TestAgent_ReplayToLateJoiner(t *testing.T) {
	hub := inmem.NewHub()
	node1 := startTestNode(t, hub, "node1")

	for _, payload := range []string{"m1", "m2", "m3"} {
		require.NoError(t, node1.agent.SendMessage(newTestMessage(payload)))
	}

	node2 := startTestNode(t, hub, "node2", "node1:7946")
	node1.agent.Wait()

	assert.Equal(t, map[string]int{"m1": 1, "m2": 1, "m3": 1}, node2.rec.get())
	assert.Empty(t, node1.rec.get())
}

func TestAgent_ReplayAfterBroadcast(t *testing.T) {
	hub := inmem.NewHub()
	node1 := startTestNode(t, hub, "node1")
	node2 := startTestNode(t, hub, "node2", "node1:7946")

	msg := newTestMessage("m1")
	require.NoError(t, node1.agent.SendMessage(msg))
	assert.Equal(t, map[string]int{"m1": 1}, node2.rec.get())

	// The message has already been seen through the broadcast.
	node1.agent.replayTo("node2")
	node1.agent.Wait()

	assert.Equal(t, map[string]int{"m1": 1}, node2.rec.get())

	node3 := startTestNode(t, hub, "node3", "node1:7946")
	node1.agent.Wait()
	node2.agent.Wait()

	assert.Equal(t, map[string]int{"m1": 1}, node3.rec.get())
}

func TestAgent_DuplicateBroadcast(t *testing.T) {
	hub := inmem.NewHub()
	node1 := startTestNode(t, hub, "node1")
	node2 := startTestNode(t, hub, "node2", "node1:7946")

	msg := newTestMessage("m1")
	require.NoError(t, node1.agent.SendMessage(msg))
	require.NoError(t, node1.agent.SendMessage(msg))

	assert.Equal(t, map[string]int{"m1": 1}, node2.rec.get())
	assert.Equal(t, 1, node1.agent.Stats().SentBuffer)
}

func TestAgent_ConcurrentDuplicates(t *testing.T) {
	hub := inmem.NewHub()
	node1 := startTestNode(t, hub, "node1")
	node2 := startTestNode(t, hub, "node2", "node1:7946")

	data, err := node1.agent.registry.Encode(newTestMessage("m1"), "node1")
	require.NoError(t, err)

	done := make(chan struct{})
	for i := 0; i < 20; i++ {
		go func() {
			node2.agent.receive(data)
			done <- struct{}{}
		}()
	}

	for i := 0; i < 20; i++ {
		<-done
	}

	assert.Equal(t, map[string]int{"m1": 1}, node2.rec.get())
}

func TestAgent_IgnoresOwnMessages(t *testing.T) {
	hub := inmem.NewHub()
	node1 := startTestNode(t, hub, "node1")

	msg := newTestMessage("m1")
	require.NoError(t, node1.agent.SendMessage(msg))

	data, err := node1.agent.registry.Encode(msg, "node1")
	require.NoError(t, err)

	node1.agent.receive(data)
	assert.Empty(t, node1.rec.get())
}

func TestAgent_SendMessage_PublishFailure(t *testing.T) {
	hub := inmem.NewHub()
	node1 := startTestNode(t, hub, "node1")

	node1.node.SetPublishError(assert.AnError)

	msg := newTestMessage("m1")
	err := node1.agent.SendMessage(msg)
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.ErrorIs(t, err, assert.AnError)
	assert.True(t, node1.agent.sent.Has(msg.ID()))

	node1.node.SetPublishError(nil)

	node2 := startTestNode(t, hub, "node2", "node1:7946")
	node1.agent.Wait()

	assert.Equal(t, map[string]int{"m1": 1}, node2.rec.get())
}

func TestAgent_SendMessage_UnknownKind(t *testing.T) {
	hub := inmem.NewHub()
	node1 := newTestNode(t, hub, "node1", nil)
	node1.agent.registry = NewRegistry()

	err := node1.agent.SendMessage(newTestMessage("m1"))
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.ErrorIs(t, err, ErrUnknownKind)
	assert.Equal(t, 0, node1.agent.Stats().SentBuffer)
}

func TestAgent_SendMessageTo(t *testing.T) {
	hub := inmem.NewHub()
	node1 := startTestNode(t, hub, "node1")
	node2 := startTestNode(t, hub, "node2", "node1:7946")
	node3 := startTestNode(t, hub, "node3", "node1:7946")

	msg := newTestMessage("m1")
	err := node1.agent.SendMessageTo(msg, []membership.Member{{ID: "node2"}, {ID: "ghost"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSendFailed)
	assert.ErrorIs(t, err, substrate.ErrUnknownMember)

	var merr *multierror.Error[membership.ID]
	require.True(t, errors.As(err, &merr))
	assert.Equal(t, 1, merr.Len())

	_, ok := merr.Get("ghost")
	assert.True(t, ok)

	assert.Equal(t, map[string]int{"m1": 1}, node2.rec.get())
	assert.Empty(t, node3.rec.get())
	assert.False(t, node1.agent.sent.Has(msg.ID()))
}

func TestAgent_ExecuteFailureIsRecorded(t *testing.T) {
	for _, mode := range []string{"error", "panic"} {
		t.Run(mode, func(t *testing.T) {
			hub := inmem.NewHub()
			node1 := startTestNode(t, hub, "node1")
			node2 := startTestNode(t, hub, "node2", "node1:7946")

			msg := newTestMessage("m1")
			msg.Fail = mode

			require.NoError(t, node1.agent.SendMessage(msg))
			require.NoError(t, node1.agent.SendMessage(msg))

			assert.Equal(t, map[string]int{"m1": 1}, node2.rec.get())
			assert.True(t, node2.agent.dedup.Seen(msg.ID()))
		})
	}
}

func TestAgent_MembershipForwarding(t *testing.T) {
	hub := inmem.NewHub()
	node1 := startTestNode(t, hub, "node1")
	node2 := startTestNode(t, hub, "node2", "node1:7946")

	members := node1.agent.Cluster().Members()
	require.Len(t, members, 1)
	assert.Equal(t, membership.ID("node2"), members[0].ID)
	assert.Equal(t, "node2", members[0].HostName)
	assert.Equal(t, 8080, members[0].HTTPPort)
	assert.Equal(t, "test", members[0].Domain)
	assert.True(t, members[0].Active)
	assert.Equal(t, map[string]string{"subDomain": "worker"}, members[0].Properties)

	meta := substrate.NewMeta("test", 8080, 0, nil)
	meta[substrate.MetaActive] = "false"
	node2.node.SetMeta(meta)

	assert.Empty(t, node1.agent.Cluster().ActiveMembers())
	assert.Len(t, node1.agent.Cluster().Members(), 1)

	require.NoError(t, node2.agent.Shutdown(context.Background()))
	assert.Empty(t, node1.agent.Cluster().Members())
}

func TestAgent_Start_InitFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	scheme := NewMockMembershipScheme(ctrl)

	hub := inmem.NewHub()
	node := hub.NewNode(testPeer("node1"))
	agent := NewAgent(node, scheme, NewRegistry(), DefaultConfig())

	scheme.EXPECT().SetLocalMember(gomock.Any()).Do(func(m *membership.Member) {
		assert.Equal(t, membership.ID("node1"), m.ID)
		assert.Equal(t, "test", m.Domain)
	})
	scheme.EXPECT().SetCluster(agent.Cluster())
	scheme.EXPECT().Init().Return(assert.AnError)

	err := agent.Start(context.Background())
	assert.ErrorIs(t, err, ErrInitialization)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestAgent_Start_JoinFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	scheme := NewMockMembershipScheme(ctrl)

	hub := inmem.NewHub()
	node := hub.NewNode(testPeer("node1"))
	agent := NewAgent(node, scheme, NewRegistry(), DefaultConfig())

	gomock.InOrder(
		scheme.EXPECT().SetLocalMember(gomock.Any()),
		scheme.EXPECT().SetCluster(gomock.Any()),
		scheme.EXPECT().Init().Return(nil),
		scheme.EXPECT().JoinGroup(gomock.Any()).Return(assert.AnError),
	)

	err := agent.Start(context.Background())
	assert.ErrorIs(t, err, ErrInitialization)

	err = agent.Start(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyStarted)
}

func TestAgent_Start_FailureStopsAgent(t *testing.T) {
	ctrl := gomock.NewController(t)
	scheme := NewMockMembershipScheme(ctrl)

	hub := inmem.NewHub()
	node := hub.NewNode(testPeer("node1"))
	rec := newRecorder()
	agent := NewAgent(node, scheme, newTestRegistry(rec), DefaultConfig())

	scheme.EXPECT().SetLocalMember(gomock.Any())
	scheme.EXPECT().SetCluster(gomock.Any())
	scheme.EXPECT().Init().Return(nil)
	scheme.EXPECT().JoinGroup(gomock.Any()).Return(assert.AnError)

	require.ErrorIs(t, agent.Start(context.Background()), ErrInitialization)

	data, err := agent.registry.Encode(newTestMessage("m1"), "node2")
	require.NoError(t, err)

	agent.receive(data)
	assert.Empty(t, rec.get())

	agent.handlePeerEvent(substrate.PeerEvent{Type: substrate.PeerJoined, Peer: testPeer("node2")})
	assert.Empty(t, agent.Cluster().Members())

	err = agent.Shutdown(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestAgent_Shutdown_NotStarted(t *testing.T) {
	hub := inmem.NewHub()
	node1 := newTestNode(t, hub, "node1", nil)

	err := node1.agent.Shutdown(context.Background())
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestAgent_Cleanup(t *testing.T) {
	clock := &fakeClock{now: time.Now()}

	conf := DefaultConfig()
	conf.Now = clock.Now

	hub := inmem.NewHub()
	node1 := newTestNode(t, hub, "node1", conf)
	require.NoError(t, node1.agent.Start(context.Background()))

	t.Cleanup(func() {
		_ = node1.agent.Shutdown(context.Background())
	})

	for i := 0; i < 6000; i++ {
		require.NoError(t, node1.agent.SendMessage(newTestMessage("m")))
	}

	// Nothing is old enough yet.
	sent, seen := node1.agent.Cleanup()
	assert.Equal(t, 0, sent)
	assert.Equal(t, 0, seen)

	clock.Advance(6 * time.Minute)

	sent, seen = node1.agent.Cleanup()
	assert.Equal(t, 5000, sent)
	assert.Equal(t, 5000, seen)

	sent, seen = node1.agent.Cleanup()
	assert.Equal(t, 1000, sent)
	assert.Equal(t, 1000, seen)

	stats := node1.agent.Stats()
	assert.Equal(t, 0, stats.SentBuffer)
	assert.Equal(t, 0, stats.DedupTable)
}
