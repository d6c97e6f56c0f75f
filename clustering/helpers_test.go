package clustering

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/require"

	"github.com/maxpoletaev/clusteragent/membership"
	"github.com/maxpoletaev/clusteragent/substrate"
	"github.com/maxpoletaev/clusteragent/substrate/inmem"
)

const testKind = "test"

type recorder struct {
	mut      sync.Mutex
	executed map[string]int
}

func newRecorder() *recorder {
	return &recorder{executed: make(map[string]int)}
}

func (r *recorder) record(payload string) {
	r.mut.Lock()
	defer r.mut.Unlock()

	r.executed[payload]++
}

func (r *recorder) get() map[string]int {
	r.mut.Lock()
	defer r.mut.Unlock()

	res := make(map[string]int, len(r.executed))
	for k, v := range r.executed {
		res[k] = v
	}

	return res
}

type testMessage struct {
	Header
	Payload string
	Fail    string

	rec *recorder
}

func newTestMessage(payload string) *testMessage {
	return &testMessage{
		Header:  NewHeader(),
		Payload: payload,
	}
}

func (m *testMessage) Kind() string {
	return testKind
}

func (m *testMessage) Execute() error {
	if m.rec != nil {
		m.rec.record(m.Payload)
	}

	switch m.Fail {
	case "error":
		return errors.New("execution failed")
	case "panic":
		panic("execution panicked")
	}

	return nil
}

func newTestRegistry(rec *recorder) *Registry {
	r := NewRegistry()
	r.Register(testKind, func() Message {
		return &testMessage{rec: rec}
	})

	return r
}

// joinScheme joins the substrate with a fixed seed list.
type joinScheme struct {
	sub   substrate.Substrate
	seeds []string
}

func (s *joinScheme) Init() error {
	return nil
}

func (s *joinScheme) JoinGroup(ctx context.Context) error {
	_, err := s.sub.Join(ctx, s.seeds)
	return err
}

func (s *joinScheme) SetLocalMember(*membership.Member) {}

func (s *joinScheme) SetCluster(*Cluster) {}

type fakeClock struct {
	mut sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mut.Lock()
	defer c.mut.Unlock()

	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mut.Lock()
	defer c.mut.Unlock()

	c.now = c.now.Add(d)
}

type testNode struct {
	agent *Agent
	node  *inmem.Node
	rec   *recorder
}

func testPeer(id string) substrate.Peer {
	return substrate.Peer{
		ID:   id,
		Host: id,
		Port: 7946,
		Meta: substrate.NewMeta("test", 8080, 0, map[string]string{"subDomain": "worker"}),
	}
}

func newTestNode(t *testing.T, hub *inmem.Hub, id string, conf *Config, seeds ...string) *testNode {
	if conf == nil {
		conf = DefaultConfig()
	}

	conf.Logger = log.NewNopLogger()

	node := hub.NewNode(testPeer(id))
	rec := newRecorder()
	agent := NewAgent(node, &joinScheme{sub: node, seeds: seeds}, newTestRegistry(rec), conf)

	return &testNode{agent: agent, node: node, rec: rec}
}

func startTestNode(t *testing.T, hub *inmem.Hub, id string, seeds ...string) *testNode {
	n := newTestNode(t, hub, id, nil, seeds...)
	require.NoError(t, n.agent.Start(context.Background()))

	t.Cleanup(func() {
		_ = n.agent.Shutdown(context.Background())
	})

	return n
}
