// Package etcd implements peer discovery on top of etcd. Every node keeps its
// gossip address under prefix/<domain>/<id>, attached to a lease that expires
// shortly after the node is gone.
package etcd

import (
	"context"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	clientv3 "go.etcd.io/etcd/client/v3"
)

type kv interface {
	Put(ctx context.Context, key, val string, opts ...clientv3.OpOption) (*clientv3.PutResponse, error)
	Get(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.GetResponse, error)
	Delete(ctx context.Context, key string, opts ...clientv3.OpOption) (*clientv3.DeleteResponse, error)
}

type leaser interface {
	Grant(ctx context.Context, ttl int64) (*clientv3.LeaseGrantResponse, error)
	KeepAlive(ctx context.Context, id clientv3.LeaseID) (<-chan *clientv3.LeaseKeepAliveResponse, error)
	Revoke(ctx context.Context, id clientv3.LeaseID) (*clientv3.LeaseRevokeResponse, error)
}

type Config struct {
	// Prefix is the root of the keys.
	Prefix string

	// Domain separates the groups sharing the same etcd cluster.
	Domain string

	// TTL is how long the registration outlives the node. Rounded to seconds.
	TTL time.Duration

	Logger log.Logger
}

// DefaultConfig creates a Config with reasonable default values.
func DefaultConfig() *Config {
	return &Config{
		Prefix: "/clusteragent",
		TTL:    15 * time.Second,
		Logger: log.NewNopLogger(),
	}
}

// Provider lists and registers the group members in etcd. It implements both
// scheme.PeerProvider and scheme.Registrar.
type Provider struct {
	kv     kv
	lease  leaser
	prefix string
	ttl    int64
	logger log.Logger

	mut     sync.Mutex
	leaseID clientv3.LeaseID
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a provider using the given etcd client.
func New(client *clientv3.Client, conf *Config) *Provider {
	return newProvider(client, client, conf)
}

func newProvider(kv kv, lease leaser, conf *Config) *Provider {
	ttl := int64(conf.TTL / time.Second)
	if ttl < 1 {
		ttl = 1
	}

	logger := conf.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}

	return &Provider{
		kv:     kv,
		lease:  lease,
		prefix: path.Join(conf.Prefix, conf.Domain) + "/",
		ttl:    ttl,
		logger: logger,
	}
}

func (p *Provider) key(id string) string {
	return p.prefix + id
}

// Peers returns the addresses of all registered nodes of the domain.
func (p *Provider) Peers(ctx context.Context) ([]string, error) {
	resp, err := p.kv.Get(ctx, p.prefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list peers: %w", err)
	}

	peers := make([]string, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		peers = append(peers, string(kv.Value))
	}

	return peers, nil
}

// Register stores the node address under a lease and keeps the lease alive
// until Deregister is called.
func (p *Provider) Register(ctx context.Context, id, addr string) error {
	grant, err := p.lease.Grant(ctx, p.ttl)
	if err != nil {
		return fmt.Errorf("failed to grant lease: %w", err)
	}

	if _, err := p.kv.Put(ctx, p.key(id), addr, clientv3.WithLease(grant.ID)); err != nil {
		return fmt.Errorf("failed to register %s: %w", id, err)
	}

	keepAliveCtx, cancel := context.WithCancel(context.Background())

	ch, err := p.lease.KeepAlive(keepAliveCtx, grant.ID)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to keep the lease alive: %w", err)
	}

	p.mut.Lock()
	p.leaseID = grant.ID
	p.cancel = cancel
	p.mut.Unlock()

	p.wg.Add(1)

	go func() {
		defer p.wg.Done()

		for range ch {
		}

		select {
		case <-keepAliveCtx.Done():
		default:
			level.Warn(p.logger).Log("msg", "lease keepalive stopped", "lease", grant.ID)
		}
	}()

	level.Info(p.logger).Log("msg", "registered in etcd", "key", p.key(id), "addr", addr)

	return nil
}

// Deregister stops the keepalive, removes the key and revokes the lease.
func (p *Provider) Deregister(ctx context.Context, id string) error {
	p.mut.Lock()
	cancel := p.cancel
	leaseID := p.leaseID
	p.cancel = nil
	p.mut.Unlock()

	if cancel == nil {
		return nil
	}

	cancel()
	p.wg.Wait()

	if _, err := p.kv.Delete(ctx, p.key(id)); err != nil {
		return fmt.Errorf("failed to deregister %s: %w", id, err)
	}

	if _, err := p.lease.Revoke(ctx, leaseID); err != nil {
		return fmt.Errorf("failed to revoke lease: %w", err)
	}

	return nil
}
