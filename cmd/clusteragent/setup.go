package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/armon/go-metrics"
	kitlog "github.com/go-kit/log"
	"github.com/go-kit/log/level"
	clientv3 "go.etcd.io/etcd/client/v3"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/maxpoletaev/clusteragent/clustering"
	"github.com/maxpoletaev/clusteragent/discovery/etcd"
	"github.com/maxpoletaev/clusteragent/scheme"
	"github.com/maxpoletaev/clusteragent/substrate"
	"github.com/maxpoletaev/clusteragent/substrate/gossip"
)

type shutdownFunc func(ctx context.Context) error

var noopShutdown = func(ctx context.Context) error { return nil }

func setupLogger() (kitlog.Logger, shutdownFunc) {
	logger := kitlog.NewLogfmtLogger(kitlog.NewSyncWriter(os.Stderr))
	logger = kitlog.With(logger, "ts", kitlog.DefaultTimestampUTC)

	if !opts.Verbose {
		logger = level.NewFilter(logger, level.AllowInfo())
	}

	return logger, noopShutdown
}

// setupMetrics collects the metrics in memory. The current values are dumped
// to stderr on SIGUSR1.
func setupMetrics(logger kitlog.Logger) shutdownFunc {
	sink := metrics.NewInmemSink(10*time.Second, time.Minute)
	signal := metrics.DefaultInmemSignal(sink)

	conf := metrics.DefaultConfig("clusteragent")
	conf.EnableHostname = false

	if _, err := metrics.NewGlobal(conf, sink); err != nil {
		level.Warn(logger).Log("msg", "failed to setup metrics", "err", err)
	}

	return func(ctx context.Context) error {
		signal.Stop()
		return nil
	}
}

func setupHealthServer(wg *sync.WaitGroup, logger kitlog.Logger) (*health.Server, shutdownFunc) {
	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	if opts.Health.BindAddr == "" {
		return healthServer, noopShutdown
	}

	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	listener, err := net.Listen("tcp", opts.Health.BindAddr)
	if err != nil {
		panic(fmt.Sprintf("failed to create health listener: %v", err))
	}

	wg.Add(1)

	go func() {
		defer wg.Done()

		if err := grpcServer.Serve(listener); err != nil {
			level.Error(logger).Log("msg", "health server stopped", "err", err)
		}
	}()

	shutdown := func(ctx context.Context) error {
		logger.Log("msg", "shutting down health server")
		healthServer.Shutdown()
		grpcServer.GracefulStop()

		return nil
	}

	return healthServer, shutdown
}

func setupSubstrate(logger kitlog.Logger) *gossip.Transport {
	conf := gossip.DefaultConfig()
	conf.Name = opts.Node.Name
	conf.Domain = opts.Node.Domain
	conf.BindAddr = opts.Cluster.BindAddr
	conf.BindPort = opts.Cluster.BindPort
	conf.AdvertiseAddr = opts.Cluster.AdvertiseAddr
	conf.AdvertisePort = opts.Cluster.AdvertisePort
	conf.Profile = opts.Cluster.Profile
	conf.Meta = substrate.NewMeta(opts.Node.Domain, opts.Node.HTTPPort, opts.Node.HTTPSPort, opts.Node.Properties)
	conf.Logger = kitlog.With(logger, "component", "gossip")

	if opts.Cluster.SecretKey != "" {
		conf.SecretKey = []byte(opts.Cluster.SecretKey)
	}

	transport, err := gossip.New(conf)
	if err != nil {
		panic(fmt.Sprintf("failed to create gossip transport: %v", err))
	}

	return transport
}

// setupDrain returns the shutdown step that marks the node inactive and gives
// the peers some time to stop sending work to it before it leaves.
func setupDrain(transport *gossip.Transport, logger kitlog.Logger) shutdownFunc {
	delay := time.Millisecond * time.Duration(opts.Node.DrainDelay)

	return func(ctx context.Context) error {
		logger.Log("msg", "draining the node", "delay", delay)

		if err := transport.SetActive(ctx, false); err != nil {
			return fmt.Errorf("failed to mark the node inactive: %w", err)
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}

		return nil
	}
}

func setupScheme(sub substrate.Substrate, logger kitlog.Logger) (clustering.MembershipScheme, shutdownFunc) {
	schemeOpts := scheme.DefaultOptions()
	schemeOpts.Substrate = sub
	schemeOpts.Logger = kitlog.With(logger, "component", "scheme", "scheme", opts.Cluster.Scheme)
	schemeOpts.JoinAttempts = opts.Cluster.JoinAttempts

	shutdown := noopShutdown

	switch opts.Cluster.Scheme {
	case scheme.KindWellKnownAddress:
		schemeOpts.Seeds = parseAddrs(opts.WKA.Seeds)

	case scheme.KindMulticast:
		schemeOpts.MulticastGroup = opts.Multicast.Group
		schemeOpts.MulticastPort = opts.Multicast.Port
		schemeOpts.MulticastInterface = opts.Multicast.Interface
		schemeOpts.MulticastTTL = opts.Multicast.TTL
		schemeOpts.DiscoveryWindow = time.Millisecond * time.Duration(opts.Multicast.Window)
		schemeOpts.AnnounceInterval = time.Millisecond * time.Duration(opts.Multicast.Interval)

	case scheme.KindCloudDiscovery:
		client, err := clientv3.New(clientv3.Config{
			Endpoints:   parseAddrs(opts.Etcd.Endpoints),
			DialTimeout: time.Millisecond * time.Duration(opts.Etcd.DialTimeout),
		})
		if err != nil {
			panic(fmt.Sprintf("failed to create etcd client: %v", err))
		}

		conf := etcd.DefaultConfig()
		conf.Prefix = opts.Etcd.Prefix
		conf.Domain = opts.Node.Domain
		conf.TTL = time.Second * time.Duration(opts.Etcd.TTL)
		conf.Logger = kitlog.With(logger, "component", "etcd")

		provider := etcd.New(client, conf)
		schemeOpts.Provider = provider
		schemeOpts.Registrar = provider
		schemeOpts.RefreshInterval = time.Second * time.Duration(opts.Etcd.Refresh)

		shutdown = func(ctx context.Context) error {
			logger.Log("msg", "closing etcd client")
			return client.Close()
		}
	}

	s, err := scheme.New(opts.Cluster.Scheme, schemeOpts)
	if err != nil {
		panic(fmt.Sprintf("failed to create membership scheme: %v", err))
	}

	return s, shutdown
}

func setupAgent(sub substrate.Substrate, s clustering.MembershipScheme, logger kitlog.Logger) (*clustering.Agent, shutdownFunc) {
	conf := clustering.DefaultConfig()
	conf.RetentionWindow = time.Second * time.Duration(opts.Cluster.RetentionWindow)
	conf.CleanupInterval = time.Second * time.Duration(opts.Cluster.CleanupInterval)
	conf.CleanupBatchSize = opts.Cluster.CleanupBatchSize
	conf.Logger = kitlog.With(logger, "component", "clustering")

	agent := clustering.NewAgent(sub, s, newRegistry(logger), conf)

	shutdown := func(ctx context.Context) error {
		logger.Log("msg", "leaving cluster")

		if err := agent.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to leave cluster: %w", err)
		}

		return nil
	}

	return agent, shutdown
}
