package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-kit/log/level"
	"github.com/jessevdk/go-flags"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/maxpoletaev/clusteragent/clustering"
)

const shutdownTimeout = 10 * time.Second

func main() {
	p := flags.NewParser(&opts, flags.Default)

	if _, err := p.Parse(); err != nil {
		if err.(*flags.Error).Type != flags.ErrHelp {
			fmt.Println("cli error:", err)
		}

		os.Exit(2)
	}

	appctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	wg := sync.WaitGroup{}

	logger, closeLogger := setupLogger()
	closeMetrics := setupMetrics(logger)
	healthServer, closeHealthServer := setupHealthServer(&wg, logger)

	// Components must be shut down in a particular order.
	shutdownOrder := []shutdownFunc{
		closeHealthServer,
		closeMetrics,
		closeLogger,
	}

	if opts.Cluster.Disabled {
		level.Info(logger).Log("msg", "clustering is disabled")
		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	} else {
		sub := setupSubstrate(logger)
		s, closeScheme := setupScheme(sub, logger)
		agent, closeAgent := setupAgent(sub, s, logger)

		drain := setupDrain(sub, logger)

		shutdownOrder = append([]shutdownFunc{drain, closeAgent, closeScheme}, shutdownOrder...)

		agent.Cluster().AddMembershipListener(&memberLogger{logger: logger})

		if err := agent.Start(appctx); err != nil {
			level.Error(logger).Log("msg", "failed to start clustering", "err", err)
			os.Exit(1)
		}

		healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

		local := agent.LocalMember()
		hello := &helloMessage{
			Header:   clustering.NewHeader(),
			NodeName: string(local.ID),
			Domain:   local.Domain,
		}

		if err := agent.Cluster().SendMessage(hello); err != nil {
			level.Warn(logger).Log("msg", "failed to broadcast hello", "err", err)
		}
	}

	// Block until we receive a signal to shut down.
	<-appctx.Done()
	level.Info(logger).Log("msg", "received interrupt signal, shutting down")

	ctx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()

	for _, f := range shutdownOrder {
		if err := f(ctx); err != nil {
			level.Error(logger).Log("msg", "failed to shutdown component", "err", err)
		}
	}

	// Wait for all components to finish background tasks.
	wg.Wait()
}
