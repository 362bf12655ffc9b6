package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/shardmesh/internal/agent"
	"github.com/dreamware/shardmesh/internal/api"
	"github.com/dreamware/shardmesh/internal/cluster"
	"github.com/dreamware/shardmesh/internal/config"
	"github.com/dreamware/shardmesh/internal/errors"
	"github.com/dreamware/shardmesh/internal/events"
	"github.com/dreamware/shardmesh/internal/health"
	"github.com/dreamware/shardmesh/internal/lock"
	"github.com/dreamware/shardmesh/internal/logging"
	"github.com/dreamware/shardmesh/internal/metrics"
	"github.com/dreamware/shardmesh/internal/migration"
	"github.com/dreamware/shardmesh/internal/mount"
	"github.com/dreamware/shardmesh/internal/nat"
	"github.com/dreamware/shardmesh/internal/placement"
	"github.com/dreamware/shardmesh/internal/registry"
	"github.com/dreamware/shardmesh/internal/remote"
	"github.com/dreamware/shardmesh/internal/resolver"
	"github.com/dreamware/shardmesh/internal/routing"
	"github.com/dreamware/shardmesh/internal/servers"
	"github.com/dreamware/shardmesh/internal/storage"
)

const shutdownTimeout = 5 * time.Second

func newServeCommand() *cobra.Command {
	cfg := config.Default()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestrator and its HTTP API.",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Validate(); err != nil {
				return err
			}
			log, err := logging.New(cfg.LogLevel, cfg.LogDevelopment)
			if err != nil {
				return err
			}

			a, err := newApp(cfg, prometheus.DefaultRegisterer, log)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return a.Run(ctx)
		},
	}
	cfg.Flags(cmd.Flags())
	return cmd
}

// app holds the wired components of a running orchestrator.
type app struct {
	cfg      *config.Config
	log      logr.Logger
	registry *registry.Registry
	bus      *events.Bus
	kafka    *events.KafkaSink
	monitor  *health.Monitor
	handler  *api.Handler
}

func openRegistry(cfg *config.Config) (*registry.Registry, error) {
	var reg *registry.Registry
	if cfg.Registry == "memory" {
		reg = registry.NewMemory()
	} else {
		backend, err := storage.OpenBolt(cfg.Registry, registry.Buckets()...)
		if err != nil {
			return nil, err
		}
		reg = registry.New(backend)
	}

	if cfg.Seed != "" {
		seed, err := registry.LoadSeed(cfg.Seed)
		if err == nil {
			err = reg.Apply(seed)
		}
		if err != nil {
			reg.Close()
			return nil, err
		}
	}
	return reg, nil
}

func newApp(cfg *config.Config, registerer prometheus.Registerer, log logr.Logger) (*app, error) {
	reg, err := openRegistry(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, log: log, registry: reg}

	var sinks []events.Sink
	if cfg.KafkaBrokers != "" {
		a.kafka, err = events.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			reg.Close()
			return nil, err
		}
		sinks = append(sinks, a.kafka)
	}
	a.bus = events.NewBus(log, sinks...)
	metrics.Register(registerer)

	client := remote.NewClient(cfg.RequestTimeout)
	agents := agent.NewClient(remote.NewClient(cfg.ProbeTimeout))
	natCtl := nat.NewController(client, cfg.ProxyPort, log)
	locks := lock.NewManager(nil, a.bus, log)
	res := resolver.New(reg, nil)
	svc := servers.NewService(routing.NewRouter(res, client), reg, agents, a.bus, cfg.BackupTokenTTL, log)

	var status placement.StatusSource
	if cfg.HealthInterval > 0 {
		a.monitor = health.NewMonitor(agents.Probe, cfg.HealthInterval, cfg.ProbeTimeout, cfg.Fanout, log)
		a.monitor.SetOnUnhealthy(a.shardEvent(events.Unhealthy, false))
		a.monitor.SetOnRecovered(a.shardEvent(events.Recovered, true))
		status = a.monitor
	}
	policy, err := placement.ByName(cfg.Placement, status)
	if err != nil {
		reg.Close()
		return nil, err
	}

	orchestrator := migration.NewOrchestrator(migration.Deps{
		Resolver: res,
		Locks:    locks,
		Nat:      natCtl,
		Mounts:   mount.NewController(client, log),
		Hosts:    agents,
		Daemon:   svc,
		IPs:      nat.DNSResolver{Resolver: net.DefaultResolver},
		Policy:   policy,
		Events:   a.bus,
	}, migration.Config{Fanout: cfg.Fanout, VolumeRoot: cfg.VolumeRoot}, log)

	a.handler = api.NewHandler(api.Deps{
		Registry: reg,
		Resolver: res,
		Locks:    locks,
		Migrator: orchestrator,
		Servers:  svc,
		Nat:      natCtl,
		Agents:   agents,
		Health:   a.monitor,
		Events:   a.bus,
	}, cfg.AdminToken, log)
	return a, nil
}

func (a *app) shardEvent(name string, up bool) func(cluster.Shard) {
	return func(shard cluster.Shard) {
		metrics.SetShardUp(shard.Name, up)
		a.bus.Emit(context.Background(), events.ShardTopic(shard.ID, name), shard)
	}
}

// Run serves the API and runs the health monitor until ctx is cancelled.
func (a *app) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.Bind,
		Handler:           a.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	if a.monitor != nil {
		g.Go(func() error {
			a.monitor.Start(ctx, a.registry.Shards)
			return nil
		})
	}
	g.Go(func() error {
		a.log.Info("shardmesh listening", "addr", a.cfg.Bind, "registry", a.cfg.Registry)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err := g.Wait()
	a.log.Info("shardmesh stopped")
	return err
}

func (a *app) Close() error {
	if a.kafka != nil {
		if err := a.kafka.Close(); err != nil {
			a.log.Error(err, "closing kafka sink")
		}
	}
	return a.registry.Close()
}
