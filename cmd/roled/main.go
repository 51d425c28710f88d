// Command roled rebuilds facility role grants and serves the permission API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/platinummonkey/facilityrbac/pkg/config"
	"github.com/platinummonkey/facilityrbac/pkg/derive"
	"github.com/platinummonkey/facilityrbac/pkg/observability"
	"github.com/platinummonkey/facilityrbac/pkg/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var version = "dev"

var (
	runOnce     = flag.Bool("run-once", false, "Rebuild derived roles once and exit")
	fixturePath = flag.String("fixture", "", "YAML fixture to load (overrides ROLED_FIXTURE_PATH)")
	watch       = flag.Bool("watch", false, "Reload the fixture and rebuild whenever it changes (memory storage only)")
	seed        = flag.Bool("seed", false, "Import the fixture into PostgreSQL before starting")
	migrate     = flag.Bool("migrate", true, "Apply database migrations on startup (postgres storage only)")
)

func main() {
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	cfg, err := config.LoadConfig()
	if err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	if *fixturePath != "" {
		cfg.Storage.FixturePath = *fixturePath
	}
	if *watch {
		cfg.Storage.WatchFixture = true
	}
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("Invalid configuration")
	}
	if *seed && (cfg.Storage.Type != storage.TypePostgres || cfg.Storage.FixturePath == "") {
		log.Fatal("-seed requires postgres storage and a fixture")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithFields(logrus.Fields{
		"version": version,
		"storage": cfg.Storage.Type,
	}).Info("Starting roled")

	if err := run(ctx, cfg, log); err != nil {
		log.WithError(err).Fatal("roled stopped with an error")
	}
	log.Info("roled stopped")
}

func run(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout).WithField("service", "roled")
	ctx = observability.WithLogger(ctx, logger)

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize OpenTelemetry: %w", err)
	}

	registry := prometheus.NewRegistry()
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metrics = observability.NewMetrics(registry)
	}
	otelMetrics, err := observability.NewOTelMetrics()
	if err != nil {
		return fmt.Errorf("failed to create OpenTelemetry instruments: %w", err)
	}

	be, err := openBackend(ctx, cfg, backendOptions{migrate: *migrate, seed: *seed, metrics: metrics}, logger)
	if err != nil {
		return err
	}

	checker := observability.NewHealthChecker(be.db, be.redis, version)
	checker.TrackRebuilds(cfg.Rebuild.StaleAfter)

	engine := derive.NewEngine(be.store, derive.EngineConfig{
		Locker:      be.locker,
		Logger:      logger,
		Metrics:     metrics,
		OTelMetrics: otelMetrics,
		OnRebuild: append(be.hooks, func(_ context.Context, result *derive.RebuildResult) {
			checker.RecordRebuild(result.StartedAt.Add(result.Duration))
		}),
	})

	if *runOnce {
		defer be.Close()
		defer observability.ShutdownOTel(context.WithoutCancel(ctx), providers, logger)
		return rebuildOnce(ctx, engine, cfg.Rebuild.Timeout, log)
	}

	if cfg.Rebuild.RunOnStartup {
		if err := rebuildOnce(ctx, engine, cfg.Rebuild.Timeout, log); err != nil && !errors.Is(err, derive.ErrRebuildInProgress) {
			log.WithError(err).Warn("Initial rebuild failed, serving previous roles")
		}
	}

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      newAPIRouter(engine, be.reader, metrics, logger, cfg.Rebuild.Timeout, cfg.Server.WriteTimeout),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	healthServer := &http.Server{
		Addr:        net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:     newHealthMux(checker, registry),
		ReadTimeout: 5 * time.Second,
	}

	var scheduler *derive.Scheduler
	if cfg.Rebuild.Schedule != "" {
		scheduler, err = derive.NewScheduler(engine, cfg.Rebuild.Schedule, cfg.Rebuild.Timeout, logger)
		if err != nil {
			be.Close()
			return err
		}
		scheduler.Start()
		log.WithField("schedule", cfg.Rebuild.Schedule).Info("Scheduled role rebuilds")
	}

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)
	shutdown.AddServer(apiServer)
	shutdown.AddServer(healthServer)
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		if scheduler == nil {
			return nil
		}
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return fmt.Errorf("scheduled rebuild still running: %w", ctx.Err())
		}
	})
	shutdown.RegisterShutdownFunc(func(context.Context) error { return be.Close() })
	shutdown.RegisterShutdownFunc(func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return serve(apiServer, log, "api") })
	g.Go(func() error { return serve(healthServer, log, "health") })
	if cfg.Storage.WatchFixture && be.memory != nil {
		g.Go(func() error {
			return watchFixture(gctx, cfg.Storage.FixturePath, be.memory, engine, cfg.Rebuild.Timeout, logger)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down gracefully")
		return shutdown.Shutdown(context.Background())
	})

	return g.Wait()
}

func serve(server *http.Server, log *logrus.Logger, name string) error {
	log.WithFields(logrus.Fields{"server": name, "addr": server.Addr}).Info("Listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server failed: %w", name, err)
	}
	return nil
}

func rebuildOnce(ctx context.Context, engine *derive.Engine, timeout time.Duration, log *logrus.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result, err := engine.Rebuild(ctx)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"run_id":      result.RunID,
		"rows":        result.RowsWritten,
		"diagnostics": len(result.Diagnostics),
		"duration":    result.Duration,
	}).Info("Role rebuild completed")
	return nil
}
