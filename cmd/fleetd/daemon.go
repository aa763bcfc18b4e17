package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vmfleet/fleetd/internal/backend"
	"github.com/vmfleet/fleetd/internal/cache"
	"github.com/vmfleet/fleetd/internal/cloudhypervisor"
	"github.com/vmfleet/fleetd/internal/config"
	"github.com/vmfleet/fleetd/internal/desiredstate"
	"github.com/vmfleet/fleetd/internal/firecracker"
	"github.com/vmfleet/fleetd/internal/httpapi"
	"github.com/vmfleet/fleetd/internal/logging"
	"github.com/vmfleet/fleetd/internal/mockdriver"
	"github.com/vmfleet/fleetd/internal/metrics"
	"github.com/vmfleet/fleetd/internal/observability"
	"github.com/vmfleet/fleetd/internal/poolmgr"
	"github.com/vmfleet/fleetd/internal/proxy"
	"github.com/vmfleet/fleetd/internal/reconciler"
)

var (
	httpAddr    string
	backendFlag string
	dbPath      string
	desiredFile string
)

func daemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the fleetd control plane",
		RunE:  runDaemon,
	}

	cmd.Flags().StringVar(&httpAddr, "http-addr", "", "override the HTTP listen address")
	cmd.Flags().StringVar(&backendFlag, "backend", "", "override the hypervisor backend (firecracker, cloud_hypervisor, mock)")
	cmd.Flags().StringVar(&dbPath, "db-path", "", "override the desired state sqlite path")
	cmd.Flags().StringVar(&desiredFile, "desired-file", "", "override the YAML bootstrap file path")

	return cmd
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfig()
	config.LoadFromEnv(cfg)

	if httpAddr != "" {
		cfg.Daemon.HTTPAddr = httpAddr
	}
	if backendFlag != "" {
		cfg.Backend = backendFlag
	}
	if dbPath != "" {
		cfg.Daemon.DBPath = dbPath
	}
	if desiredFile != "" {
		cfg.Daemon.DesiredStateFile = desiredFile
	}

	logging.SetLevelFromString(cfg.Daemon.LogLevel)
	log := logging.Op().With("component", "daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := observability.Init(ctx, observability.Config{
		Enabled:     cfg.Tracing.Enabled,
		Exporter:    cfg.Tracing.Exporter,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRate:  cfg.Tracing.SampleRate,
	}); err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.Shutdown(context.Background())

	if cfg.Metrics.Enabled {
		metrics.Init(cfg.Metrics.Namespace)
	}

	driver, err := newDriver(cfg)
	if err != nil {
		return fmt.Errorf("init driver: %w", err)
	}
	log.Info("driver ready", "backend", driver.Name())

	store, err := desiredstate.Open(cfg.Daemon.DBPath)
	if err != nil {
		return fmt.Errorf("open desired state store: %w", err)
	}
	defer store.Close()

	if err := store.Bootstrap(ctx, cfg.Daemon.DesiredStateFile); err != nil {
		log.Warn("bootstrap failed", "err", err)
	}

	pool := poolmgr.New(driver, proxy.NoopRegistrar{})
	recon := reconciler.New(store, pool, cfg.Daemon.ReconcileInterval)
	go recon.Run(ctx)

	var statsCache cache.Cache = cache.NoopCache{}
	if cfg.Cache.Enabled {
		rc := cache.NewRedisCache(cache.RedisCacheConfig{Addr: cfg.Cache.Addr, DB: cfg.Cache.DB})
		defer rc.Close()
		statsCache = rc
	}
	api := httpapi.NewServerWithCache(store, pool, statsCache)
	httpServer := &http.Server{
		Addr:    cfg.Daemon.HTTPAddr,
		Handler: observability.HTTPMiddleware(api),
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("http server listening", "addr", cfg.Daemon.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serveErr:
		log.Error("http server failed", "err", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown did not complete cleanly", "err", err)
	}
	return nil
}

func newDriver(cfg *config.Config) (backend.Driver, error) {
	switch cfg.Backend {
	case "firecracker":
		return firecracker.NewManager(cfg.Firecracker)
	case "cloud_hypervisor":
		return cloudhypervisor.NewDriver(cfg.CloudHypervisor)
	case "mock":
		return mockdriver.New(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}
}
