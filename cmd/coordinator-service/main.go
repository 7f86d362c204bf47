// coordinator-service is the HTTP API server for triggering and tracking
// batch job executions.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"coordinator/internal/aggregator"
	"coordinator/internal/api"
	"coordinator/internal/config"
	"coordinator/internal/coordinator"
	"coordinator/internal/dispatcher"
	"coordinator/internal/health"
	"coordinator/internal/job"
	"coordinator/internal/jobs"
	"coordinator/internal/observability"
	"coordinator/internal/store"
)

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	if err := run(); err != nil {
		slog.Error("Service failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx := context.Background()

	svcCfg := config.LoadServiceConfig()
	coordCfg := config.LoadCoordinatorConfig()
	dispatcherCfg := dispatcher.LoadConfigFromEnv()

	metrics, metricsHandler, err := observability.NewMetrics(ctx)
	if err != nil {
		return err
	}

	db, err := store.Open(ctx, store.Config{Path: svcCfg.StorePath})
	if err != nil {
		return err
	}
	defer db.Close()
	executionStore := store.New(db)

	if abandoned, err := executionStore.AbandonOrphaned(ctx); err != nil {
		slog.Warn("failed to abandon orphaned executions at startup", "error", err)
	} else if abandoned > 0 {
		slog.Info("abandoned orphaned executions from a previous run", "count", abandoned)
	}

	eventDispatcher := dispatcher.NewMemory(dispatcherCfg, metrics)

	publisher := job.NewEventPublisher(eventDispatcher, coordCfg.Channels, "coordinator-service", svcCfg.APIKey)
	runner := job.NewRunner(executionStore, publisher, metrics)

	registry := job.NewRegistry()
	aggEngine := aggregator.New(executionStore)
	// No external gateway is configured for this deployment; jobs that read
	// from or write to external systems fall back to their synthetic paths.
	if err := jobs.Register(registry, aggEngine, nil, coordCfg.StreamingFlush, coordCfg.AggregationDepth); err != nil {
		return err
	}

	coord := coordinator.New(registry, executionStore, runner, metrics, coordCfg.WorkerPoolSize, coordCfg.QueueTimeout)

	healthChecker := health.NewChecker(executionStore)

	router := api.NewRouter(api.RouterConfig{
		Coordinator:   coord,
		Metrics:       metrics,
		HealthChecker: healthChecker,
		APIKey:        svcCfg.APIKey,
	})

	if svcCfg.APIKey != "" {
		slog.Info("API authentication enabled")
	} else {
		slog.Warn("API authentication disabled - no API_KEY configured")
	}

	apiServer := &http.Server{
		Addr:         ":" + svcCfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("GET /metrics", metricsHandler)
	metricsServer := &http.Server{
		Addr:         ":" + svcCfg.MetricsPort,
		Handler:      metricsMux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)

	go func() {
		slog.Info("Starting API server", "port", svcCfg.Port)
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	go func() {
		slog.Info("Starting metrics server", "port", svcCfg.MetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	shutdown := func(timeout time.Duration) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := apiServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("API server shutdown error", "error", err)
		}
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Metrics server shutdown error", "error", err)
		}
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		slog.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErr:
		slog.Error("Server failed to start", "error", err)
		shutdown(5 * time.Second)
		return err
	}

	// Phase 1: mark unhealthy so the load balancer stops routing new triggers.
	healthChecker.SetShuttingDown()
	if svcCfg.ShutdownDrainWait > 0 {
		slog.Info("Waiting for traffic to drain", "duration", svcCfg.ShutdownDrainWait)
		time.Sleep(svcCfg.ShutdownDrainWait)
	}

	// Phase 2: stop accepting new connections, finish in-flight HTTP requests.
	slog.Info("Starting graceful shutdown")
	shutdown(25 * time.Second)

	// Phase 3: let running pipeline invocations finish, then drain the
	// lifecycle event dispatcher.
	slog.Info("Draining coordinator worker pool")
	coordCtx, coordCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer coordCancel()
	if err := coord.Close(coordCtx); err != nil {
		slog.Warn("Coordinator shutdown error", "error", err)
	}

	slog.Info("Draining event dispatcher")
	dispatcherCtx, dispatcherCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dispatcherCancel()
	if err := eventDispatcher.Close(dispatcherCtx); err != nil {
		slog.Warn("Dispatcher shutdown error", "error", err)
	}

	stats := eventDispatcher.Stats()
	slog.Info("Dispatcher stats",
		"delivered", stats.Delivered,
		"failed", stats.Failed,
		"dropped", stats.Dropped,
	)

	slog.Info("Shutdown complete")
	return nil
}
