package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eugener/warden/internal/app"
	"github.com/eugener/warden/internal/cache"
	"github.com/eugener/warden/internal/config"
	"github.com/eugener/warden/internal/fetch"
	"github.com/eugener/warden/internal/notify"
	"github.com/eugener/warden/internal/policy"
	"github.com/eugener/warden/internal/retry"
	"github.com/eugener/warden/internal/server"
	"github.com/eugener/warden/internal/storage/sqlite"
	"github.com/eugener/warden/internal/strategy"
	"github.com/eugener/warden/internal/telemetry"
	"github.com/eugener/warden/internal/worker"
)

func run(configPath string) error {
	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	slog.Info("starting warden", "version", version, "addr", cfg.Server.Addr)

	// Open database
	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()

	// Telemetry
	var metrics *telemetry.Metrics
	var metricsHandler http.Handler
	if cfg.Telemetry.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		metrics = telemetry.NewMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, version, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer shutdown(context.Background())
	}

	// Outbound client
	fetchClient := fetch.NewClient(fetch.Options{
		Timeout:   cfg.Upstream.Timeout,
		AuthToken: cfg.Upstream.AuthToken,
		Metrics:   metrics,
	})

	// Interception pipeline
	queue := retry.NewQueue(store, fetchClient, cfg.Retry.MaxAttempts, metrics)
	executor := strategy.New(fetchClient, metrics)
	ctrl := app.NewController(app.Deps{
		Manager:    cache.NewManager(cfg.Cache.MaxEntries),
		Classifier: policy.New(cfg.Routes.Rules()),
		Executor:   executor,
		Fetch:      fetchClient,
		Queue:      queue,
		Versions:   store,
		Metrics:    metrics,
	})

	// Install the configured version, precaching its manifest.
	manifest := make([]string, len(cfg.Install.Manifest))
	for i, u := range cfg.Install.Manifest {
		manifest[i] = resolveURL(cfg.Upstream.BaseURL, u)
	}
	if err := ctrl.Install(ctx, cfg.Install.Version, manifest, cfg.Install.SkipWaiting); err != nil {
		return err
	}

	// Notifications
	clients := notify.NewClientRegistry()
	dispatcher := notify.NewDispatcher(notify.LogSurface(), clients, metrics)

	// Background workers
	trigger := make(chan struct{}, 1)
	runner := worker.NewRunner(
		worker.NewRetryDrainer(queue, trigger),
		worker.NewFetchJanitor(fetchClient, 0),
	)
	workerCtx, stopWorkers := context.WithCancel(ctx)
	defer stopWorkers()
	workerErr := make(chan error, 1)
	go func() { workerErr <- runner.Run(workerCtx) }()

	// Create HTTP server
	handler := server.New(server.Deps{
		Lifecycle:      ctrl,
		Queue:          queue,
		RetryTrigger:   trigger,
		Dispatcher:     dispatcher,
		Clients:        clients,
		ReadyCheck:     store.Ping,
		Metrics:        metrics,
		MetricsHandler: metricsHandler,
		Upstream:       cfg.Upstream.BaseURL,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("warden ready", "addr", cfg.Server.Addr, "state", ctrl.State().String())

	// Wait for signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	case err := <-workerErr:
		return err
	}

	// Shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	stopWorkers()
	<-workerErr

	// Background revalidations detach from request contexts; wait so none
	// is abandoned mid-write.
	executor.Wait()

	slog.Info("warden stopped")
	return nil
}

// resolveURL joins a manifest path with the upstream base, leaving
// already-absolute URLs untouched.
func resolveURL(base, u string) string {
	if strings.HasPrefix(u, "http://") || strings.HasPrefix(u, "https://") {
		return u
	}
	return strings.TrimSuffix(base, "/") + u
}
