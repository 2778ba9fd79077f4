package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/systemshift/graphedit/internal/codec"
	"github.com/systemshift/graphedit/internal/config"
	"github.com/systemshift/graphedit/internal/server/api"
	"github.com/systemshift/graphedit/internal/server/editor"
	"github.com/systemshift/graphedit/internal/server/graph"
	"github.com/systemshift/graphedit/internal/server/metrics"
	"github.com/systemshift/graphedit/internal/server/subscriptions"
)

func main() {
	cfg, path, err := config.Load()
	if err != nil {
		slog.Error("loading configuration", "path", path, "error", err)
		os.Exit(1)
	}
	logger, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		slog.Error("configuring logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)
	if path != "" {
		logger.Info("loaded configuration", "path", path)
	}

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	// Initialize graph backend
	backend, err := graph.Open(ctx, cfg.GraphConfig())
	if err != nil {
		return err
	}
	store := graph.NewStore(backend, cfg.StoreOptions(), logger)
	defer store.Close(ctx)
	logger.Info("graph store ready", "backend", cfg.Store.Backend, "content_graph", store.ContentGraph())

	m := metrics.NewMetrics()
	m.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: "graphedit",
		Subsystem: "store",
		Name:      "graphs_loaded",
		Help:      "Number of graphs held in memory.",
	}, func() float64 { return float64(store.Loaded()) }))

	codecs := codec.Default(cfg.CodecLimits())
	edOpts := []editor.Option{
		editor.WithLimits(cfg.MatchLimits()),
		editor.WithMetrics(m),
		editor.WithLogger(logger),
	}

	// Initialize subscription manager
	var subMgr *subscriptions.Manager
	if cfg.Subscriptions.Enabled {
		notifier := subscriptions.NewNotifier(logger,
			subscriptions.WithRetry(cfg.Subscriptions.RetryAttempts, cfg.Subscriptions.RetryBackoff.Duration()),
			subscriptions.WithHTTPClient(&http.Client{Timeout: cfg.Subscriptions.Timeout.Duration()}),
		)
		subMgr = subscriptions.NewManager(backend, logger,
			subscriptions.WithNotifier(notifier),
			subscriptions.WithMetrics(m),
			subscriptions.WithQueueSize(cfg.Subscriptions.QueueSize),
		)
		if err := subMgr.Start(ctx); err != nil {
			return err
		}
		defer subMgr.Stop()

		store.SetEventEmitter(subMgr.GetEmitter())
		edOpts = append(edOpts, editor.WithEmitter(subMgr.GetEmitter()))
	}

	ed := editor.New(store, codecs, edOpts...)
	apiServer := api.New(ed, store, codecs, subMgr, m, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      apiServer.Routes(middleware.Logger),
		ReadTimeout:  cfg.Server.ReadTimeout.Duration(),
		WriteTimeout: cfg.Server.WriteTimeout.Duration(),
		IdleTimeout:  cfg.Server.IdleTimeout.Duration(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting graphedit server", "addr", "http://localhost:"+cfg.Server.Port+"/editor/")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	logger.Info("server exited")
	return nil
}
