package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"quickdrop/internal/server/api"
	"quickdrop/internal/server/config"
	"quickdrop/internal/server/database"
	"quickdrop/internal/server/metrics"
	"quickdrop/internal/server/service"
	"quickdrop/internal/server/storage"
)

func main() {
	// Structured logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "quickdrop-server",
		Short: "Ephemeral file drop server",
		Long: `quickdrop-server stores uploaded files under a six character code and serves
them back as a single zip archive until the drop expires.

Configuration is read from the environment and an optional .env file.`,
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newServeCmd(), newPurgeCmd())
	return rootCmd
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server, reaper and metrics aggregator",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return serve()
		},
	}
}

func newPurgeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge",
		Short: "Delete expired drops once and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			store := storage.NewFileSystemStore(cfg.StoragePath)
			n, err := storage.NewReaper(store, cfg.ReapInterval, cfg.OrphanGrace, nil).PurgeExpired(cmd.Context())
			if err != nil {
				return fmt.Errorf("purge failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "purged %d drop(s)\n", n)
			return nil
		},
	}
}

func serve() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		return err
	}
	slog.Info("configuration loaded",
		"port", cfg.Port,
		"storage_path", cfg.StoragePath,
		"max_upload_size", humanize.Bytes(uint64(cfg.MaxUploadSize)),
		"default_ttl_hours", cfg.DefaultTTLHours,
		"metrics_sink", cfg.MetricsSink,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize storage
	store := storage.NewFileSystemStore(cfg.StoragePath, storage.WithMaxAllocAttempts(cfg.MaxAllocAttempts))
	if err := store.EnsureDir(); err != nil {
		slog.Error("failed to initialize storage", "error", err)
		return err
	}
	slog.Info("file storage initialized", "path", cfg.StoragePath)

	// Metrics sink, falling back to none when the backend is unreachable
	sink, closeSink := openSink(ctx, cfg)
	defer closeSink()

	agg := metrics.NewAggregator(sink.sink, store, nil,
		metrics.WithQueueSize(cfg.MetricsQueueSize),
		metrics.WithInterval(cfg.MetricsRecomputeInterval),
	)
	agg.Start(ctx)

	// Start reaper
	reaper := storage.NewReaper(store, cfg.ReapInterval, cfg.OrphanGrace, agg)
	reaper.Start(ctx)

	// Setup HTTP router
	svc := service.NewDropService(store, agg, cfg)
	handler := api.NewHandler(svc, cfg.MaxUploadSize, sink.checks...)
	e := api.SetupRouter(ctx, handler, cfg, sink.handler)

	// Start server in a goroutine
	go func() {
		addr := fmt.Sprintf(":%s", cfg.Port)
		slog.Info("starting server", "addr", addr, "base_url", cfg.BaseURL)
		if err := e.Start(addr); err != nil {
			slog.Info("server stopped", "reason", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	slog.Info("shutting down", "signal", sig)

	// Stop accepting new requests, finish in-flight with 30s timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
	}

	// Stop background workers
	cancel()
	reaper.Wait()
	agg.Wait()

	slog.Info("server exited cleanly")
	return nil
}

type sinkSetup struct {
	sink    metrics.Sink
	checks  []api.HealthCheck
	handler http.Handler
}

func openSink(ctx context.Context, cfg *config.Config) (sinkSetup, func()) {
	noop := sinkSetup{sink: metrics.NoopSink{}}

	switch cfg.MetricsSink {
	case config.SinkPostgres:
		db, err := database.New(ctx, cfg.DatabaseURL)
		if err != nil {
			slog.Warn("metrics database unavailable, metrics disabled", "error", err)
			return noop, func() {}
		}
		if err := db.RunMigrations(ctx); err != nil {
			slog.Warn("metrics migrations failed, metrics disabled", "error", err)
			db.Close()
			return noop, func() {}
		}
		return sinkSetup{
			sink:   metrics.NewPostgresSink(database.NewRepository(db)),
			checks: []api.HealthCheck{{Name: "metrics_sink", Check: db.HealthCheck}},
		}, db.Close

	case config.SinkRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		sink := metrics.NewRedisSink(rdb)
		if err := sink.Ping(ctx); err != nil {
			slog.Warn("metrics redis unavailable, metrics disabled", "addr", cfg.RedisAddr, "error", err)
			rdb.Close()
			return noop, func() {}
		}
		slog.Info("connected to metrics redis", "addr", cfg.RedisAddr)
		return sinkSetup{
			sink:   sink,
			checks: []api.HealthCheck{{Name: "metrics_sink", Check: sink.Ping}},
		}, func() { rdb.Close() }

	case config.SinkPrometheus:
		reg := prometheus.NewRegistry()
		return sinkSetup{
			sink:    metrics.NewPrometheusSink(reg),
			handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		}, func() {}

	default:
		return noop, func() {}
	}
}
