package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/mesa-analytics/mesa/internal/config"
	"github.com/mesa-analytics/mesa/internal/migrations"
	"github.com/mesa-analytics/mesa/internal/query"
	"github.com/mesa-analytics/mesa/internal/refresh"
	"github.com/mesa-analytics/mesa/internal/rollup"
	"github.com/mesa-analytics/mesa/internal/server"
	"github.com/mesa-analytics/mesa/internal/storage/postgres"
)

func main() {
	configPath := flag.String("config", "mesa.yaml", "Path to configuration file")
	flag.Parse()

	// 0. Initialize Logger
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// 1. Load Configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	defaults, err := cfg.Rollups.Defaults()
	if err != nil {
		slog.Error("Invalid rollup cadence configuration", "error", err)
		os.Exit(1)
	}
	stopTimeout, err := cfg.Rollups.ParsedStopTimeout()
	if err != nil {
		slog.Error("Invalid scheduler stop timeout", "error", err)
		os.Exit(1)
	}

	// 2. Initialize Storage (PostgreSQL)
	dbAdapter, err := postgres.NewAdapter(
		cfg.Database.DSN,
		cfg.Database.MaxOpenConns,
		cfg.Database.MaxIdleConns,
	)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer dbAdapter.Close()

	// 2.1. Run Database Migrations
	if err := migrations.Run(dbAdapter.DB(), cfg.Database.AutoMigrate); err != nil {
		slog.Error("Failed to run database migrations", "error", err)
		os.Exit(1)
	}

	// 3. Build the Rollup Registry: built-in catalog first, then any file
	// definitions, which replace built-ins by name.
	registry := rollup.NewRegistry(cfg.Rollups.Strict)
	for _, def := range rollup.BuiltinDefinitions(defaults) {
		if err := registry.Register(def); err != nil {
			slog.Error("Failed to register built-in rollup", "rollup", def.Name, "error", err)
			os.Exit(1)
		}
	}
	fileDefs, err := rollup.LoadDir(cfg.Rollups.ConfigDir, defaults)
	if err != nil {
		slog.Error("Failed to load rollup definitions", "dir", cfg.Rollups.ConfigDir, "error", err)
		os.Exit(1)
	}
	for _, def := range fileDefs {
		if err := registry.Register(def); err != nil {
			slog.Error("Failed to register rollup", "rollup", def.Name, "error", err)
			os.Exit(1)
		}
	}
	slog.Info("Rollup registry initialized",
		"builtin", len(rollup.BuiltinDefinitions(defaults)),
		"from_files", len(fileDefs),
		"strict", cfg.Rollups.Strict,
	)

	// 4. Initialize Refresh Pipeline
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector())

	factSource := postgres.NewFactSource(dbAdapter.DB())
	snapshotStore := postgres.NewSnapshotStore(dbAdapter.DB())
	sink := refresh.Sinks{refresh.LogSink{}, refresh.NewMetricsSink(promRegistry)}
	executor := refresh.NewExecutor(registry, factSource, snapshotStore, sink)
	scheduler := refresh.NewScheduler(registry, executor, stopTimeout)

	// 5. Initialize Query API
	querySvc := query.NewService(registry, snapshotStore, executor, executor)

	// 6. Initialize Server
	srv := server.New(fmtAddr(cfg.Server.Host, cfg.Server.Port), dbAdapter.DB(), cfg.Server.Mode, promRegistry)
	querySvc.RegisterRoutes(srv.Engine)

	// 7. Start Services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Rollups.SchedulerEnabled {
		scheduler.Start()
	} else {
		slog.Info("Refresh scheduler disabled by config")
	}

	// Signal handler triggers the shutdown sequence below.
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
		<-quit
		slog.Info("Signal received, shutting down...")
		cancel()
	}()

	// HTTP server blocks until ctx is cancelled.
	if err := srv.Run(ctx); err != nil {
		slog.Error("Server stopped with error", "error", err)
	}

	// In-flight refreshes run to completion before exit.
	scheduler.Stop()
	slog.Info("Shutdown complete")
}

func fmtAddr(host string, port int) string {
	return fmt.Sprintf("%s:%d", host, port)
}
