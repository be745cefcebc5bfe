//
// Tencent is pleased to support the open source community by making trpc-agent-studio available.
//
// Copyright (C) 2025 Tencent.  All rights reserved.
//
// trpc-agent-studio is licensed under the Apache License Version 2.0.
//
//

// Package main runs the studio API: it loads the configuration, opens the
// entity and checkpoint stores and serves HTTP until interrupted.
//
// Usage:
//
//	studio -config studio.yaml
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/mattn/go-sqlite3" // Checkpoint database driver.
	"github.com/prometheus/client_golang/prometheus"

	"trpc.group/trpc-go/trpc-agent-studio/agent/builder"
	"trpc.group/trpc-go/trpc-agent-studio/agent/cache"
	"trpc.group/trpc-go/trpc-agent-studio/config"
	"trpc.group/trpc-go/trpc-agent-studio/entity/gormstore"
	"trpc.group/trpc-go/trpc-agent-studio/graph"
	"trpc.group/trpc-go/trpc-agent-studio/graph/checkpoint/inmemory"
	"trpc.group/trpc-go/trpc-agent-studio/graph/checkpoint/redis"
	"trpc.group/trpc-go/trpc-agent-studio/graph/checkpoint/sqlite"
	"trpc.group/trpc-go/trpc-agent-studio/history"
	"trpc.group/trpc-go/trpc-agent-studio/log"
	"trpc.group/trpc-go/trpc-agent-studio/runner"
	"trpc.group/trpc-go/trpc-agent-studio/server"
	"trpc.group/trpc-go/trpc-agent-studio/telemetry/metric"
	"trpc.group/trpc-go/trpc-agent-studio/telemetry/trace"
	"trpc.group/trpc-go/trpc-agent-studio/thread"
)

func main() {
	var path string
	flag.StringVar(&path, "config", "studio.yaml", "Path to the YAML config file")
	flag.Parse()

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	log.SetLevel(cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg); err != nil {
		log.Fatalf("studio: %v", err)
	}
}

// run serves until ctx ends, then drains runs and releases every resource.
func run(ctx context.Context, cfg *config.Config) error {
	if cfg.Telemetry.TracesEndpoint != "" || cfg.Telemetry.TracesURL != "" {
		clean, err := trace.Start(ctx,
			trace.WithEndpoint(cfg.Telemetry.TracesEndpoint),
			trace.WithEndpointURL(cfg.Telemetry.TracesURL),
			trace.WithProtocol(cfg.Telemetry.Protocol),
			trace.WithServiceName(cfg.Telemetry.ServiceName))
		if err != nil {
			return err
		}
		defer logClose("tracer", clean)
	}
	if cfg.Telemetry.MetricsEndpoint != "" {
		clean, err := metric.Start(ctx,
			metric.WithEndpoint(cfg.Telemetry.MetricsEndpoint),
			metric.WithProtocol(cfg.Telemetry.Protocol))
		if err != nil {
			return err
		}
		defer logClose("meter", clean)
	}
	metrics := metric.NewCollector(metric.DefaultNamespace, prometheus.DefaultRegisterer)

	db, err := gormstore.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return err
	}
	store, err := gormstore.New(db)
	if err != nil {
		return err
	}
	defer logClose("entity store", store.Close)

	saver, err := openSaver(cfg.Checkpoint)
	if err != nil {
		return err
	}
	defer logClose("checkpoint store", saver.Close)

	b := builder.New(
		builder.WithCheckpointSaver(saver),
		builder.WithParallelism(cfg.Builder.Parallelism),
		builder.WithMaxSteps(cfg.Builder.MaxSteps),
		builder.WithMetrics(metrics),
	)
	graphs := cache.New(store, b, cache.WithStamper(store), cache.WithMetrics(metrics))
	store.OnChange(graphs.Invalidate)
	defer logClose("graph cache", graphs.Close)

	threads := thread.New(
		thread.WithDeleteHook(saver.DeleteLineage),
		thread.WithSweepInterval(cfg.Threads.SweepInterval),
		thread.WithMetrics(metrics),
	)
	if err := threads.Start(); err != nil {
		return err
	}
	defer threads.Stop()

	runs := runner.New(threads, graphs, runner.WithMetrics(metrics))
	srv := server.New(store, threads, runs, history.New(threads, saver),
		server.WithMetrics(metrics, prometheus.DefaultGatherer),
		server.WithCORSOrigins(cfg.Server.CORSOrigins...),
		server.WithStreamDelay(cfg.Server.StreamDelay),
		server.WithPublicURL(cfg.Server.PublicURL),
	)

	httpServer := &http.Server{Addr: cfg.Server.Addr, Handler: srv.Handler()}
	errCh := make(chan error, 1)
	go func() {
		log.Infof("studio listening on %s", cfg.Server.Addr)
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := runs.Shutdown(shutdownCtx); err != nil {
		log.Warnf("runs did not settle: %v", err)
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// openSaver opens the configured checkpoint backend.
func openSaver(cfg config.CheckpointConfig) (graph.CheckpointSaver, error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return inmemory.NewSaver(), nil
	case config.BackendSQLite:
		db, err := sql.Open("sqlite3", cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("open checkpoint database: %w", err)
		}
		saver, err := sqlite.NewSaver(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		return saver, nil
	case config.BackendRedis:
		return redis.NewSaver(redis.WithRedisClientURL(cfg.URL), redis.WithKeyPrefix(cfg.KeyPrefix))
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

func logClose(what string, closeFn func() error) {
	if err := closeFn(); err != nil {
		log.Warnf("close %s: %v", what, err)
	}
}
