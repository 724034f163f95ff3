package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evanofslack/dns-prefix-sync/internal/config"
	"github.com/evanofslack/dns-prefix-sync/internal/logger"
	"github.com/evanofslack/dns-prefix-sync/internal/metrics"
	"github.com/evanofslack/dns-prefix-sync/internal/provider/cloudflare"
	"github.com/evanofslack/dns-prefix-sync/internal/reconcile"
	"github.com/evanofslack/dns-prefix-sync/internal/scheduler"
	"github.com/evanofslack/dns-prefix-sync/internal/server"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	once := flag.Bool("once", false, "run a single reconciliation and exit")
	flag.Parse()

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	logger.Configure(cfg.Log.Level, cfg.Log.Env)

	if err := cfg.Validate(); err != nil {
		slog.Error("Invalid config", "error", err)
		os.Exit(1)
	}

	metrics := metrics.New(true)

	cf, err := cloudflare.New(cfg.Cloudflare, cfg.Retry, metrics)
	if err != nil {
		slog.Error("Failed to initialize DNS provider", "error", err)
		os.Exit(1)
	}

	engine, err := reconcile.NewEngine(cf, cfg, metrics)
	if err != nil {
		slog.Error("Failed to initialize reconciler", "error", err)
		os.Exit(1)
	}

	if *once {
		runOnce(engine, metrics)
		return
	}

	slog.Info("Starting dns-prefix-sync service",
		"record", cfg.Cloudflare.RecordName,
		"prefixes", len(cfg.Prefixes),
		"target", cfg.TargetCount(),
		"dryRun", cfg.DryRun)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv := server.New(cfg.Server.Address, cfg.Server.Secret, engine, metrics)
	go func() {
		if err := srv.Start(); err != nil {
			slog.Error("HTTP server failed", "error", err)
			cancel()
		}
	}()

	sched := scheduler.New(engine, metrics, cfg.Interval, cfg.RunOnStart)
	stopped := make(chan struct{})
	go func() {
		sched.Run(ctx)
		close(stopped)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		slog.Info("Shutdown signal received")
	case <-ctx.Done():
	}
	cancel()

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// wait for the loop and any run it dispatched
	<-stopped
	sched.Wait()
	slog.Info("Service shutdown complete")
}

func runOnce(engine reconcile.Engine, metrics *metrics.Metrics) {
	results, err := reconcile.Observe(context.Background(), engine, metrics, "once")
	if err != nil {
		slog.Error("Run failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Run completed",
		"deleted", results.Deleted,
		"updated", results.Updated,
		"created", results.Created,
		"errors", results.Errors,
		"dryRun", results.DryRun)
}
