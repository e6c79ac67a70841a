package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/robfig/cron/v3"

	"github.com/coldstore-io/coldstore/internal/metrics"
)

func runDaemon(args []string) {
	fs := flag.NewFlagSet("daemon", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	metricsAddr := fs.String("metrics-addr", "", "Override metrics endpoint address (e.g., :9090)")

	fs.Usage = func() {
		fmt.Println(`Usage: coldstored daemon [options]

Run archival and lifecycle sweeps on the configured cron schedules and
serve prometheus metrics.

Options:`)
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatal("failed to load config: %v", err)
	}
	if *metricsAddr != "" {
		cfg.Observability.MetricsAddr = *metricsAddr
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg)
	if err != nil {
		fatal("failed to initialize: %v", err)
	}
	defer app.Close()

	srv := metrics.NewServer(cfg.Observability.MetricsAddr)
	if err := srv.Start(); err != nil {
		fatal("failed to start metrics server: %v", err)
	}
	defer srv.Close()
	app.log.Infof("metrics server listening", map[string]any{"addr": srv.Addr()})

	exportMetrics := metrics.NewExportMetrics()
	lifecycleMetrics := metrics.NewLifecycleMetrics()

	// A sweep that is still running when its next tick fires is skipped,
	// not queued.
	var archiveMu, lifecycleMu sync.Mutex

	sched := cron.New()
	_, err = sched.AddFunc(cfg.Scheduler.ArchiveCron, func() {
		if !archiveMu.TryLock() {
			app.log.Warn("archival sweep still running, skipping tick")
			return
		}
		defer archiveMu.Unlock()
		if err := archiveSweep(ctx, app, exportMetrics, ""); err != nil {
			app.log.Errorf("scheduled archival sweep failed", map[string]any{"error": err.Error()})
		}
	})
	if err != nil {
		fatal("invalid archive cron %q: %v", cfg.Scheduler.ArchiveCron, err)
	}

	_, err = sched.AddFunc(cfg.Scheduler.LifecycleCron, func() {
		if !lifecycleMu.TryLock() {
			app.log.Warn("lifecycle pass still running, skipping tick")
			return
		}
		defer lifecycleMu.Unlock()
		res, err := lifecycleSweep(ctx, app, lifecycleMetrics, lifecycleOptions(app, "", false), nil)
		if err != nil {
			app.log.Errorf("scheduled lifecycle pass failed", map[string]any{
				"result": res.String(),
				"error":  err.Error(),
			})
			return
		}
		app.log.Infof("scheduled lifecycle pass complete", map[string]any{"result": res.String()})
	})
	if err != nil {
		fatal("invalid lifecycle cron %q: %v", cfg.Scheduler.LifecycleCron, err)
	}

	sched.Start()
	app.log.Infof("daemon started", map[string]any{
		"archive_cron":   cfg.Scheduler.ArchiveCron,
		"lifecycle_cron": cfg.Scheduler.LifecycleCron,
	})

	<-ctx.Done()
	app.log.Info("shutting down")

	// Stop scheduling new sweeps, then wait for in-flight ones.
	stopCtx := sched.Stop()
	<-stopCtx.Done()
	archiveMu.Lock()
	lifecycleMu.Lock()
	app.log.Info("daemon shutdown complete")
}
