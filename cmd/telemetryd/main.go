package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/evdash/telemetryd/internal/framelog"
	"github.com/evdash/telemetryd/internal/hoststatus"
	"github.com/evdash/telemetryd/internal/ingest"
	"github.com/evdash/telemetryd/internal/metrics"
	"github.com/evdash/telemetryd/internal/telemetry"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("telemetryd %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	flog, err := framelog.Open(cfg.frameLogPath)
	if err != nil {
		l.Error("framelog_open_error", "path", cfg.frameLogPath, "error", err)
		os.Exit(1)
	}
	defer flog.Close()
	l.Info("framelog_open", "path", cfg.frameLogPath)

	bus, cleanup, berr := initBackend(ctx, cfg, l, &wg)
	if berr != nil {
		l.Error("backend_init_error", "error", berr)
		os.Exit(1)
	}

	sink := telemetry.NewChanSink(cfg.sinkBuffer)
	router := startForeground(ctx, sink, l, &wg)

	loop := ingest.NewLoop(bus, telemetry.NewDispatcher(cfg.ids),
		ingest.WithSink(sink),
		ingest.WithFrameLog(flog),
		ingest.WithSampler(hoststatus.New(cfg.measureCmd, flog)),
		ingest.WithStatusFrameID(cfg.ids.StatusFrameID),
		ingest.WithStatusInterval(cfg.statusInterval),
		ingest.WithLogger(l),
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		loop.Run(ctx)
	}()

	metrics.SetReadinessFunc(func() bool {
		return ctx.Err() == nil && loop.State() == ingest.StateRunning
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	// Signal watcher: stand-in for the physical page button and the UI
	// shutdown request.
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)
	for s := range sigCh {
		if s == syscall.SIGUSR1 {
			l.Info("page_switch", "page", router.Switch().String())
			continue
		}
		l.Info("shutdown_signal", "signal", s.String())
		break
	}
	loop.Stop()
	cancel()
	cleanup()
	<-loop.Done()
	wg.Wait()
}
