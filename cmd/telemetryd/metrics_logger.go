package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/evdash/telemetryd/internal/metrics"
)

func startMetricsLogger(ctx context.Context, interval time.Duration, l *slog.Logger, wg *sync.WaitGroup) {
	if interval <= 0 {
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				snap := metrics.Snap()
				l.Info("metrics_snapshot",
					"rx", snap.Rx,
					"tx", snap.Tx,
					"updates", snap.Updates,
					"malformed", snap.Malformed,
					"unknown_id", snap.UnknownID,
					"sink_drops", snap.SinkDrops,
					"status_cycles", snap.Cycles,
					"probe_errors", snap.ProbeErrors,
					"log_errors", snap.LogErrors,
					"errors", snap.Errors,
				)
			case <-ctx.Done():
				return
			}
		}
	}()
}
