package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/evdash/telemetryd/internal/can"
)

// initBackend opens the configured bus. The returned cleanup tears down
// anything beyond the bus handle itself; the ingest loop owns and closes the
// handle it is given.
func initBackend(ctx context.Context, cfg *appConfig, l *slog.Logger, wg *sync.WaitGroup) (can.Bus, func(), error) {
	switch cfg.backend {
	case "socketcan":
		return initSocketCANBackend(cfg, l)
	case "loopback":
		return initLoopbackBackend(ctx, cfg, l, wg)
	default:
		return nil, func() {}, fmt.Errorf("unknown backend %q (use socketcan|loopback)", cfg.backend)
	}
}
