package main

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/evdash/telemetryd/internal/can"
	"github.com/evdash/telemetryd/internal/codec"
)

// initLoopbackBackend provides an in-memory bus for development without CAN
// hardware. With --loopback-sim a peer endpoint synthesizes plausible
// telemetry frames so the whole pipeline can be exercised end to end.
func initLoopbackBackend(ctx context.Context, cfg *appConfig, l *slog.Logger, wg *sync.WaitGroup) (can.Bus, func(), error) {
	bus := can.NewLoopbackBus()
	ep := bus.Open()
	l.Info("loopback_open", "sim", cfg.loopbackSim)
	if cfg.loopbackSim {
		peer := bus.Open()
		wg.Add(1)
		go func() {
			defer wg.Done()
			runLoopbackSim(ctx, cfg, peer)
		}()
	}
	// Closing the bus unblocks the ingest loop's in-flight receive.
	return ep, func() { _ = bus.Close() }, nil
}

// runLoopbackSim emits a slow sine sweep across the inbound frame types.
func runLoopbackSim(ctx context.Context, cfg *appConfig, peer can.Bus) {
	t := time.NewTicker(500 * time.Millisecond)
	defer t.Stop()
	var phase float64
	for {
		select {
		case <-t.C:
			phase += 0.1
			wave := math.Sin(phase)

			env := codec.EncodeFloat32Pair(float32(21+3*wave), float32(15+5*wave))
			fr, _ := can.NewFrame(cfg.ids.EnvFrameID, env[:])
			_ = peer.Send(fr)

			speed := codec.EncodeFloat32LE(float32(0.5+0.5*wave) * cfg.ids.MaxSpeedMPS)
			fr, _ = can.NewFrame(cfg.ids.SpeedFrameID, speed[:])
			_ = peer.Send(fr)

			soc := make([]byte, 8)
			soc[cfg.ids.SOCByteOffset] = byte(60 + 20*wave)
			fr, _ = can.NewFrame(cfg.ids.SOCFrameID, soc)
			_ = peer.Send(fr)
		case <-ctx.Done():
			return
		}
	}
}
