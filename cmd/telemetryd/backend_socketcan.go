//go:build linux

package main

import (
	"fmt"
	"log/slog"

	"github.com/evdash/telemetryd/internal/can"
	"github.com/evdash/telemetryd/internal/socketcan"
)

// openSocketCANDevice is a hook for tests (overridden in unit tests).
var openSocketCANDevice = func(iface string, cfg socketcan.Config) (can.Bus, error) {
	return socketcan.Open(iface, cfg)
}

// initSocketCANBackend opens the raw CAN socket with the inbound ID filter
// and a bounded read so shutdown latency stays within one timeout window.
func initSocketCANBackend(cfg *appConfig, l *slog.Logger) (can.Bus, func(), error) {
	dev, err := openSocketCANDevice(cfg.canIf, socketcan.Config{
		FilterIDs:   cfg.inboundIDs(),
		ReadTimeout: cfg.readTimeout,
	})
	if err != nil {
		return nil, func() {}, fmt.Errorf("socketcan open %s: %w", cfg.canIf, err)
	}
	l.Info("socketcan_open", "if", cfg.canIf, "read_timeout", cfg.readTimeout, "filter_ids", len(cfg.inboundIDs()))
	return dev, func() {}, nil
}
